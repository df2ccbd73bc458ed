package models

import "time"

// Campaign is one end-to-end docking run over a ligand set. It owns all
// batches, task records and results under its shared-filesystem root.
// Created at submission time and only removed by explicit cleanup.
type Campaign struct {
	ID           string    `json:"id"`
	ReceptorPath string    `json:"receptor_path,omitempty"`
	CavityPath   string    `json:"cavity_path,omitempty"`
	LigandPath   string    `json:"ligand_path"`
	BatchSize    int       `json:"batch_size"`
	BatchCount   int       `json:"batch_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Batch is a contiguous slice of the ligand list packaged with the files
// the engine needs. Index is 0-based and stable for the life of the
// campaign; re-partitioning the same input reproduces the same membership.
type Batch struct {
	Index       int    `json:"index"`
	MemberCount int    `json:"member_count"`
	ArchivePath string `json:"archive_path"`
	// MemberIDs are the ligand identifiers in input order.
	MemberIDs []string `json:"member_ids"`
	// ContentHash is a digest of the batch's ligand content, used for the
	// skip-if-unchanged check on re-partition.
	ContentHash string `json:"content_hash"`
}

// ResultRecord is one scored outcome produced by a task. Immutable once
// written.
type ResultRecord struct {
	LigandID string  `json:"ligand_id"`
	Score    float64 `json:"score"`
	PoseFile string  `json:"pose_file"`
	Batch    int     `json:"batch"`
}
