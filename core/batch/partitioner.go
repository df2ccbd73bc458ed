package batch

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dock-orchestrator/config"
	"dock-orchestrator/core/models"
)

// InputConflictError reports that an existing batch archive has different
// membership than the freshly computed partition. This signals a corrupted
// or mismatched resume; other batches are unaffected.
type InputConflictError struct {
	BatchIndex int
	Reason     string
}

func (e *InputConflictError) Error() string {
	return fmt.Sprintf("batch %d: input conflict: %s", e.BatchIndex, e.Reason)
}

// archiveEpoch is the fixed timestamp used for archive members so that
// re-partitioning identical input produces byte-identical archives.
var archiveEpoch = time.Unix(0, 0)

// Partitioner splits the ligand set into fixed-size batches and packages
// each batch with the receptor, cavity and rendered engine configuration
// into one self-contained tar.gz work unit.
type Partitioner struct {
	engine     config.EngineConfig
	stagingDir string
	log        *logrus.Logger
}

// NewPartitioner creates a partitioner staging archives into stagingDir.
func NewPartitioner(engine config.EngineConfig, stagingDir string, log *logrus.Logger) *Partitioner {
	return &Partitioner{engine: engine, stagingDir: stagingDir, log: log}
}

// Partition reads the ligand set and writes one archive per batch.
// It is deterministic and idempotent: re-running with identical inputs
// reproduces identical batch membership and archive bytes. Archives whose
// membership already matches are left untouched; a mismatch fails that
// batch with an InputConflictError.
func (p *Partitioner) Partition() ([]*models.Batch, error) {
	if p.engine.BatchSize <= 0 {
		return nil, &config.Error{Key: "engine.batch_size", Reason: "must be a positive integer"}
	}
	structures, err := ReadStructures(p.engine.LigandPath)
	if err != nil {
		return nil, err
	}
	if len(structures) == 0 {
		return nil, &config.Error{Key: "engine.ligand_path", Reason: "no ligand structures found"}
	}
	confTemplate, err := p.loadConfTemplate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.stagingDir, 0o755); err != nil {
		return nil, err
	}

	size := p.engine.BatchSize
	count := (len(structures) + size - 1) / size
	batches := make([]*models.Batch, 0, count)
	for i := 0; i < count; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(structures) {
			hi = len(structures)
		}
		b, err := p.writeBatch(i, structures[lo:hi], confTemplate)
		if err != nil {
			return batches, err
		}
		batches = append(batches, b)
	}
	p.log.WithFields(logrus.Fields{
		"ligands": len(structures),
		"batches": count,
	}).Info("partitioned ligand set")
	return batches, nil
}

func (p *Partitioner) loadConfTemplate() (string, error) {
	if p.engine.ConfTemplate == "" {
		return "", &config.Error{Key: "engine.conf_template", Reason: "required"}
	}
	raw, err := os.ReadFile(p.engine.ConfTemplate)
	if err != nil {
		return "", &config.Error{Key: "engine.conf_template", Reason: err.Error()}
	}
	tmpl := string(raw)
	if !strings.Contains(tmpl, "{ligand_data_file}") {
		return "", &config.Error{
			Key:    "engine.conf_template",
			Reason: "missing the {ligand_data_file} replacement field",
		}
	}
	return tmpl, nil
}

// ArchiveName returns the archive file name for a batch index.
func ArchiveName(index int) string {
	return fmt.Sprintf("batch_%06d.tar.gz", index)
}

func manifestName(index int) string {
	return fmt.Sprintf("batch_%06d.manifest.json", index)
}

// manifest is the persisted membership record used by the
// skip-if-unchanged check.
type manifest struct {
	Index       int      `json:"index"`
	MemberIDs   []string `json:"member_ids"`
	ContentHash string   `json:"content_hash"`
}

func (p *Partitioner) writeBatch(index int, members []Structure, confTemplate string) (*models.Batch, error) {
	ids := make([]string, len(members))
	hash := sha256.New()
	for i, m := range members {
		ids[i] = m.ID
		for _, line := range m.Lines {
			hash.Write([]byte(line))
			hash.Write([]byte{'\n'})
		}
	}
	digest := hex.EncodeToString(hash.Sum(nil))

	archivePath := filepath.Join(p.stagingDir, ArchiveName(index))
	manifestPath := filepath.Join(p.stagingDir, manifestName(index))

	if _, err := os.Stat(archivePath); err == nil {
		existing, err := readManifest(manifestPath)
		if err != nil {
			return nil, &InputConflictError{BatchIndex: index,
				Reason: fmt.Sprintf("archive exists but membership cannot be verified: %v", err)}
		}
		if existing.ContentHash != digest || !equalIDs(existing.MemberIDs, ids) {
			return nil, &InputConflictError{BatchIndex: index,
				Reason: "existing archive membership differs from computed partition"}
		}
		p.log.WithField("batch", index).Debug("archive up to date, skipping")
		return &models.Batch{
			Index:       index,
			MemberCount: len(members),
			ArchivePath: archivePath,
			MemberIDs:   ids,
			ContentHash: digest,
		}, nil
	}

	if err := p.writeArchive(archivePath, index, members, confTemplate); err != nil {
		return nil, fmt.Errorf("write batch %d: %w", index, err)
	}
	m := manifest{Index: index, MemberIDs: ids, ContentHash: digest}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{"batch": index, "ligands": len(members)}).Info("created batch archive")
	return &models.Batch{
		Index:       index,
		MemberCount: len(members),
		ArchivePath: archivePath,
		MemberIDs:   ids,
		ContentHash: digest,
	}, nil
}

func readManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// writeArchive produces the work unit: the batch ligand file, the receptor
// and cavity files, and the engine configuration rendered from the
// template. Member timestamps are fixed so output is reproducible.
func (p *Partitioner) writeArchive(path string, index int, members []Structure, confTemplate string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)

	ligandName := fmt.Sprintf("batch_%06d%s", index, members[0].Ext)
	var ligand strings.Builder
	for _, m := range members {
		for _, line := range m.Lines {
			ligand.WriteString(line)
			ligand.WriteByte('\n')
		}
	}
	if err := writeTarFile(tw, ligandName, []byte(ligand.String())); err != nil {
		return err
	}

	conf := renderConf(confTemplate, ligandName, p.engine.ReceptorPath, p.engine.CavityPath)
	if err := writeTarFile(tw, "engine.conf", []byte(conf)); err != nil {
		return err
	}

	for _, aux := range []string{p.engine.ReceptorPath, p.engine.CavityPath} {
		if aux == "" {
			continue
		}
		data, err := os.ReadFile(aux)
		if err != nil {
			return fmt.Errorf("auxiliary file: %w", err)
		}
		if err := writeTarFile(tw, filepath.Base(aux), data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// renderConf substitutes the template's replacement fields with the
// archive-relative file names.
func renderConf(tmpl, ligand, receptor, cavity string) string {
	out := strings.ReplaceAll(tmpl, "{ligand_data_file}", ligand)
	if receptor != "" {
		out = strings.ReplaceAll(out, "{protein_data_file}", filepath.Base(receptor))
	}
	if cavity != "" {
		out = strings.ReplaceAll(out, "{cavity_data_file}", filepath.Base(cavity))
	}
	return out
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: archiveEpoch,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Unpack extracts a batch archive into dir, which must already exist.
func Unpack(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.Base(hdr.Name)
		if name == "." || name == "/" || name == "" {
			continue
		}
		out, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := out.ReadFrom(tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}
