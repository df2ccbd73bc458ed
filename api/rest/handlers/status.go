package handlers

import (
	"encoding/json"
	"net/http"

	"dock-orchestrator/core/monitoring"
	"dock-orchestrator/core/timing"
)

// StatusHandler handles campaign status HTTP requests. Every endpoint is
// read-only: requests never mutate task records or scheduler state.
type StatusHandler struct {
	monitor  *monitoring.Monitor
	reporter *timing.Reporter
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(monitor *monitoring.Monitor, reporter *timing.Reporter) *StatusHandler {
	return &StatusHandler{monitor: monitor, reporter: reporter}
}

// GetCampaign handles GET /v1/campaign
func (h *StatusHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	snap, err := h.monitor.Snapshot(r.Context(), "")
	if err != nil {
		http.Error(w, "Failed to read campaign state: "+err.Error(), http.StatusInternalServerError)
		return
	}

	completed, total := snap.Progress()
	response := map[string]interface{}{
		"campaign": map[string]interface{}{
			"id":          snap.Campaign.ID,
			"batch_count": snap.Campaign.BatchCount,
			"batch_size":  snap.Campaign.BatchSize,
			"created_at":  snap.Campaign.CreatedAt,
		},
		"progress": map[string]interface{}{
			"completed": completed,
			"total":     total,
		},
		"counts":   snap.Counts,
		"taken_at": snap.TakenAt,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListTasks handles GET /v1/tasks
func (h *StatusHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")

	snap, err := h.monitor.Snapshot(r.Context(), jobID)
	if err != nil {
		http.Error(w, "Failed to read task state: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(snap.Tasks))
	for i, ts := range snap.Tasks {
		item := map[string]interface{}{
			"batch":      ts.Task.BatchIndex,
			"generation": ts.Task.Generation,
			"state":      ts.Task.State,
			"job_id":     ts.Task.ArrayJobID,
			"queued_at":  ts.Task.QueuedAt,
			"started_at": ts.Task.StartedAt,
			"ended_at":   ts.Task.EndedAt,
		}
		if ts.LiveStatus != "" {
			item["live_status"] = ts.LiveStatus
		}
		if ts.Task.Diagnostic != "" {
			item["diagnostic"] = ts.Task.Diagnostic
		}
		items[i] = item
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
	})
}

// GetTiming handles GET /v1/timing
func (h *StatusHandler) GetTiming(w http.ResponseWriter, r *http.Request) {
	report, err := h.reporter.Report()
	if err != nil {
		http.Error(w, "Failed to derive timing: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"measured":   len(report.Tasks),
		"untimed":    report.Untimed,
		"queue_wait": statsItem(report.QueueWait),
		"run_time":   statsItem(report.RunTime),
		"wall_clock": report.WallClock.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func statsItem(s timing.Stats) map[string]interface{} {
	top := make([]string, len(s.Top))
	for i, d := range s.Top {
		top[i] = d.String()
	}
	return map[string]interface{}{
		"count":  s.Count,
		"sum":    s.Sum.String(),
		"mean":   s.Mean.String(),
		"median": s.Median.String(),
		"stddev": s.Stddev.String(),
		"top":    top,
	}
}
