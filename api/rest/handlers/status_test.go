package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dock-orchestrator/core/models"
	"dock-orchestrator/core/monitoring"
	"dock-orchestrator/core/statestore"
	"dock-orchestrator/core/timing"
)

func testRouter(t *testing.T) *mux.Router {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.SaveCampaign(&models.Campaign{ID: "c1", BatchCount: 2, BatchSize: 2000, CreatedAt: time.Now()}))

	started := time.Now().Add(-time.Hour)
	require.NoError(t, store.PutTask(&models.Task{
		BatchIndex: 0, Generation: 1, State: models.TaskStateCompleted,
		QueuedAt: started.Add(-time.Minute), StartedAt: started, EndedAt: started.Add(30 * time.Minute),
	}))
	require.NoError(t, store.PutTask(&models.Task{
		BatchIndex: 1, Generation: 1, State: models.TaskStateQueued, QueuedAt: time.Now(),
	}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	h := NewStatusHandler(monitoring.NewMonitor(store, nil, log), timing.NewReporter(store))

	// Mirrors routes.SetupRoutes, which cannot be imported from here.
	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	api.HandleFunc("/campaign", h.GetCampaign).Methods("GET")
	api.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	api.HandleFunc("/timing", h.GetTiming).Methods("GET")
	return r
}

func TestGetCampaign(t *testing.T) {
	r := testRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/campaign", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	campaign := resp["campaign"].(map[string]interface{})
	assert.Equal(t, "c1", campaign["id"])
	progress := resp["progress"].(map[string]interface{})
	assert.Equal(t, float64(1), progress["completed"])
	assert.Equal(t, float64(2), progress["total"])
}

func TestListTasks(t *testing.T) {
	r := testRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/tasks", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []map[string]interface{} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "completed", resp.Items[0]["state"])
	assert.Equal(t, "unknown", resp.Items[1]["live_status"])
}

func TestGetTiming(t *testing.T) {
	r := testRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/timing", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["measured"])
	runTime := resp["run_time"].(map[string]interface{})
	assert.Equal(t, "30m0s", runTime["mean"])
}

func TestMethodNotAllowed(t *testing.T) {
	r := testRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/campaign", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
