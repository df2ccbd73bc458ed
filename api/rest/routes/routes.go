package routes

import (
	"net/http"

	"dock-orchestrator/api/rest/handlers"
	"dock-orchestrator/core/monitoring"
	"dock-orchestrator/core/timing"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, monitor *monitoring.Monitor, reporter *timing.Reporter) {
	statusHandler := handlers.NewStatusHandler(monitor, reporter)

	api := r.PathPrefix("/v1").Subrouter()
	api.MethodNotAllowedHandler = MethodNotAllowedHandler()

	// Status endpoints, all read-only
	api.HandleFunc("/campaign", statusHandler.GetCampaign).Methods("GET")
	api.HandleFunc("/tasks", statusHandler.ListTasks).Methods("GET")
	api.HandleFunc("/timing", statusHandler.GetTiming).Methods("GET")
}

// MethodNotAllowedHandler rejects non-GET requests on known paths. The
// API is strictly read-only.
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}
