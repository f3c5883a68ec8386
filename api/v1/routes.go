// Package v1 exposes the daemon's REST and streaming surface.
package v1

import (
	"net/http"

	"github.com/gorilla/mux"

	"ampd/internal/automation"
	"ampd/internal/mountplan"
	"ampd/internal/profile"
	"ampd/internal/session"
)

// RouterDeps holds dependencies for the v1 API router.
type RouterDeps struct {
	Sessions    *session.Manager
	Hub         *session.Hub
	Automations *automation.Store
	Scheduler   *automation.Scheduler
	Profiles    *profile.Registry
	Loader      *mountplan.Loader
	Version     string
}

// Router wraps v1 API dependencies.
type Router struct {
	sessions    *session.Manager
	hub         *session.Hub
	automations *automation.Store
	scheduler   *automation.Scheduler
	profiles    *profile.Registry
	loader      *mountplan.Loader
	version     string
}

// NewRouter creates a v1 router.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		sessions:    deps.Sessions,
		hub:         deps.Hub,
		automations: deps.Automations,
		scheduler:   deps.Scheduler,
		profiles:    deps.Profiles,
		loader:      deps.Loader,
		version:     deps.Version,
	}
}

// RegisterRoutes registers all v1 routes on the given router.
func (r *Router) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Health
	v1.HandleFunc("/health", r.HandleHealth).Methods(http.MethodGet)

	// Sessions
	v1.HandleFunc("/sessions", r.HandleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", r.HandleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", r.HandleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/messages", r.HandleGetTranscript).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/messages", r.HandleAppendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/execute", r.HandleExecute).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/send", r.HandleSendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/stream", r.HandleSessionStream).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/approvals/{request_id}", r.HandleResolveApproval).Methods(http.MethodPost)

	// Global event stream
	v1.HandleFunc("/events", r.HandleGlobalEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/ws", r.HandleGlobalEventsWS).Methods(http.MethodGet)

	// Automations
	v1.HandleFunc("/automations", r.HandleListAutomations).Methods(http.MethodGet)
	v1.HandleFunc("/automations", r.HandleCreateAutomation).Methods(http.MethodPost)
	v1.HandleFunc("/automations/{id}", r.HandleGetAutomation).Methods(http.MethodGet)
	v1.HandleFunc("/automations/{id}", r.HandleUpdateAutomation).Methods(http.MethodPut)
	v1.HandleFunc("/automations/{id}", r.HandleDeleteAutomation).Methods(http.MethodDelete)
	v1.HandleFunc("/automations/{id}/toggle", r.HandleToggleAutomation).Methods(http.MethodPost)
	v1.HandleFunc("/automations/{id}/executions", r.HandleAutomationHistory).Methods(http.MethodGet)

	// Discovery
	v1.HandleFunc("/modules", r.HandleListModules).Methods(http.MethodGet)
	v1.HandleFunc("/profiles", r.HandleListProfiles).Methods(http.MethodGet)
}

// HandleHealth reports daemon liveness.
func (r *Router) HandleHealth(w http.ResponseWriter, req *http.Request) {
	SendJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: r.version})
}
