package v1

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"ampd/internal/automation"
	"ampd/internal/mountplan"
)

// HandleListAutomations lists automations, optionally scoped to one
// project via ?project_id=.
func (r *Router) HandleListAutomations(w http.ResponseWriter, req *http.Request) {
	list, err := r.automations.List(req.URL.Query().Get("project_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, list)
}

// HandleCreateAutomation persists a new automation and arms its
// trigger when enabled.
func (r *Router) HandleCreateAutomation(w http.ResponseWriter, req *http.Request) {
	body, ok := decodeAutomation(w, req)
	if !ok {
		return
	}

	a := &automation.Automation{
		ProjectID: body.ProjectID,
		Name:      body.Name,
		Message:   body.Message,
		Schedule:  body.Schedule,
		Enabled:   body.Enabled == nil || *body.Enabled,
	}
	if err := r.automations.Create(a); err != nil {
		WriteError(w, err)
		return
	}
	if r.scheduler != nil {
		r.scheduler.Schedule(a)
	}
	SendJSON(w, http.StatusCreated, a)
}

// HandleGetAutomation returns one automation.
func (r *Router) HandleGetAutomation(w http.ResponseWriter, req *http.Request) {
	a, err := r.automations.Get(mux.Vars(req)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, a)
}

// HandleUpdateAutomation rewrites an automation and rearms its trigger.
func (r *Router) HandleUpdateAutomation(w http.ResponseWriter, req *http.Request) {
	body, ok := decodeAutomation(w, req)
	if !ok {
		return
	}

	a, err := r.automations.Get(mux.Vars(req)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}

	a.ProjectID = body.ProjectID
	a.Name = body.Name
	a.Message = body.Message
	a.Schedule = body.Schedule
	if body.Enabled != nil {
		a.Enabled = *body.Enabled
	}
	if err := r.automations.Update(a); err != nil {
		WriteError(w, err)
		return
	}
	if r.scheduler != nil {
		r.scheduler.Schedule(a)
	}
	SendJSON(w, http.StatusOK, a)
}

// HandleDeleteAutomation disarms and removes an automation together
// with its execution history.
func (r *Router) HandleDeleteAutomation(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if r.scheduler != nil {
		r.scheduler.Unschedule(id)
	}
	if err := r.automations.Delete(id); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleToggleAutomation flips the enabled flag and arms or disarms
// the trigger accordingly.
func (r *Router) HandleToggleAutomation(w http.ResponseWriter, req *http.Request) {
	var body ToggleRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		SendError(w, http.StatusUnprocessableEntity, "invalid JSON body", err.Error())
		return
	}

	a, err := r.automations.SetEnabled(mux.Vars(req)["id"], body.Enabled)
	if err != nil {
		WriteError(w, err)
		return
	}
	if r.scheduler != nil {
		r.scheduler.Schedule(a)
	}
	SendJSON(w, http.StatusOK, a)
}

// HandleAutomationHistory returns the execution records, oldest first.
func (r *Router) HandleAutomationHistory(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if _, err := r.automations.Get(id); err != nil {
		WriteError(w, err)
		return
	}
	records, err := r.automations.Executions(id)
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, records)
}

// decodeAutomation reads and validates an AutomationRequest body.
func decodeAutomation(w http.ResponseWriter, req *http.Request) (AutomationRequest, bool) {
	var body AutomationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		SendError(w, http.StatusUnprocessableEntity, "invalid JSON body", err.Error())
		return body, false
	}

	var fields []mountplan.FieldError
	if body.Name == "" {
		fields = append(fields, mountplan.FieldError{Loc: "name", Msg: "name is required", Type: "missing"})
	}
	if body.Message == "" {
		fields = append(fields, mountplan.FieldError{Loc: "message", Msg: "message is required", Type: "missing"})
	}
	if err := body.Schedule.Validate(); err != nil {
		fields = append(fields, mountplan.FieldError{Loc: "schedule", Msg: err.Error(), Type: "value_error"})
	}
	if len(fields) > 0 {
		SendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:            "validation failed",
			ValidationErrors: fields,
		})
		return body, false
	}
	return body, true
}
