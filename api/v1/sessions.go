package v1

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"ampd/internal/mountplan"
)

// HandleCreateSession opens a session from an inline plan or a
// discovered profile.
func (r *Router) HandleCreateSession(w http.ResponseWriter, req *http.Request) {
	var body CreateSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		SendError(w, http.StatusUnprocessableEntity, "invalid JSON body", err.Error())
		return
	}

	plan := body.Plan
	if plan == nil && body.ProfileID != "" && r.profiles != nil {
		if p, ok := r.profiles.Get(body.ProfileID); ok {
			plan = p.Plan
		} else {
			SendError(w, http.StatusBadRequest, "unknown profile", body.ProfileID)
			return
		}
	}

	sess, err := r.sessions.Create(body.ProfileID, plan)
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, sess)
}

// HandleListSessions returns all sessions, newest first.
func (r *Router) HandleListSessions(w http.ResponseWriter, req *http.Request) {
	sessions, err := r.sessions.List()
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, sessions)
}

// HandleGetSession returns one session's metadata.
func (r *Router) HandleGetSession(w http.ResponseWriter, req *http.Request) {
	sess, err := r.sessions.Get(mux.Vars(req)["id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, sess)
}

// HandleGetTranscript returns the persisted transcript.
func (r *Router) HandleGetTranscript(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if _, err := r.sessions.Get(id); err != nil {
		WriteError(w, err)
		return
	}
	entries, err := r.sessions.Transcript(id)
	if err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, entries)
}

// HandleAppendMessage persists a user message without executing.
func (r *Router) HandleAppendMessage(w http.ResponseWriter, req *http.Request) {
	body, ok := decodeMessage(w, req)
	if !ok {
		return
	}
	if err := r.sessions.AppendUserMessage(mux.Vars(req)["id"], body.Content); err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

// HandleSendMessage starts a background execution and returns 202.
// Progress flows to /stream subscribers.
func (r *Router) HandleSendMessage(w http.ResponseWriter, req *http.Request) {
	body, ok := decodeMessage(w, req)
	if !ok {
		return
	}
	id := mux.Vars(req)["id"]
	if err := r.sessions.SendMessage(req.Context(), id, body.Content); err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusAccepted, SendMessageResponse{Status: "executing", SessionID: id})
}

// HandleExecute runs one turn with the response body as the SSE stream.
func (r *Router) HandleExecute(w http.ResponseWriter, req *http.Request) {
	body, ok := decodeMessage(w, req)
	if !ok {
		return
	}
	id := mux.Vars(req)["id"]

	sub, err := r.sessions.ExecuteSync(req.Context(), id, body.Content)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer r.sessions.Unsubscribe(id, sub)

	sse, err := newSSEWriter(w)
	if err != nil {
		SendError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	for {
		select {
		case <-req.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := sse.Write(ev); err != nil {
				log.Debug().Err(err).Str("session_id", id).Msg("sse write failed")
				return
			}
			if terminal(ev) {
				return
			}
		}
	}
}

// HandleSessionStream attaches a persistent SSE subscriber to the
// session. The stream stays open until the client disconnects.
func (r *Router) HandleSessionStream(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	sub, err := r.sessions.Subscribe(id)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer r.sessions.Unsubscribe(id, sub)

	sse, err := newSSEWriter(w)
	if err != nil {
		SendError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	for {
		select {
		case <-req.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := sse.Write(ev); err != nil {
				return
			}
		}
	}
}

// HandleResolveApproval answers a pending approval request surfaced on
// the session stream as an approval:required event.
func (r *Router) HandleResolveApproval(w http.ResponseWriter, req *http.Request) {
	var body ApprovalRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		SendError(w, http.StatusUnprocessableEntity, "invalid JSON body", err.Error())
		return
	}
	vars := mux.Vars(req)
	if err := r.sessions.ResolveApproval(vars["id"], vars["request_id"], body.Granted, body.Reason); err != nil {
		WriteError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// decodeMessage reads and validates a MessageRequest body.
func decodeMessage(w http.ResponseWriter, req *http.Request) (MessageRequest, bool) {
	var body MessageRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		SendError(w, http.StatusUnprocessableEntity, "invalid JSON body", err.Error())
		return body, false
	}
	if body.Content == "" {
		SendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "validation failed",
			ValidationErrors: []mountplan.FieldError{
				{Loc: "content", Msg: "content is required", Type: "missing"},
			},
		})
		return body, false
	}
	return body, true
}
