package v1

import (
	"ampd/internal/automation"
	"ampd/internal/mountplan"
)

// CreateSessionRequest opens a new session. The mount plan may be given
// inline or resolved from a discovered profile.
type CreateSessionRequest struct {
	ProfileID string          `json:"profile_id,omitempty"`
	Plan      *mountplan.Plan `json:"plan,omitempty"`
}

// MessageRequest carries one user message.
type MessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse acknowledges a background execution.
type SendMessageResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// ApprovalRequest answers a pending tool approval.
type ApprovalRequest struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// AutomationRequest creates or updates an automation.
type AutomationRequest struct {
	ProjectID string                    `json:"project_id"`
	Name      string                    `json:"name"`
	Message   string                    `json:"message"`
	Schedule  automation.ScheduleConfig `json:"schedule"`
	Enabled   *bool                     `json:"enabled,omitempty"`
}

// ToggleRequest flips an automation's enabled state.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ModulesResponse lists the factories a mount plan can reference.
type ModulesResponse struct {
	Providers    []string `json:"providers"`
	BuiltinTools []string `json:"builtin_tools"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
