package model

import "time"

// Error codes returned in API error envelopes. The HTTP layer maps domain
// errors onto these so callers can branch without string matching.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInvalidCron   = "INVALID_CRON"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries per-response metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthTokenRequest is the body of POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response of POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StartExecutionRequest is the body of POST /v1/executions.
type StartExecutionRequest struct {
	ScenarioID string   `json:"scenario_id"`
	AgentPaws  []string `json:"agent_paws,omitempty"`
	SafeMode   bool     `json:"safe_mode"`
}

// ScheduleRequest is the body of POST /v1/schedules and PUT /v1/schedules/{id}.
type ScheduleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	ScenarioID  string            `json:"scenario_id"`
	AgentPaw    string            `json:"agent_paw,omitempty"`
	Frequency   ScheduleFrequency `json:"frequency"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	SafeMode    bool              `json:"safe_mode"`
	StartAt     *time.Time        `json:"start_at,omitempty"`
}
