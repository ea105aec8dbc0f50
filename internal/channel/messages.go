package channel

import "encoding/json"

// Message types sent by agents.
const (
	TypeRegister   = "register"
	TypeHeartbeat  = "heartbeat"
	TypeTaskResult = "task_result"
)

// Message types sent by the server.
const (
	TypeRegistered = "registered"
	TypeTask       = "task"
	TypeTaskAck    = "task_ack"
	TypeEvent      = "event"
)

// Envelope is the framing for every websocket message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload value in an envelope.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// RegisterPayload is the first message an agent must send after connecting.
type RegisterPayload struct {
	Paw       string   `json:"paw"`
	Hostname  string   `json:"hostname,omitempty"`
	Username  string   `json:"username,omitempty"`
	Platform  string   `json:"platform"`
	Executors []string `json:"executors"`
}

// RegisteredPayload acknowledges a successful registration.
type RegisteredPayload struct {
	Status string `json:"status"`
	Paw    string `json:"paw"`
}

// TaskResultPayload reports the outcome of a dispatched task.
type TaskResultPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

// TaskAckPayload confirms receipt of a task result. Status is "accepted" or
// "discarded" (late or duplicate result).
type TaskAckPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// EventPayload is a server push to dashboard subscribers.
type EventPayload struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
