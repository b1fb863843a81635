package ws

import (
	"encoding/json"
	"fmt"
)

// Message types on the lesson progress channel.
const (
	TypeAuth               = "auth"
	TypeAuthSuccess        = "auth_success"
	TypeGenerateAudio      = "generate_audio"
	TypeStatusUpdate       = "status_update"
	TypeGenerationComplete = "generation_complete"
	TypeError              = "error"
)

// Envelope is every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type StatusPayload struct {
	StepCode string `json:"step_code"`
	Message  string `json:"message"`
}

type ErrorPayload struct {
	StepCode string `json:"step_code,omitempty"`
	Message  string `json:"message"`
}

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// decodeEnvelope requires the frame to be of type want and decodes its
// payload into dst.
func decodeEnvelope(data []byte, want string, dst any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}
	if env.Type != want {
		return fmt.Errorf("expected %q message, got %q", want, env.Type)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", want)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", want, err)
	}
	return nil
}

// State is the session's position in the protocol.
type State int

const (
	StateConnecting State = iota
	StateAwaitingAuth
	StateAuthenticated
	StateAwaitingRequest
	StateGenerating
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	StateConnecting:      "connecting",
	StateAwaitingAuth:    "awaiting_auth",
	StateAuthenticated:   "authenticated",
	StateAwaitingRequest: "awaiting_request",
	StateGenerating:      "generating",
	StateCompleted:       "completed",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}
