package entities

import (
	"errors"
	"strings"
	"time"
)

// SessionState represents the lifecycle state of a relay session.
type SessionState string

const (
	// SessionStateStarting means the upstream connection is being established
	// and configured. Client audio received in this state is queued.
	SessionStateStarting SessionState = "starting"

	// SessionStateReady means the upstream session is configured and audio
	// flows in both directions.
	SessionStateReady SessionState = "ready"

	// SessionStateClosing means an end signal was received and the session is
	// draining the final upstream response before closing.
	SessionStateClosing SessionState = "closing"

	// SessionStateClosed is terminal.
	SessionStateClosed SessionState = "closed"
)

// DeviceIdentity is the validated identity behind a bearer credential.
type DeviceIdentity struct {
	DeviceID string
	UserID   string
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one prior exchange replayed to the upstream provider
// as seed context when a session starts.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks that a turn can be replayed upstream.
func (t ConversationTurn) Validate() error {
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return errors.New("invalid turn role")
	}
	if t.Content == "" {
		return errors.New("turn content is required")
	}
	return nil
}

// CapHistory bounds replayed history to the most recent max turns, dropping
// the oldest ones. A non-positive max disables replay entirely.
func CapHistory(turns []ConversationTurn, max int) []ConversationTurn {
	if max <= 0 {
		return nil
	}
	if len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

// SessionInfo carries the immutable attributes of a relay session.
type SessionInfo struct {
	ConversationID string
	Device         DeviceIdentity
	CreatedAt      time.Time
}

// TranscriptState accumulates partial transcript deltas for the AI turn
// currently in flight. It is reset when a new turn starts.
type TranscriptState struct {
	builder strings.Builder
}

// Append adds a transcript fragment to the in-flight turn.
func (t *TranscriptState) Append(delta string) {
	t.builder.WriteString(delta)
}

// Text returns the transcript accumulated so far.
func (t *TranscriptState) Text() string {
	return t.builder.String()
}

// Reset discards the in-flight transcript.
func (t *TranscriptState) Reset() {
	t.builder.Reset()
}
