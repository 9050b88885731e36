package repositories

import (
	"context"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
)

// SessionConfig carries the parameters sent to the upstream provider when a
// realtime session is configured.
type SessionConfig struct {
	// Instructions is the system prompt for the conversation.
	Instructions string

	// Voice selects the provider voice for audio responses.
	Voice string

	// SampleRate is the PCM sample rate used end-to-end, in hertz.
	SampleRate int

	// MaxResponseTokens bounds the provider response length. Zero means
	// provider default.
	MaxResponseTokens int
}

// RealtimeProvider dials one upstream realtime session per conversation.
// Connect blocks until the session is configured, prior history is replayed,
// and audio can be appended, or fails without retrying.
type RealtimeProvider interface {
	Connect(ctx context.Context, cfg SessionConfig, history []entities.ConversationTurn) (UpstreamSession, error)
}

// UpstreamSession is one live provider connection, owned by exactly one
// relay session.
type UpstreamSession interface {
	// AppendAudio forwards one chunk of raw 16-bit PCM audio to the
	// provider's input buffer.
	AppendAudio(data []byte) error

	// CommitTurn commits the provider's input buffer and requests a
	// response, ending the current user utterance.
	CommitTurn() error

	// Events returns provider events already translated to the relay
	// vocabulary, in the order the provider produced them. The channel is
	// closed when the provider connection ends for any reason.
	Events() <-chan entities.Event

	// Close tears down the provider connection. Safe to call more than once.
	Close() error
}
