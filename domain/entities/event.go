package entities

// EventType tags a relay event delivered to the client. The same tag
// vocabulary is used by both transports.
type EventType string

const (
	// EventConversationStarted confirms that a session was created for the
	// conversation id.
	EventConversationStarted EventType = "conversation_started"

	// EventSpeechStarted signals that the provider detected speech in the
	// uploaded audio.
	EventSpeechStarted EventType = "speech_started"

	// EventSpeechStopped signals that the provider detected end of speech.
	EventSpeechStopped EventType = "speech_stopped"

	// EventTranscriptDelta carries a partial transcript fragment of the AI
	// response.
	EventTranscriptDelta EventType = "transcript_delta"

	// EventTranscriptComplete carries the full transcript of the AI response.
	EventTranscriptComplete EventType = "transcript_complete"

	// EventAudioResponse carries an opaque fragment of AI response audio,
	// 16-bit PCM mono at the session sample rate.
	EventAudioResponse EventType = "audio_response"

	// EventResponseComplete signals that the AI turn finished.
	EventResponseComplete EventType = "response_complete"

	// EventError carries a short human-readable error message. It does not
	// end the session by itself.
	EventError EventType = "error"

	// EventConversationEnded signals that the session is over and no further
	// events will follow.
	EventConversationEnded EventType = "conversation_ended"
)

// Event is a relay event flowing from the upstream provider (or the relay
// itself) toward the client transport.
type Event struct {
	Type           EventType
	ConversationID string

	// Text is the transcript payload for transcript events.
	Text string

	// Audio is the raw audio payload for audio_response events.
	Audio []byte

	// Message is the short error description for error events.
	Message string
}
