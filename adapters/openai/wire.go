package openai

import (
	"encoding/base64"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

// Client-to-server command types.
const (
	typeSessionUpdate  = "session.update"
	typeItemCreate     = "conversation.item.create"
	typeAudioAppend    = "input_audio_buffer.append"
	typeAudioCommit    = "input_audio_buffer.commit"
	typeResponseCreate = "response.create"
)

// Server-to-client event types.
const (
	typeSessionCreated  = "session.created"
	typeSessionUpdated  = "session.updated"
	typeSpeechStarted   = "input_audio_buffer.speech_started"
	typeSpeechStopped   = "input_audio_buffer.speech_stopped"
	typeTranscriptDelta = "response.audio_transcript.delta"
	typeTranscriptDone  = "response.audio_transcript.done"
	typeAudioDelta      = "response.audio.delta"
	typeResponseDone    = "response.done"
	typeError           = "error"
)

// clientEvent is the envelope for commands sent to the realtime API.
type clientEvent struct {
	Type    string            `json:"type"`
	Session *sessionParams    `json:"session,omitempty"`
	Item    *conversationItem `json:"item,omitempty"`
	Audio   string            `json:"audio,omitempty"`
}

type sessionParams struct {
	Modalities              []string         `json:"modalities,omitempty"`
	Instructions            string           `json:"instructions,omitempty"`
	Voice                   string           `json:"voice,omitempty"`
	InputAudioFormat        string           `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string           `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcriptionIn `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection   `json:"turn_detection,omitempty"`
	MaxResponseOutputTokens int              `json:"max_response_output_tokens,omitempty"`
}

type transcriptionIn struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// serverEvent is the subset of realtime API events the relay cares about.
// Unknown types pass through translate and are ignored there.
type serverEvent struct {
	Type       string    `json:"type"`
	Delta      string    `json:"delta,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      *apiError `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSessionUpdate maps the relay session configuration onto the
// provider's session.update command. Audio stays pcm16 end-to-end; the
// relay never resamples.
func buildSessionUpdate(cfg repositories.SessionConfig) clientEvent {
	return clientEvent{
		Type: typeSessionUpdate,
		Session: &sessionParams{
			Modalities:        []string{"audio", "text"},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &transcriptionIn{
				Model: "whisper-1",
			},
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
			MaxResponseOutputTokens: cfg.MaxResponseTokens,
		},
	}
}

// buildHistoryItem wraps one replayed turn as a conversation item, role and
// content preserved as supplied. The provider requires input_text for user
// items and text for assistant items.
func buildHistoryItem(turn entities.ConversationTurn) clientEvent {
	contentType := "input_text"
	if turn.Role == entities.RoleAssistant {
		contentType = "text"
	}
	return clientEvent{
		Type: typeItemCreate,
		Item: &conversationItem{
			Type: "message",
			Role: string(turn.Role),
			Content: []itemContent{
				{Type: contentType, Text: turn.Content},
			},
		},
	}
}

// translate maps one provider event to a relay event. The second return is
// false for events that are internal or unknown and must not be forwarded.
func translate(ev serverEvent) (entities.Event, bool) {
	switch ev.Type {
	case typeSpeechStarted:
		return entities.Event{Type: entities.EventSpeechStarted}, true

	case typeSpeechStopped:
		return entities.Event{Type: entities.EventSpeechStopped}, true

	case typeTranscriptDelta:
		return entities.Event{
			Type: entities.EventTranscriptDelta,
			Text: ev.Delta,
		}, true

	case typeTranscriptDone:
		return entities.Event{
			Type: entities.EventTranscriptComplete,
			Text: ev.Transcript,
		}, true

	case typeAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return entities.Event{}, false
		}
		return entities.Event{
			Type:  entities.EventAudioResponse,
			Audio: audio,
		}, true

	case typeResponseDone:
		return entities.Event{Type: entities.EventResponseComplete}, true

	case typeError:
		msg := "upstream error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return entities.Event{
			Type:    entities.EventError,
			Message: msg,
		}, true

	default:
		// session.created, session.updated and anything unrecognized stay
		// internal to the adapter.
		return entities.Event{}, false
	}
}
