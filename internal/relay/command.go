package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
)

// CommandType tags an inbound client command.
type CommandType string

const (
	CommandStartConversation CommandType = "start_conversation"
	CommandAudioChunk        CommandType = "audio_chunk"
	CommandEndUtterance      CommandType = "end_utterance"
	CommandEndConversation   CommandType = "end_conversation"
)

// Command is a parsed inbound client frame. The tag set is closed; unknown
// tags are rejected at the transport boundary rather than ignored.
type Command struct {
	Type                CommandType                 `json:"type"`
	ConversationID      string                      `json:"conversationId,omitempty"`
	ConversationHistory []entities.ConversationTurn `json:"conversationHistory,omitempty"`

	// Data is the base64-encoded PCM payload of an audio_chunk command.
	Data string `json:"data,omitempty"`
}

// ParseCommand parses a JSON client frame into a Command, rejecting unknown
// tags explicitly.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch cmd.Type {
	case CommandStartConversation, CommandAudioChunk, CommandEndUtterance, CommandEndConversation:
	case "":
		return Command{}, fmt.Errorf("%w: missing type field", ErrMalformedFrame)
	default:
		return Command{}, fmt.Errorf("%w: unknown command type %q", ErrMalformedFrame, cmd.Type)
	}

	if cmd.Type == CommandAudioChunk && cmd.Data == "" {
		return Command{}, fmt.Errorf("%w: audio_chunk without data", ErrMalformedFrame)
	}

	// Replayed history goes to the upstream provider verbatim; turns that
	// cannot be replayed are rejected here, not upstream.
	for _, turn := range cmd.ConversationHistory {
		if err := turn.Validate(); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}

	return cmd, nil
}

// AudioData decodes the base64 audio payload of an audio_chunk command.
func (c Command) AudioData() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio: %v", ErrMalformedFrame, err)
	}
	return data, nil
}
