package relay

import (
	"encoding/base64"
	"encoding/json"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
)

// wireEvent is the JSON shape shared by both transports. Audio is base64
// since the socket transport carries events as text frames and SSE is
// text-only.
type wireEvent struct {
	Type           entities.EventType `json:"type"`
	ConversationID string             `json:"conversationId,omitempty"`
	Text           string             `json:"text,omitempty"`
	Data           string             `json:"data,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// EncodeEvent serializes a relay event into its wire JSON form.
func EncodeEvent(ev entities.Event) ([]byte, error) {
	w := wireEvent{
		Type:           ev.Type,
		ConversationID: ev.ConversationID,
		Text:           ev.Text,
		Message:        ev.Message,
	}
	if len(ev.Audio) > 0 {
		w.Data = base64.StdEncoding.EncodeToString(ev.Audio)
	}
	return json.Marshal(w)
}
