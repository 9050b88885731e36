package relay

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
)

func TestParseStartConversation(t *testing.T) {
	raw := []byte(`{
		"type": "start_conversation",
		"conversationId": "c1",
		"conversationHistory": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"}
		]
	}`)

	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.Type != CommandStartConversation {
		t.Errorf("Expected start_conversation, got %s", cmd.Type)
	}
	if cmd.ConversationID != "c1" {
		t.Errorf("Expected conversation id c1, got %s", cmd.ConversationID)
	}
	if len(cmd.ConversationHistory) != 2 {
		t.Fatalf("Expected 2 history turns, got %d", len(cmd.ConversationHistory))
	}
	if cmd.ConversationHistory[1].Role != entities.RoleAssistant {
		t.Errorf("Expected assistant role, got %s", cmd.ConversationHistory[1].Role)
	}
}

func TestParseAudioChunk(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	raw := []byte(`{"type":"audio_chunk","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`)

	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	data, err := cmd.AudioData()
	if err != nil {
		t.Fatalf("Failed to decode audio: %v", err)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("Audio payload not preserved: %v", data)
	}
}

func TestParseEndUtterance(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"end_utterance"}`))
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.Type != CommandEndUtterance {
		t.Errorf("Expected end_utterance, got %s", cmd.Type)
	}
}

func TestParseEndConversation(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"end_conversation"}`))
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.Type != CommandEndConversation {
		t.Errorf("Expected end_conversation, got %s", cmd.Type)
	}
}

func TestParseRejectsUnknownTag(t *testing.T) {
	_, err := ParseCommand([]byte(`{"type":"self_destruct"}`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame for unknown tag, got %v", err)
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	_, err := ParseCommand([]byte(`{"conversationId":"c1"}`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame for missing type, got %v", err)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := ParseCommand([]byte(`{"type":`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame for invalid JSON, got %v", err)
	}
}

func TestParseRejectsAudioChunkWithoutData(t *testing.T) {
	_, err := ParseCommand([]byte(`{"type":"audio_chunk"}`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame for empty audio, got %v", err)
	}
}

func TestParseRejectsInvalidHistoryTurn(t *testing.T) {
	cases := []string{
		`{"type":"start_conversation","conversationHistory":[{"role":"system","content":"x"}]}`,
		`{"type":"start_conversation","conversationHistory":[{"role":"user","content":""}]}`,
		`{"type":"start_conversation","conversationHistory":[{"content":"orphan"}]}`,
	}
	for _, raw := range cases {
		if _, err := ParseCommand([]byte(raw)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Expected ErrMalformedFrame for %s, got %v", raw, err)
		}
	}
}

func TestEncodeEventAudioBase64(t *testing.T) {
	payload, err := EncodeEvent(entities.Event{
		Type:           entities.EventAudioResponse,
		ConversationID: "c1",
		Audio:          []byte{0xAA, 0xBB},
	})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	want := base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB})
	if !bytes.Contains(payload, []byte(want)) {
		t.Errorf("Expected base64 audio %q in %s", want, payload)
	}
	if !bytes.Contains(payload, []byte(`"type":"audio_response"`)) {
		t.Errorf("Expected audio_response tag in %s", payload)
	}
}
