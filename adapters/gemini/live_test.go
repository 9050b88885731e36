package gemini

import (
	"bytes"
	"testing"

	"google.golang.org/genai"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
)

func TestTranslateServerContentModelTurn(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	content := &genai.LiveServerContent{
		ModelTurn: &genai.Content{
			Parts: []*genai.Part{
				{Text: "half past "},
				{Text: "nine"},
				{InlineData: &genai.Blob{Data: audio, MIMEType: "audio/pcm"}},
			},
		},
		TurnComplete: true,
	}

	got := translateServerContent(content)
	want := []entities.Event{
		{Type: entities.EventTranscriptDelta, Text: "half past "},
		{Type: entities.EventTranscriptDelta, Text: "nine"},
		{Type: entities.EventAudioResponse, Audio: audio},
		{Type: entities.EventResponseComplete},
	}

	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].Type != want[i].Type {
			t.Errorf("Event %d: expected %s, got %s", i, want[i].Type, got[i].Type)
		}
		if got[i].Text != want[i].Text {
			t.Errorf("Event %d: expected text %q, got %q", i, want[i].Text, got[i].Text)
		}
		if !bytes.Equal(got[i].Audio, want[i].Audio) {
			t.Errorf("Event %d: expected audio %v, got %v", i, want[i].Audio, got[i].Audio)
		}
	}
}

func TestTranslateServerContentInterrupted(t *testing.T) {
	got := translateServerContent(&genai.LiveServerContent{Interrupted: true})
	if len(got) != 1 || got[0].Type != entities.EventSpeechStarted {
		t.Errorf("Expected a single speech_started event, got %+v", got)
	}
}

func TestTranslateServerContentEmpty(t *testing.T) {
	if got := translateServerContent(nil); got != nil {
		t.Errorf("Expected no events for nil content, got %+v", got)
	}

	// Parts with neither text nor inline data carry nothing for the client.
	got := translateServerContent(&genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{nil, {}}},
	})
	if len(got) != 0 {
		t.Errorf("Expected no events for empty parts, got %+v", got)
	}
}
