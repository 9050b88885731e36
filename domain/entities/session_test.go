package entities

import (
	"testing"
)

func TestCapHistoryKeepsMostRecent(t *testing.T) {
	turns := []ConversationTurn{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
		{Role: RoleUser, Content: "three"},
		{Role: RoleAssistant, Content: "four"},
	}

	capped := CapHistory(turns, 2)
	if len(capped) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(capped))
	}
	if capped[0].Content != "three" {
		t.Errorf("Expected oldest kept turn to be 'three', got %q", capped[0].Content)
	}
	if capped[1].Content != "four" {
		t.Errorf("Expected newest turn to be 'four', got %q", capped[1].Content)
	}
}

func TestCapHistoryUnderLimit(t *testing.T) {
	turns := []ConversationTurn{
		{Role: RoleUser, Content: "hello"},
	}

	capped := CapHistory(turns, 20)
	if len(capped) != 1 {
		t.Errorf("Expected 1 turn, got %d", len(capped))
	}
	if capped[0].Role != RoleUser || capped[0].Content != "hello" {
		t.Errorf("Turn was not preserved: %+v", capped[0])
	}
}

func TestCapHistoryDisabled(t *testing.T) {
	turns := []ConversationTurn{
		{Role: RoleUser, Content: "hello"},
	}

	if capped := CapHistory(turns, 0); capped != nil {
		t.Errorf("Expected nil history with zero cap, got %d turns", len(capped))
	}
}

func TestConversationTurnValidate(t *testing.T) {
	valid := ConversationTurn{Role: RoleAssistant, Content: "hi"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid turn, got error: %v", err)
	}

	badRole := ConversationTurn{Role: "system", Content: "hi"}
	if err := badRole.Validate(); err == nil {
		t.Error("Expected error for invalid role")
	}

	empty := ConversationTurn{Role: RoleUser}
	if err := empty.Validate(); err == nil {
		t.Error("Expected error for empty content")
	}
}

func TestTranscriptStateAccumulates(t *testing.T) {
	var ts TranscriptState

	ts.Append("hello ")
	ts.Append("world")

	if ts.Text() != "hello world" {
		t.Errorf("Expected 'hello world', got %q", ts.Text())
	}

	ts.Reset()
	if ts.Text() != "" {
		t.Errorf("Expected empty transcript after reset, got %q", ts.Text())
	}
}
