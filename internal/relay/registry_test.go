package relay

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/adapters/mockprovider"
	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

var testDevice = entities.DeviceIdentity{DeviceID: "device-1", UserID: "user-1"}

func testRegistry(provider *mockprovider.Provider, opts Options) *Registry {
	if opts.CloseGrace == 0 {
		opts.CloseGrace = 20 * time.Millisecond
	}
	cfg := repositories.SessionConfig{
		Voice:      "alloy",
		SampleRate: 24000,
	}
	return NewRegistry(provider, cfg, opts, zap.NewNop())
}

func nextEvent(t testing.TB, sess *Session) entities.Event {
	t.Helper()
	select {
	case ev := <-sess.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return entities.Event{}
	}
}

func waitState(t testing.TB, sess *Session, state entities.SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == state {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for state %s, still %s", state, sess.State())
}

func waitDone(t testing.TB, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for session to close")
	}
}

func TestStartReplacesExistingSession(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	first := registry.Start("c1", testDevice, nil)
	waitState(t, first, entities.SessionStateReady)

	second := registry.Start("c1", testDevice, nil)
	waitState(t, second, entities.SessionStateReady)

	// Last start wins: exactly one upstream connection stays open.
	if open := provider.OpenSessions(); open != 1 {
		t.Errorf("Expected 1 open upstream session, got %d", open)
	}
	if registry.Len() != 1 {
		t.Errorf("Expected 1 live session, got %d", registry.Len())
	}

	got, ok := registry.Get("c1")
	if !ok {
		t.Fatal("Session should exist after replacement")
	}
	if got != second {
		t.Error("Registry should hold the newer session")
	}

	waitDone(t, first)
}

func TestEndUnknownConversationIsNoOp(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	registry.End("never-started")
	registry.End("never-started")

	if registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d sessions", registry.Len())
	}
}

func TestGetUnknownConversation(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	if _, ok := registry.Get("missing"); ok {
		t.Error("Expected not-found for unknown conversation id")
	}
}

func TestServerGeneratedConversationID(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	sess := registry.Start("", testDevice, nil)
	if sess.ID() == "" {
		t.Fatal("Expected a generated conversation id")
	}
	if _, ok := registry.Get(sess.ID()); !ok {
		t.Error("Generated id should resolve in the registry")
	}
}

func TestHistoryReplayPreserved(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	history := []entities.ConversationTurn{
		{Role: entities.RoleUser, Content: "what time is it"},
		{Role: entities.RoleAssistant, Content: "half past nine"},
		{Role: entities.RoleUser, Content: "thanks"},
	}

	sess := registry.Start("c1", testDevice, history)
	waitState(t, sess, entities.SessionStateReady)

	got := provider.Sessions()[0].History
	if len(got) != 3 {
		t.Fatalf("Expected 3 replayed turns, got %d", len(got))
	}
	for i, turn := range history {
		if got[i].Role != turn.Role {
			t.Errorf("Turn %d role changed: %s != %s", i, got[i].Role, turn.Role)
		}
		if got[i].Content != turn.Content {
			t.Errorf("Turn %d content changed: %q != %q", i, got[i].Content, turn.Content)
		}
	}
}

func TestHistoryCappedToMostRecent(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{HistoryMax: 5})

	history := make([]entities.ConversationTurn, 7)
	for i := range history {
		history[i] = entities.ConversationTurn{
			Role:    entities.RoleUser,
			Content: string(rune('a' + i)),
		}
	}

	sess := registry.Start("c1", testDevice, history)
	waitState(t, sess, entities.SessionStateReady)

	got := provider.Sessions()[0].History
	if len(got) != 5 {
		t.Fatalf("Expected history capped at 5 turns, got %d", len(got))
	}
	if got[0].Content != "c" {
		t.Errorf("Expected oldest kept turn 'c', got %q", got[0].Content)
	}
	if got[4].Content != "g" {
		t.Errorf("Expected newest turn 'g', got %q", got[4].Content)
	}
}

// TestConversationScenario walks the full happy path: start, stream audio,
// end, and observe the ordered event stream until teardown.
func TestConversationScenario(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	sess := registry.Start("c1", testDevice, nil)

	started := nextEvent(t, sess)
	if started.Type != entities.EventConversationStarted {
		t.Fatalf("Expected conversation_started first, got %s", started.Type)
	}
	if started.ConversationID != "c1" {
		t.Errorf("Expected conversation id c1, got %s", started.ConversationID)
	}

	waitState(t, sess, entities.SessionStateReady)

	chunk := []byte{0x10, 0x20, 0x30}
	for i := 0; i < 5; i++ {
		if err := sess.AppendAudio(chunk); err != nil {
			t.Fatalf("Failed to append chunk %d: %v", i, err)
		}
	}

	registry.End("c1")

	// The mock emits its canned cycle on the final commit; events arrive in
	// provider order, then exactly one conversation_ended.
	wantOrder := []entities.EventType{
		entities.EventSpeechStarted,
		entities.EventSpeechStopped,
		entities.EventTranscriptDelta,
		entities.EventTranscriptDelta,
		entities.EventTranscriptComplete,
		entities.EventAudioResponse,
		entities.EventResponseComplete,
		entities.EventConversationEnded,
	}
	for i, want := range wantOrder {
		ev := nextEvent(t, sess)
		if ev.Type != want {
			t.Fatalf("Event %d: expected %s, got %s", i, want, ev.Type)
		}
	}

	waitDone(t, sess)

	if _, ok := registry.Get("c1"); ok {
		t.Error("Session should be removed from the registry after ending")
	}
	if registry.Len() != 0 {
		t.Errorf("Expected empty registry, got %d sessions", registry.Len())
	}

	upstream := provider.Sessions()[0]
	audio := upstream.Audio()
	if len(audio) != 5 {
		t.Fatalf("Expected 5 upstream chunks, got %d", len(audio))
	}
	for i, got := range audio {
		if !bytes.Equal(got, chunk) {
			t.Errorf("Chunk %d not preserved: %v", i, got)
		}
	}
	if upstream.Commits() != 1 {
		t.Errorf("Expected exactly 1 final commit, got %d", upstream.Commits())
	}
	if !upstream.Closed() {
		t.Error("Upstream should be closed after the grace period")
	}
}

func TestEndIsIdempotent(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	sess := registry.Start("c1", testDevice, nil)
	waitState(t, sess, entities.SessionStateReady)

	registry.End("c1")
	registry.End("c1")
	waitDone(t, sess)
	registry.End("c1")

	if provider.Sessions()[0].Commits() != 1 {
		t.Errorf("Expected a single commit despite repeated ends, got %d",
			provider.Sessions()[0].Commits())
	}
}

func TestConnectFailureTearsDownSession(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	provider.ConnectErr = errors.New("dial refused")
	registry := testRegistry(provider, Options{})

	sess := registry.Start("c1", testDevice, nil)

	started := nextEvent(t, sess)
	if started.Type != entities.EventConversationStarted {
		t.Fatalf("Expected conversation_started, got %s", started.Type)
	}

	errEv := nextEvent(t, sess)
	if errEv.Type != entities.EventError {
		t.Fatalf("Expected a single error event, got %s", errEv.Type)
	}
	if errEv.Message == "" {
		t.Error("Error event should carry a message")
	}

	waitDone(t, sess)

	if _, ok := registry.Get("c1"); ok {
		t.Error("Failed session should not remain in the registry")
	}
}

func TestDrainClosesAllSessions(t *testing.T) {
	provider := mockprovider.NewProvider(zap.NewNop())
	registry := testRegistry(provider, Options{})

	a := registry.Start("a", testDevice, nil)
	b := registry.Start("b", testDevice, nil)
	waitState(t, a, entities.SessionStateReady)
	waitState(t, b, entities.SessionStateReady)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	registry.Drain(ctx)

	if registry.Len() != 0 {
		t.Errorf("Expected empty registry after drain, got %d", registry.Len())
	}
	if open := provider.OpenSessions(); open != 0 {
		t.Errorf("Expected no open upstream sessions after drain, got %d", open)
	}
}
