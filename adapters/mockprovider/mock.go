// Package mockprovider is an in-memory realtime provider for local
// development and tests. It echoes a canned response cycle for every
// committed turn and records everything sent to it.
package mockprovider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

// Provider implements repositories.RealtimeProvider in memory.
type Provider struct {
	logger *zap.Logger

	// ConnectErr, when set, makes every Connect fail with it.
	ConnectErr error

	// ConnectGate, when set, blocks Connect until the channel is closed or
	// the context ends. Lets tests observe the pre-ready window.
	ConnectGate chan struct{}

	// Script, when set, is emitted once per committed turn instead of the
	// default canned response cycle.
	Script []entities.Event

	mu       sync.Mutex
	sessions []*Session
}

// NewProvider creates a mock realtime provider.
func NewProvider(logger *zap.Logger) *Provider {
	return &Provider{logger: logger}
}

// Connect opens a new in-memory upstream session.
func (p *Provider) Connect(
	ctx context.Context,
	cfg repositories.SessionConfig,
	history []entities.ConversationTurn,
) (repositories.UpstreamSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.ConnectGate != nil {
		select {
		case <-p.ConnectGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s := &Session{
		provider: p,
		events:   make(chan entities.Event, 128),
		History:  append([]entities.ConversationTurn(nil), history...),
		Config:   cfg,
	}

	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()

	p.logger.Debug("mock upstream connected",
		zap.Int("historyTurns", len(history)))
	return s, nil
}

// Sessions returns every session ever opened, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// OpenSessions counts sessions that have not been closed.
func (p *Provider) OpenSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sessions {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Session is one in-memory upstream connection.
type Session struct {
	provider *Provider

	// History and Config record what the relay sent at connect time.
	History []entities.ConversationTurn
	Config  repositories.SessionConfig

	mu      sync.Mutex
	audio   [][]byte
	commits int
	closed  bool

	events chan entities.Event
}

// AppendAudio records one audio chunk.
func (s *Session) AppendAudio(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock upstream closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.audio = append(s.audio, buf)
	return nil
}

// CommitTurn emits the scripted response cycle for the committed audio.
func (s *Session) CommitTurn() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("mock upstream closed")
	}
	s.commits++
	s.mu.Unlock()

	script := s.provider.Script
	if script == nil {
		script = []entities.Event{
			{Type: entities.EventSpeechStarted},
			{Type: entities.EventSpeechStopped},
			{Type: entities.EventTranscriptDelta, Text: "mock "},
			{Type: entities.EventTranscriptDelta, Text: "response"},
			{Type: entities.EventTranscriptComplete, Text: "mock response"},
			{Type: entities.EventAudioResponse, Audio: []byte{0, 0, 0, 0}},
			{Type: entities.EventResponseComplete},
		}
	}
	for _, ev := range script {
		s.Emit(ev)
	}
	return nil
}

// Events implements repositories.UpstreamSession.
func (s *Session) Events() <-chan entities.Event {
	return s.events
}

// Close ends the session; the event channel closes as a real provider
// disconnect would. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Emit injects a provider event, for scripting scenarios in tests.
func (s *Session) Emit(ev entities.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Audio returns the chunks appended so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Commits returns how many turn commits were received.
func (s *Session) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
