package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

const (
	// Buffered outbound events per session. The transport is expected to
	// keep up; events beyond this are dropped with a warning rather than
	// blocking the upstream pump.
	eventBufferSize = 512
)

// Session pairs one client conversation with one upstream provider
// connection. It owns the upstream lifecycle, queues audio until the
// provider is ready, and forwards provider events to the transport in the
// order they were produced.
type Session struct {
	info     entities.SessionInfo
	provider repositories.RealtimeProvider
	cfg      repositories.SessionConfig
	opts     Options
	logger   *zap.Logger

	events chan entities.Event
	done   chan struct{}

	mu            sync.Mutex
	state         entities.SessionState
	upstream      repositories.UpstreamSession
	pending       [][]byte
	overflowed    bool
	transcript    entities.TranscriptState
	chunksUp      int
	chunksDown    int
	dropped       int
	eventsDropped int

	cancelConnect context.CancelFunc
	finishOnce    sync.Once
	onClose       func()
}

func newSession(
	info entities.SessionInfo,
	provider repositories.RealtimeProvider,
	cfg repositories.SessionConfig,
	opts Options,
	logger *zap.Logger,
	onClose func(),
) *Session {
	return &Session{
		info:     info,
		provider: provider,
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		events:   make(chan entities.Event, eventBufferSize),
		done:     make(chan struct{}),
		state:    entities.SessionStateStarting,
		onClose:  onClose,
	}
}

// begin announces the session to the client and starts the asynchronous
// upstream handshake. Called exactly once by the registry.
func (s *Session) begin(history []entities.ConversationTurn) {
	s.emit(entities.Event{Type: entities.EventConversationStarted})

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelConnect = cancel
	s.mu.Unlock()

	go s.connect(ctx, history)
}

// ID returns the conversation id owning this session.
func (s *Session) ID() string {
	return s.info.ConversationID
}

// Device returns the identity the session was started with.
func (s *Session) Device() entities.DeviceIdentity {
	return s.info.Device
}

// State returns the current lifecycle state.
func (s *Session) State() entities.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events is the ordered stream of relay events for the client transport.
// The channel is never closed; consumers exit via Done. Delivery is bounded:
// a consumer that falls more than eventBufferSize events behind loses the
// overflow (order is still preserved for what it does receive).
func (s *Session) Events() <-chan entities.Event {
	return s.events
}

// Done is closed after the final event has been buffered and the session is
// removed from the registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Transcript returns the partial transcript of the AI turn in flight.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Text()
}

// AppendAudio forwards one raw PCM chunk to the provider. Audio arriving
// before the upstream is ready is queued up to the configured bound; audio
// arriving after the session started closing is dropped.
func (s *Session) AppendAudio(data []byte) error {
	s.mu.Lock()
	switch s.state {
	case entities.SessionStateStarting:
		if len(s.pending) >= s.opts.PendingQueueMax {
			first := !s.overflowed
			s.overflowed = true
			s.mu.Unlock()
			if first {
				s.emit(entities.Event{
					Type:    entities.EventError,
					Message: "audio arriving too fast before session is ready",
				})
			}
			return ErrQueueFull
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		s.pending = append(s.pending, buf)
		s.mu.Unlock()
		return nil

	case entities.SessionStateReady:
		up := s.upstream
		s.chunksUp++
		s.mu.Unlock()
		return up.AppendAudio(data)

	default:
		s.dropped++
		s.mu.Unlock()
		return ErrSessionClosed
	}
}

// EndUtterance commits buffered upstream audio and requests a response,
// marking the end of the current user utterance.
func (s *Session) EndUtterance() error {
	s.mu.Lock()
	if s.state != entities.SessionStateReady {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	up := s.upstream
	s.mu.Unlock()
	return up.CommitTurn()
}

// End signals end-of-conversation from the client. Trailing audio is still
// committed and answered; the upstream is closed after a short grace so the
// final response can arrive. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	switch s.state {
	case entities.SessionStateClosing, entities.SessionStateClosed:
		s.mu.Unlock()
		return

	case entities.SessionStateStarting:
		s.state = entities.SessionStateClosing
		cancel := s.cancelConnect
		s.mu.Unlock()
		cancel()
		return

	default: // ready
		s.state = entities.SessionStateClosing
		up := s.upstream
		s.mu.Unlock()

		if err := up.CommitTurn(); err != nil {
			s.logger.Debug("final commit failed",
				zap.String("conversationID", s.info.ConversationID),
				zap.Error(err))
		}
		time.AfterFunc(s.opts.CloseGrace, func() {
			if err := up.Close(); err != nil {
				s.logger.Debug("upstream close failed",
					zap.String("conversationID", s.info.ConversationID),
					zap.Error(err))
			}
		})
	}
}

// Close tears the session down immediately, without the end-of-conversation
// grace. Used when a newer session replaces this one and on shutdown drain.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == entities.SessionStateClosed {
		s.mu.Unlock()
		return
	}
	s.state = entities.SessionStateClosing
	up := s.upstream
	cancel := s.cancelConnect
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if up != nil {
		if err := up.Close(); err != nil {
			s.logger.Debug("upstream close failed",
				zap.String("conversationID", s.info.ConversationID),
				zap.Error(err))
		}
	}
}

// connect performs the upstream handshake, flushes queued audio, and hands
// over to the event pump.
func (s *Session) connect(ctx context.Context, history []entities.ConversationTurn) {
	up, err := s.provider.Connect(ctx, s.cfg, history)
	if err != nil {
		s.mu.Lock()
		deliberate := s.state != entities.SessionStateStarting
		s.mu.Unlock()

		if deliberate {
			// Client ended the conversation before the upstream came up.
			s.emit(entities.Event{Type: entities.EventConversationEnded})
		} else {
			s.logger.Warn("upstream connect failed",
				zap.String("conversationID", s.info.ConversationID),
				zap.String("deviceID", s.info.Device.DeviceID),
				zap.Error(err))
			s.emit(entities.Event{
				Type:    entities.EventError,
				Message: ErrUpstreamUnavailable.Error(),
			})
		}
		s.finish()
		return
	}

	s.mu.Lock()
	if s.state != entities.SessionStateStarting {
		// Ended while connecting. The upstream never served this session.
		s.mu.Unlock()
		up.Close()
		s.emit(entities.Event{Type: entities.EventConversationEnded})
		s.finish()
		return
	}
	s.upstream = up
	pending := s.pending
	s.pending = nil
	s.state = entities.SessionStateReady
	s.chunksUp += len(pending)
	s.mu.Unlock()

	for _, chunk := range pending {
		if err := up.AppendAudio(chunk); err != nil {
			s.logger.Warn("failed to flush queued audio",
				zap.String("conversationID", s.info.ConversationID),
				zap.Error(err))
			break
		}
	}
	if len(pending) > 0 {
		s.logger.Debug("flushed queued audio",
			zap.String("conversationID", s.info.ConversationID),
			zap.Int("chunks", len(pending)))
	}

	s.pump(up)
}

// pump forwards upstream events to the transport in order until the
// provider connection ends, then tears the session down.
func (s *Session) pump(up repositories.UpstreamSession) {
	for ev := range up.Events() {
		s.mu.Lock()
		switch ev.Type {
		case entities.EventSpeechStarted:
			// A new user utterance abandons the in-flight AI turn.
			s.transcript.Reset()
		case entities.EventTranscriptDelta:
			s.transcript.Append(ev.Text)
		case entities.EventResponseComplete:
			s.transcript.Reset()
		case entities.EventAudioResponse:
			s.chunksDown++
		}
		s.mu.Unlock()

		s.emit(ev)
	}

	s.emit(entities.Event{Type: entities.EventConversationEnded})
	s.finish()
}

// emit buffers one event for the transport, stamping the conversation id.
func (s *Session) emit(ev entities.Event) {
	ev.ConversationID = s.info.ConversationID
	select {
	case s.events <- ev:
	default:
		s.mu.Lock()
		s.eventsDropped++
		s.mu.Unlock()
		s.logger.Warn("event buffer full, dropping event",
			zap.String("conversationID", s.info.ConversationID),
			zap.String("type", string(ev.Type)))
	}
}

// finish marks the session closed, removes it from the registry, and
// releases everyone waiting on Done. Safe to call from multiple paths.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state = entities.SessionStateClosed
		up, down, dropped := s.chunksUp, s.chunksDown, s.dropped
		eventsDropped := s.eventsDropped
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)

		s.logger.Info("session closed",
			zap.String("conversationID", s.info.ConversationID),
			zap.String("deviceID", s.info.Device.DeviceID),
			zap.Int("chunksUp", up),
			zap.Int("chunksDown", down),
			zap.Int("droppedAfterClose", dropped),
			zap.Int("eventsDropped", eventsDropped),
			zap.Duration("lifetime", time.Since(s.info.CreatedAt)))
	})
}
