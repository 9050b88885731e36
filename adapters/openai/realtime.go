// Package openai connects relay sessions to the OpenAI Realtime API over a
// websocket, translating between the provider wire protocol and relay
// events.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

const (
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultModel   = "gpt-4o-realtime-preview"

	// Time allowed to write a message to the provider.
	writeWait = 10 * time.Second

	// How long Connect waits for the provider to confirm the session
	// configuration before giving up.
	configureTimeout = 10 * time.Second
)

// Provider dials OpenAI Realtime sessions.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// Config holds provider-level settings, distinct from the per-session
// repositories.SessionConfig.
type Config struct {
	APIKey string

	// Model selects the realtime model. Empty uses the default.
	Model string

	// BaseURL overrides the realtime endpoint, for tests.
	BaseURL string
}

// NewProvider creates an OpenAI realtime provider.
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Connect dials the realtime endpoint, configures the session, replays
// prior history, and returns once the provider confirms the configuration.
func (p *Provider) Connect(
	ctx context.Context,
	cfg repositories.SessionConfig,
	history []entities.ConversationTurn,
) (repositories.UpstreamSession, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime base URL: %w", err)
	}
	q := u.Query()
	q.Set("model", p.model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := p.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	s := &session{
		conn:       conn,
		logger:     p.logger,
		events:     make(chan entities.Event, 128),
		configured: make(chan struct{}),
	}
	go s.readLoop()

	if err := s.send(buildSessionUpdate(cfg)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to configure session: %w", err)
	}

	// Wait for the provider to confirm the configuration before replaying
	// history, so injected items land on the configured session.
	waitCtx, cancel := context.WithTimeout(ctx, configureTimeout)
	defer cancel()
	select {
	case <-s.configured:
	case <-s.closed():
		s.Close()
		return nil, fmt.Errorf("provider closed connection during configuration")
	case <-waitCtx.Done():
		s.Close()
		return nil, fmt.Errorf("timed out waiting for session confirmation: %w", waitCtx.Err())
	}

	for _, turn := range history {
		if err := s.send(buildHistoryItem(turn)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to replay history: %w", err)
		}
	}
	if len(history) > 0 {
		p.logger.Debug("replayed conversation history",
			zap.Int("turns", len(history)))
	}

	return s, nil
}

// session is one live realtime connection.
type session struct {
	conn   *websocket.Conn
	logger *zap.Logger

	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex

	events chan entities.Event

	configured     chan struct{}
	configuredOnce sync.Once

	closeOnce sync.Once
	closedCh  chan struct{}
	closedMu  sync.Mutex
}

func (s *session) closed() chan struct{} {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	if s.closedCh == nil {
		s.closedCh = make(chan struct{})
	}
	return s.closedCh
}

// AppendAudio forwards one raw PCM chunk as an audio-append command.
func (s *session) AppendAudio(data []byte) error {
	return s.send(clientEvent{
		Type:  typeAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(data),
	})
}

// CommitTurn commits the input buffer and requests a response.
func (s *session) CommitTurn() error {
	if err := s.send(clientEvent{Type: typeAudioCommit}); err != nil {
		return err
	}
	return s.send(clientEvent{Type: typeResponseCreate})
}

// Events implements repositories.UpstreamSession.
func (s *session) Events() <-chan entities.Event {
	return s.events
}

// Close tears down the provider connection. Idempotent.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

func (s *session) send(ev clientEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", ev.Type, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", ev.Type, err)
	}
	return nil
}

// readLoop pumps provider events into the translated event channel until
// the connection ends, then closes the channel.
func (s *session) readLoop() {
	defer func() {
		close(s.events)
		close(s.closed())
		s.conn.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("realtime connection error", zap.Error(err))
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.logger.Warn("unparseable provider event", zap.Error(err))
			continue
		}

		if ev.Type == typeSessionUpdated {
			// session.created precedes our session.update command; only
			// session.updated confirms the configuration took effect.
			s.configuredOnce.Do(func() { close(s.configured) })
		}

		relayEv, ok := translate(ev)
		if !ok {
			continue
		}
		s.events <- relayEv
	}
}
