// Package gemini connects relay sessions to the Gemini Live API as an
// alternate upstream realtime provider.
package gemini

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

const defaultModel = "gemini-2.0-flash-live-001"

// Provider dials Gemini Live sessions.
type Provider struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewProvider creates a Gemini Live provider using GEMINI_API_KEY.
func NewProvider(ctx context.Context, model string, logger *zap.Logger) (*Provider, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: client,
		logger: logger,
		model:  model,
	}, nil
}

// Connect opens a live session, replays prior history as client content,
// and starts translating server messages into relay events.
func (p *Provider) Connect(
	ctx context.Context,
	cfg repositories.SessionConfig,
	history []entities.ConversationTurn,
) (repositories.UpstreamSession, error) {
	liveCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Instructions != "" {
		liveCfg.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}

	live, err := p.client.Live.Connect(ctx, p.model, liveCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect live session: %w", err)
	}

	s := &session{
		live:       live,
		logger:     p.logger,
		events:     make(chan entities.Event, 128),
		sampleRate: cfg.SampleRate,
	}

	if len(history) > 0 {
		turns := make([]*genai.Content, 0, len(history))
		for _, turn := range history {
			var role genai.Role = genai.RoleUser
			if turn.Role == entities.RoleAssistant {
				role = genai.RoleModel
			}
			turns = append(turns, genai.NewContentFromText(turn.Content, role))
		}
		if err := live.SendClientContent(genai.LiveClientContentInput{Turns: turns}); err != nil {
			live.Close()
			return nil, fmt.Errorf("failed to replay history: %w", err)
		}
		p.logger.Debug("replayed conversation history",
			zap.Int("turns", len(turns)))
	}

	go s.receiveLoop()
	return s, nil
}

// session is one live Gemini connection.
type session struct {
	live       *genai.Session
	logger     *zap.Logger
	events     chan entities.Event
	sampleRate int
}

// AppendAudio streams one raw PCM chunk to the live session.
func (s *session) AppendAudio(data []byte) error {
	mime := fmt.Sprintf("audio/pcm;rate=%d", s.sampleRate)
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mime},
	})
}

// CommitTurn marks the client turn complete, prompting a model response.
func (s *session) CommitTurn() error {
	return s.live.SendClientContent(genai.LiveClientContentInput{TurnComplete: genai.Ptr(true)})
}

// Events implements repositories.UpstreamSession.
func (s *session) Events() <-chan entities.Event {
	return s.events
}

// Close tears down the live session.
func (s *session) Close() error {
	return s.live.Close()
}

// receiveLoop translates live server messages into relay events until the
// session ends, then closes the event channel.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.live.Receive()
		if err != nil {
			return
		}
		for _, ev := range translateServerContent(msg.ServerContent) {
			s.events <- ev
		}
	}
}

// translateServerContent maps one live server-content message onto relay
// events: Interrupted means the user started talking over the model, model
// turn parts carry transcript text and inline PCM, TurnComplete closes the
// response. Gemini streams no separate transcript-complete marker; the
// transport's accumulated transcript stands in for it.
func translateServerContent(content *genai.LiveServerContent) []entities.Event {
	if content == nil {
		return nil
	}

	var events []entities.Event
	if content.Interrupted {
		events = append(events, entities.Event{Type: entities.EventSpeechStarted})
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				events = append(events, entities.Event{
					Type: entities.EventTranscriptDelta,
					Text: part.Text,
				})
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				events = append(events, entities.Event{
					Type:  entities.EventAudioResponse,
					Audio: part.InlineData.Data,
				})
			}
		}
	}
	if content.TurnComplete {
		events = append(events, entities.Event{Type: entities.EventResponseComplete})
	}
	return events
}
