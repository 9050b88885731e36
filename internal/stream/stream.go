// Package stream is the split-channel transport for clients that cannot
// hold a bidirectional socket open: a server-sent-event download leg plus a
// chunked-upload leg, correlated only by conversation id.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/internal/relay"
)

const (
	// Keep-alive comment period for the SSE leg, to hold the connection
	// through idle turns and intermediary timeouts.
	defaultKeepAlive = 15 * time.Second

	// Upload body read size. Watch clients send small chunks.
	uploadChunkSize = 8 * 1024
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the stream-transport endpoints over the shared registry.
type Handler struct {
	registry  *relay.Registry
	logger    *zap.Logger
	keepAlive time.Duration
}

// NewHandler creates a stream-transport handler.
func NewHandler(registry *relay.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  registry,
		logger:    logger,
		keepAlive: defaultKeepAlive,
	}
}

// Download starts (or replaces) the session for the conversation id and
// streams its events as server-sent events until the session ends or the
// client disconnects. The download leg owns session creation; the upload
// leg only feeds an existing session.
func (h *Handler) Download(c echo.Context, identity entities.DeviceIdentity) error {
	conversationID := c.QueryParam("conversationId")

	history, err := decodeHistory(c.QueryParam("history"))
	if err != nil {
		h.logger.Warn("Rejected malformed history",
			zap.String("deviceID", identity.DeviceID),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_history",
			Message: "history must be base64-encoded JSON turns",
		})
	}

	sess := h.registry.Start(conversationID, identity, history)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	clientGone := c.Request().Context().Done()
	for {
		select {
		case ev := <-sess.Events():
			if err := writeSSE(resp, ev); err != nil {
				h.registry.End(sess.ID())
				return nil
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": keep-alive\n\n"); err != nil {
				h.registry.End(sess.ID())
				return nil
			}
			resp.Flush()

		case <-clientGone:
			h.registry.End(sess.ID())
			return nil

		case <-sess.Done():
			// Flush anything still buffered, then finish the response.
			for {
				select {
				case ev := <-sess.Events():
					if err := writeSSE(resp, ev); err != nil {
						return nil
					}
				default:
					return nil
				}
			}
		}
	}
}

// Upload forwards each received body chunk as an audio append for the
// correlated session. The two legs may open in either order in theory, but
// a session must exist by the time audio arrives: a chunk for an unknown
// conversation id is a client error, never silently buffered.
func (h *Handler) Upload(c echo.Context, identity entities.DeviceIdentity) error {
	conversationID := c.QueryParam("conversationId")
	if conversationID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "missing_conversation_id",
			Message: "conversationId query parameter is required",
		})
	}

	sess, ok := h.registry.Get(conversationID)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{
			Error:   "session_not_found",
			Message: relay.ErrSessionNotFound.Error(),
		})
	}
	if sess.Device().DeviceID != identity.DeviceID {
		return c.JSON(http.StatusForbidden, errorResponse{
			Error:   "wrong_device",
			Message: "session belongs to another device",
		})
	}

	body := c.Request().Body
	defer body.Close()

	buf := make([]byte, uploadChunkSize)
	chunks := 0
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunks++
			if appendErr := sess.AppendAudio(buf[:n]); appendErr != nil {
				// Session ended mid-upload; the client learns via the
				// download leg, this request just stops.
				h.logger.Debug("Upload stopped",
					zap.String("conversationID", conversationID),
					zap.Error(appendErr))
				break
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.Warn("Upload read failed",
				zap.String("conversationID", conversationID),
				zap.Error(err))
			break
		}
	}

	// Upload completion is not an end signal; the client may just be
	// pausing between utterances.
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chunks": chunks,
	})
}

// End is the explicit end-of-conversation signal for the stream transport,
// since upload-stream completion is ambiguous. Idempotent, no-op on
// unknown ids.
func (h *Handler) End(c echo.Context, identity entities.DeviceIdentity) error {
	conversationID := c.QueryParam("conversationId")
	if conversationID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "missing_conversation_id",
			Message: "conversationId query parameter is required",
		})
	}

	if sess, ok := h.registry.Get(conversationID); ok {
		if sess.Device().DeviceID != identity.DeviceID {
			return c.JSON(http.StatusForbidden, errorResponse{
				Error:   "wrong_device",
				Message: "session belongs to another device",
			})
		}
	}

	h.registry.End(conversationID)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// writeSSE frames one relay event as a server-sent event and flushes it.
func writeSSE(resp *echo.Response, ev entities.Event) error {
	payload, err := relay.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

// decodeHistory parses the base64 JSON history query parameter.
func decodeHistory(raw string) ([]entities.ConversationTurn, error) {
	if raw == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Query values may arrive URL-safe encoded from watch HTTP stacks.
		decoded, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
	}
	var turns []entities.ConversationTurn
	if err := json.Unmarshal(decoded, &turns); err != nil {
		return nil, fmt.Errorf("invalid history JSON: %w", err)
	}
	for _, turn := range turns {
		if err := turn.Validate(); err != nil {
			return nil, fmt.Errorf("invalid history turn: %w", err)
		}
	}
	return turns, nil
}
