package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/internal/auth"
	"github.com/drobiss/ChatOnWrist-sub000/internal/stream"
	"github.com/drobiss/ChatOnWrist-sub000/internal/websocket"
)

// InitRoutes wires the relay endpoints onto the echo instance.
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	streamHandler *stream.Handler,
	authenticator *auth.Authenticator,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "chatonwrist-relay",
		})
	})

	// Socket transport: one full-duplex connection per conversation.
	e.GET("/ws", withDeviceAuth(authenticator, logger, func(c echo.Context, identity entities.DeviceIdentity) error {
		return websocket.HandleWebSocket(hub, c, identity, logger)
	}))

	// Stream transport: SSE download + chunked upload + explicit end,
	// correlated by conversation id. Watch network stacks cannot set
	// headers on the SSE request, hence the token query parameter.
	e.GET("/stream", withDeviceAuth(authenticator, logger, streamHandler.Download))
	e.POST("/upload", withDeviceAuth(authenticator, logger, streamHandler.Upload))
	e.POST("/end", withDeviceAuth(authenticator, logger, streamHandler.End))
}

// withDeviceAuth validates the bearer credential before the handler runs.
// Every validation failure yields the same 401 body.
func withDeviceAuth(
	authenticator *auth.Authenticator,
	logger *zap.Logger,
	next func(echo.Context, entities.DeviceIdentity) error,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			logger.Warn("Request rejected: missing token",
				zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthenticated",
				Message: "A device token is required",
			})
		}

		identity, err := authenticator.ValidateDeviceToken(token)
		if err != nil {
			logger.Warn("Request rejected: invalid token",
				zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthenticated",
				Message: "Invalid device token",
			})
		}

		return next(c, identity)
	}
}

// bearerToken extracts the credential from the Authorization header, or
// from the token query parameter for transports that cannot set headers.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}
