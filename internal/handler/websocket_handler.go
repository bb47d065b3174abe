package handler

import (
	"net/http"

	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/ledgerforge/meterbill/internal/websocket"
)

// TokenOrgResolver authenticates a raw admin token and returns the
// organisation the connection is scoped to. Backed by the admin JWT
// middleware's ValidateToken in the composition root.
type TokenOrgResolver func(token string) (organisationID string, err error)

// RealtimeHandler serves GET /ws: the admin realtime feed. The token and
// the topic selection both arrive as query parameters, because browsers
// cannot set headers on WebSocket upgrades.
type RealtimeHandler struct {
	feed     *websocket.Feed
	resolve  TokenOrgResolver
	upgrader ws.Upgrader
}

func NewRealtimeHandler(feed *websocket.Feed, resolve TokenOrgResolver, allowedOrigins []string) *RealtimeHandler {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return &RealtimeHandler{
		feed:    feed,
		resolve: resolve,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// No Origin header means a same-origin or non-browser client.
				if origin == "" || originSet[origin] {
					return true
				}
				log.Warn().Str("origin", origin).Msg("realtime connection rejected: origin not allowed")
				return false
			},
		},
	}
}

// Stream authenticates, upgrades, and hands the connection to the feed.
// `topics` selects the subscription (comma-separated; empty means all).
func (h *RealtimeHandler) Stream(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	organisationID, err := h.resolve(token)
	if err != nil {
		log.Debug().Err(err).Msg("realtime connection rejected: invalid token")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	topics := websocket.ParseTopics(c.QueryParam("topics"))

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("realtime upgrade failed")
		return err
	}

	sub := h.feed.Subscribe(conn, organisationID, topics)
	log.Info().
		Str("organisation_id", organisationID).
		Str("subscriber_id", sub.ID()).
		Msg("realtime subscriber connected")
	return nil
}
