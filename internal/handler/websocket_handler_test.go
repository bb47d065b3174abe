package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerforge/meterbill/internal/websocket"
)

func newRealtimeServer(t *testing.T) (*httptest.Server, *websocket.Feed) {
	t.Helper()

	feed := websocket.NewFeed(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go feed.Run(ctx)
	t.Cleanup(cancel)

	resolve := func(token string) (string, error) {
		if token == "valid" {
			return "org1", nil
		}
		return "", errors.New("bad token")
	}

	e := echo.New()
	h := NewRealtimeHandler(feed, resolve, nil)
	e.GET("/ws", h.Stream)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, feed
}

func TestStream_RejectsMissingToken(t *testing.T) {
	srv, _ := newRealtimeServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStream_RejectsInvalidToken(t *testing.T) {
	srv, _ := newRealtimeServer(t)

	resp, err := http.Get(srv.URL + "/ws?token=wrong")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStream_UpgradesAndReceivesOrgScopedEvents(t *testing.T) {
	srv, feed := newRealtimeServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=valid&topics=invoices"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	feed.Publish("org1", websocket.InvoiceFinalized(map[string]any{"invoice_id": "inv1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "invoice.finalized")
	assert.Contains(t, string(data), "inv1")
}
