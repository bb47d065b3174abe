package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialFeed stands up a minimal upgrade endpoint in front of f and returns a
// connected client conn. The server side registers the connection with the
// feed exactly the way the realtime handler does.
func dialFeed(t *testing.T, f *Feed, organisationID string, topics map[Topic]bool) *ws.Conn {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.Subscribe(conn, organisationID, topics)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Registration happens on the server goroutine after the handshake
	// returns; give the feed loop a beat to process it.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *ws.Conn, timeout time.Duration) (Event, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Event{}, false
	}
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev, true
}

func runFeed(t *testing.T, f *Feed) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)
	t.Cleanup(cancel)
}

func TestFeedScopesEventsToOrganisation(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	runFeed(t, f)

	org1 := dialFeed(t, f, "org1", AllTopics())
	org2 := dialFeed(t, f, "org2", AllTopics())

	f.Publish("org1", InvoiceFinalized(map[string]any{"invoice_id": "inv1"}))

	ev, ok := readEvent(t, org1, 2*time.Second)
	require.True(t, ok, "org1 should receive its own invoice event")
	assert.Equal(t, EntityTypeInvoice, ev.Entity)
	assert.Equal(t, "invoice.finalized", ev.Type)

	_, ok = readEvent(t, org2, 300*time.Millisecond)
	assert.False(t, ok, "org2 must not see org1's events")
}

func TestFeedFiltersByTopic(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	runFeed(t, f)

	conn := dialFeed(t, f, "org1", map[Topic]bool{TopicPayments: true})

	f.Publish("org1", InvoiceFinalized(map[string]any{"invoice_id": "inv1"}))
	f.Publish("org1", PaymentCaptured(map[string]any{"payment_id": "pay1"}))

	ev, ok := readEvent(t, conn, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, EntityTypePayment, ev.Entity, "invoice event should have been filtered out")

	_, ok = readEvent(t, conn, 300*time.Millisecond)
	assert.False(t, ok, "no further events expected")
}

func TestFeedCoalescesUsageDeltas(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	f.flushEvery = 20 * time.Millisecond
	runFeed(t, f)

	conn := dialFeed(t, f, "org1", map[Topic]bool{TopicUsage: true})

	f.PublishUsage("org1", "api_calls", "count", decimal.NewFromFloat(1.5), 1)
	f.PublishUsage("org1", "api_calls", "count", decimal.NewFromFloat(2.5), 1)
	f.PublishUsage("org1", "api_calls", "count", decimal.NewFromInt(6), 1)

	ev, ok := readEvent(t, conn, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, EntityTypeUsageAggregate, ev.Entity)

	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "api_calls", payload["metric_name"])
	assert.Equal(t, "10", payload["delta"], "three deltas must arrive as one summed event")
	assert.Equal(t, float64(3), payload["event_count"])
}

func TestFeedSurvivesSubscriberDisconnect(t *testing.T) {
	f := NewFeed(zerolog.Nop())
	runFeed(t, f)

	leaver := dialFeed(t, f, "org1", AllTopics())
	stayer := dialFeed(t, f, "org1", AllTopics())

	leaver.Close()
	time.Sleep(50 * time.Millisecond)

	f.Publish("org1", AlertTriggered(map[string]any{"rule_type": "usage_threshold"}))

	ev, ok := readEvent(t, stayer, 2*time.Second)
	require.True(t, ok, "remaining subscriber still receives events")
	assert.Equal(t, EntityTypeAlert, ev.Entity)
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, AllTopics(), ParseTopics(""))
	assert.Equal(t, AllTopics(), ParseTopics("bogus,also-bogus"))
	assert.Equal(t, map[Topic]bool{TopicUsage: true}, ParseTopics("usage"))
	assert.Equal(t, map[Topic]bool{TopicPayments: true, TopicAlerts: true}, ParseTopics("payments,alerts"))
}
