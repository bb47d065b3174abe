package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 45 * time.Second
	maxInboundSize = 512
	sendBuffer     = 64
)

// Subscriber is one admin connection: an organisation scope, a topic set,
// and a buffered outbound queue drained by its write pump. Subscribers
// never write application data; the inbound side exists only to service
// pongs and detect the close.
type Subscriber struct {
	id             string
	organisationID string
	topics         map[Topic]bool

	conn *ws.Conn
	send chan []byte
	feed *Feed

	// dropped counts events this subscriber lost to a full send buffer.
	dropped atomic.Int64
	once    sync.Once
}

// Subscribe registers a new subscriber on the feed and starts its pumps.
// If the feed has already shut down the connection is closed immediately.
func (f *Feed) Subscribe(conn *ws.Conn, organisationID string, topics map[Topic]bool) *Subscriber {
	if len(topics) == 0 {
		topics = AllTopics()
	}
	s := &Subscriber{
		id:             uuid.NewString(),
		organisationID: organisationID,
		topics:         topics,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		feed:           f,
	}

	select {
	case f.register <- s:
	case <-f.done:
		conn.Close()
		return s
	}

	go s.writePump()
	go s.readPump()
	return s
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Dropped returns how many events this subscriber has lost to backpressure.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// leave detaches from the feed exactly once and closes the connection. Safe
// to call from either pump; the feed loop closes s.send on removal, which
// in turn ends the write pump.
func (s *Subscriber) leave() {
	s.once.Do(func() {
		select {
		case s.feed.unregister <- s:
		case <-s.feed.done:
		}
		s.conn.Close()
	})
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.leave()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				s.conn.WriteMessage(ws.CloseMessage, []byte{})
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Subscriber) readPump() {
	defer s.leave()

	s.conn.SetReadLimit(maxInboundSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The feed is one-way; inbound frames are drained and discarded until
	// the peer closes or the read deadline lapses.
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
