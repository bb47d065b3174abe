// Package websocket implements the admin realtime feed. A single Feed
// goroutine owns all subscriber state, so there are no locks on the
// publish path: registrations, departures, publishes, and usage-delta
// flushes are all messages into one event loop. Usage deltas are coalesced
// per (org, metric, unit) and flushed on an interval rather than pushed
// per event, because a busy ingest pipeline lands thousands of events per
// flush window and a dashboard only needs the running total.
package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Topic is a subscription class. Subscribers name the topics they want at
// connect time; everything else is filtered out before it reaches their
// send buffer.
type Topic string

const (
	TopicUsage    Topic = "usage"
	TopicInvoices Topic = "invoices"
	TopicPayments Topic = "payments"
	TopicAlerts   Topic = "alerts"
)

// topicFor routes an event to the subscription class its entity belongs to.
func topicFor(entity EntityType) Topic {
	switch entity {
	case EntityTypeInvoice:
		return TopicInvoices
	case EntityTypePayment:
		return TopicPayments
	case EntityTypeAlert:
		return TopicAlerts
	default:
		return TopicUsage
	}
}

// AllTopics is the default subscription when a client names none.
func AllTopics() map[Topic]bool {
	return map[Topic]bool{TopicUsage: true, TopicInvoices: true, TopicPayments: true, TopicAlerts: true}
}

// ParseTopics turns a comma-separated topic list into a subscription set.
// Unknown names are ignored; an empty list means everything.
func ParseTopics(csv string) map[Topic]bool {
	if csv == "" {
		return AllTopics()
	}
	out := map[Topic]bool{}
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			switch Topic(csv[start:i]) {
			case TopicUsage, TopicInvoices, TopicPayments, TopicAlerts:
				out[Topic(csv[start:i])] = true
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return AllTopics()
	}
	return out
}

type scopedEvent struct {
	organisationID string
	event          Event
}

type usageKey struct {
	organisationID string
	metricName     string
	unit           string
}

type usageDelta struct {
	value decimal.Decimal
	count int64
}

const (
	defaultFlushInterval = 2 * time.Second
	feedBacklog          = 256
)

// Feed fans billing state changes out to connected admin clients, scoped to
// each subscriber's organisation and topic set.
type Feed struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	events     chan scopedEvent
	usage      chan scopedUsage
	done       chan struct{}

	flushEvery time.Duration
	logger     zerolog.Logger

	// droppedPublishes counts events discarded because the loop's inbox was
	// full; the publish path never blocks a webhook or a migration batch.
	droppedPublishes atomic.Int64
}

type scopedUsage struct {
	key   usageKey
	delta usageDelta
}

func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		events:     make(chan scopedEvent, feedBacklog),
		usage:      make(chan scopedUsage, feedBacklog),
		done:       make(chan struct{}),
		flushEvery: defaultFlushInterval,
		logger:     logger.With().Str("component", "realtime_feed").Logger(),
	}
}

// Run is the feed's event loop. It owns the subscriber map and the pending
// usage-delta buffer exclusively; run it in its own goroutine and cancel
// ctx to shut the feed down (all subscriber connections are closed).
func (f *Feed) Run(ctx context.Context) {
	defer close(f.done)

	subscribers := map[string]map[*Subscriber]struct{}{}
	pending := map[usageKey]*usageDelta{}

	ticker := time.NewTicker(f.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, orgSubs := range subscribers {
				for s := range orgSubs {
					close(s.send)
				}
			}
			return

		case s := <-f.register:
			orgSubs, ok := subscribers[s.organisationID]
			if !ok {
				orgSubs = map[*Subscriber]struct{}{}
				subscribers[s.organisationID] = orgSubs
			}
			orgSubs[s] = struct{}{}
			f.logger.Debug().Str("organisation_id", s.organisationID).Int("org_subscribers", len(orgSubs)).Msg("subscriber joined")

		case s := <-f.unregister:
			if orgSubs, ok := subscribers[s.organisationID]; ok {
				if _, present := orgSubs[s]; present {
					delete(orgSubs, s)
					close(s.send)
					if len(orgSubs) == 0 {
						delete(subscribers, s.organisationID)
					}
				}
			}

		case ev := <-f.events:
			f.deliver(subscribers[ev.organisationID], ev.event)

		case u := <-f.usage:
			d, ok := pending[u.key]
			if !ok {
				d = &usageDelta{value: decimal.Zero}
				pending[u.key] = d
			}
			d.value = d.value.Add(u.delta.value)
			d.count += u.delta.count

		case <-ticker.C:
			for key, d := range pending {
				f.deliver(subscribers[key.organisationID], UsageAggregateUpdated(map[string]any{
					"metric_name": key.metricName,
					"unit":        key.unit,
					"delta":       d.value.String(),
					"event_count": d.count,
				}))
			}
			clear(pending)
		}
	}
}

// deliver serialises once and hands the payload to every subscriber whose
// topic set matches. A subscriber with a full send buffer loses this event
// and stays connected; disconnecting a slow dashboard over a dropped delta
// would cost more than the gap it leaves.
func (f *Feed) deliver(orgSubs map[*Subscriber]struct{}, ev Event) {
	if len(orgSubs) == 0 {
		return
	}
	topic := topicFor(ev.Entity)

	data, err := ev.ToJSON()
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", ev.Type).Msg("event serialisation failed")
		return
	}

	for s := range orgSubs {
		if !s.topics[topic] {
			continue
		}
		select {
		case s.send <- data:
		default:
			s.dropped.Add(1)
		}
	}
}

// Publish queues an event for every subscriber of organisationID. Never
// blocks: if the feed's inbox is full the event is counted and discarded,
// because no caller (webhook handler, migration batch, alert engine) may
// stall on a dashboard.
func (f *Feed) Publish(organisationID string, ev Event) {
	select {
	case f.events <- scopedEvent{organisationID: organisationID, event: ev}:
	case <-f.done:
	default:
		f.droppedPublishes.Add(1)
	}
}

// PublishUsage feeds one usage delta into the coalescing buffer; subscribers
// see one summed usage_aggregate.updated event per (metric, unit) per flush
// interval. Same never-block policy as Publish.
func (f *Feed) PublishUsage(organisationID, metricName, unit string, value decimal.Decimal, count int64) {
	u := scopedUsage{
		key:   usageKey{organisationID: organisationID, metricName: metricName, unit: unit},
		delta: usageDelta{value: value, count: count},
	}
	select {
	case f.usage <- u:
	case <-f.done:
	default:
		f.droppedPublishes.Add(1)
	}
}
