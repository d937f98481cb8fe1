// Package relay drains the outbox and fans committed ticket events out to
// display subscribers and, when configured, a NATS subject per event type.
// The relay is the only component that advances the outbox offset, so every
// event is delivered at least once in commit order.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"mqs/queue-service/internal/hub"
	"mqs/queue-service/internal/store"
)

const Consumer = "display-relay"

type Publisher interface {
	Publish(ctx context.Context, subject string, msg []byte) error
}

// EventSource is the slice of the ticket store the relay needs.
type EventSource interface {
	GetRelayOffset(ctx context.Context, consumer string) (store.Offset, error)
	ListOutboxEvents(ctx context.Context, after store.Offset, limit int) ([]store.OutboxEvent, error)
	UpdateRelayOffset(ctx context.Context, consumer string, offset store.Offset) error
}

type eventEnvelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Relay struct {
	store         EventSource
	hub           *hub.Hub
	publisher     Publisher
	subjectPrefix string
	interval      time.Duration
	batchSize     int
	running       int32
}

type Options struct {
	Publisher     Publisher
	SubjectPrefix string
	PollInterval  time.Duration
	BatchSize     int
}

func New(st EventSource, h *hub.Hub, options Options) *Relay {
	interval := options.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := options.BatchSize
	if batch <= 0 {
		batch = 100
	}
	prefix := options.SubjectPrefix
	if prefix == "" {
		prefix = "queue"
	}
	return &Relay{
		store:         st,
		hub:           h,
		publisher:     options.Publisher,
		subjectPrefix: prefix,
		interval:      interval,
		batchSize:     batch,
	}
}

// Run polls until ctx is canceled. A slow drain never overlaps with the next
// tick; ticks that fire while a drain is in flight are skipped.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
				continue
			}
			if err := r.Drain(ctx); err != nil {
				log.Printf("relay drain error: %v", err)
			}
			atomic.StoreInt32(&r.running, 0)
		}
	}
}

// Drain delivers one batch of outbox events and advances the stored offset.
func (r *Relay) Drain(ctx context.Context) error {
	offset, err := r.store.GetRelayOffset(ctx, Consumer)
	if err != nil {
		return err
	}

	events, err := r.store.ListOutboxEvents(ctx, offset, r.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		offset.LastEventTime = event.CreatedAt
		offset.LastEventID = event.EventID

		envelope, err := json.Marshal(eventEnvelope{
			EventID:   event.EventID,
			Type:      event.Type,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			return err
		}

		r.hub.Broadcast(envelope, extractMeta(event.Payload))

		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, r.subjectPrefix+"."+event.Type, envelope); err != nil {
				log.Printf("relay publish %s: %v", event.Type, err)
			}
		}
	}

	return r.store.UpdateRelayOffset(ctx, Consumer, offset)
}

func extractMeta(payload []byte) hub.Subscription {
	var change store.StateChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return hub.Subscription{}
	}
	return hub.Subscription{
		DepartmentID: change.DepartmentID,
		Lane:         change.Lane,
	}
}
