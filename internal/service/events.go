package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// Signal bus names.
const (
	EventsChannel = "ch:settlement"
	EventsStream  = "stream:settlement"
)

// MarketChannel is the per-market pub/sub channel.
func MarketChannel(id uuid.UUID) string { return "ch:market:" + id.String() }

// Notifier forwards events to people.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

const notifyTimeout = 10 * time.Second

// EventPublisher announces committed operations: it invalidates the market
// cache, publishes on the signal bus, appends to the durable event stream,
// fans out to in-process subscribers and forwards to the notifier. Every
// collaborator is optional and failures are logged, never returned.
type EventPublisher struct {
	bus      domain.SignalBus
	cache    domain.MarketCache
	notifier Notifier
	logger   *slog.Logger

	mu   sync.RWMutex
	subs map[int]chan domain.Event
	next int
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(bus domain.SignalBus, cache domain.MarketCache, notifier Notifier, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		bus:      bus,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
		subs:     make(map[int]chan domain.Event),
	}
}

// Publish announces ev.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.Event) {
	if p.cache != nil && ev.MarketID != uuid.Nil {
		if err := p.cache.Invalidate(ctx, ev.MarketID); err != nil {
			p.warn(ctx, "cache invalidate failed", ev, err)
		}
	}

	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.warn(ctx, "marshal event failed", ev, err)
		} else {
			if err := p.bus.Publish(ctx, EventsChannel, payload); err != nil {
				p.warn(ctx, "publish failed", ev, err)
			}
			if ev.MarketID != uuid.Nil {
				if err := p.bus.Publish(ctx, MarketChannel(ev.MarketID), payload); err != nil {
					p.warn(ctx, "publish market channel failed", ev, err)
				}
			}
			if err := p.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
				p.warn(ctx, "stream append failed", ev, err)
			}
		}
	}

	p.fanout(ev)

	if p.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := p.notifier.NotifyEvent(nctx, ev); err != nil {
			p.warn(ctx, "notify failed", ev, err)
		}
	}

	p.logger.InfoContext(ctx, "event published",
		slog.String("event", string(ev.Type)),
		slog.String("market_id", ev.MarketID.String()),
		slog.String("actor", ev.Actor),
	)
}

// Subscribe registers an in-process listener. Events are dropped for a
// listener whose buffer is full. The returned func unsubscribes and closes
// the channel.
func (p *EventPublisher) Subscribe(buffer int) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, buffer)

	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

func (p *EventPublisher) fanout(ev domain.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent reads events from the durable stream after lastID ("0" for the
// beginning).
func (p *EventPublisher) Recent(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if p.bus == nil {
		return nil, nil
	}
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := p.bus.StreamRead(ctx, EventsStream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("service: recent events: %w", err)
	}
	return msgs, nil
}

func (p *EventPublisher) warn(ctx context.Context, msg string, ev domain.Event, err error) {
	p.logger.WarnContext(ctx, msg,
		slog.String("event", string(ev.Type)),
		slog.String("event_id", ev.ID.String()),
		slog.String("error", err.Error()),
	)
}

// BusEvents decodes events published on the signal bus by any instance. The
// channel closes when ctx is done.
func BusEvents(ctx context.Context, bus domain.SignalBus, logger *slog.Logger) (<-chan domain.Event, error) {
	raw, err := bus.Subscribe(ctx, EventsChannel)
	if err != nil {
		return nil, fmt.Errorf("service: subscribe events: %w", err)
	}
	out := make(chan domain.Event, 64)
	go func() {
		defer close(out)
		for payload := range raw {
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				logger.WarnContext(ctx, "bad event payload",
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
