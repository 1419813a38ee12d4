package services

import (
	"context"
	"log/slog"
	"time"

	"cardbook/internal/clock"
	"cardbook/internal/core"
	"cardbook/internal/lock"
	"cardbook/internal/metrics"
	"cardbook/internal/storage"
)

// EventPublisher delivers domain events once the transaction that raised
// them has committed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e core.Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishEvent(context.Context, core.Event) error { return nil }

// Tx is the transactional scope of one top-level operation. Engine
// components read and write through it and raise events on it.
type Tx struct {
	storage.Store
	Now    time.Time
	Today  core.Date
	events []core.Event
}

func (t *Tx) emit(e core.Event) {
	if e.At.IsZero() {
		e.At = t.Now
	}
	t.events = append(t.events, e)
}

// Events returns the events raised so far.
func (t *Tx) Events() []core.Event {
	return append([]core.Event(nil), t.events...)
}

// Runner executes operations under the card lock inside one storage
// transaction, then publishes the collected events.
type Runner struct {
	store     storage.Store
	clock     clock.Clock
	locker    lock.Locker
	publisher EventPublisher
	metrics   *metrics.Collector
}

type RunnerOption func(*Runner)

func WithLocker(l lock.Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

func WithPublisher(p EventPublisher) RunnerOption {
	return func(r *Runner) { r.publisher = p }
}

func WithMetrics(m *metrics.Collector) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(store storage.Store, c clock.Clock, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     store,
		clock:     c,
		locker:    lock.NewLocal(),
		publisher: NoopPublisher{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Store() storage.Store {
	return r.store
}

func (r *Runner) Clock() clock.Clock {
	return r.clock
}

func (r *Runner) Metrics() *metrics.Collector {
	return r.metrics
}

// Run holds the lock of cardID (none when cardID is 0) for the duration of fn.
func (r *Runner) Run(ctx context.Context, cardID int64, fn func(tx *Tx) error) error {
	if cardID != 0 {
		unlock, err := r.locker.Lock(ctx, lock.CardKey(cardID))
		if err != nil {
			return err
		}
		defer unlock()
	}

	var events []core.Event
	err := r.store.WithinTx(ctx, func(st storage.Store) error {
		now := r.clock.Now()
		tx := &Tx{Store: st, Now: now, Today: core.DateOf(now)}
		if err := fn(tx); err != nil {
			return err
		}
		events = tx.events
		return nil
	})
	if err != nil {
		return err
	}

	r.publish(ctx, events)
	return nil
}

// publish never fails the operation: the data is already committed.
func (r *Runner) publish(ctx context.Context, events []core.Event) {
	for _, e := range events {
		err := r.publisher.PublishEvent(ctx, e)
		r.metrics.EventPublished(e.Type.String(), err)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to publish event",
				"type", e.Type,
				"card_id", e.CardID,
				"invoice_id", e.InvoiceID,
				"purchase_id", e.PurchaseID,
				"error", err)
		}
	}
}

func invoiceEvent(t core.EventType, inv core.Invoice) core.Event {
	return core.Event{Type: t, CardID: inv.CardID, InvoiceID: inv.ID, Status: inv.Status}
}

func purchaseEvent(t core.EventType, p core.Purchase) core.Event {
	return core.Event{Type: t, CardID: p.CardID, PurchaseID: p.ID}
}
