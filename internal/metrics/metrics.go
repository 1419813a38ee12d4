// Package metrics provides Prometheus metrics for the billing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardbook"

// Collector holds all Prometheus metrics for cardbook.
type Collector struct {
	InvoicesCreated    *prometheus.CounterVec
	InvoiceTransitions *prometheus.CounterVec
	ConflictRetries    prometheus.Counter
	PurchasesCreated   *prometheus.CounterVec
	InstallmentsPlaced prometheus.Counter
	RecurringCloned    prometheus.Counter
	TotalsRewritten    prometheus.Counter
	EventsPublished    *prometheus.CounterVec
	StatementsExported *prometheus.CounterVec
}

// New registers the collector on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on reg (useful for tests).
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		InvoicesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoices_created_total",
				Help:      "Invoices created, by initial status",
			},
			[]string{"status"},
		),
		InvoiceTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoice_transitions_total",
				Help:      "Invoice status transitions",
			},
			[]string{"from", "to"},
		),
		ConflictRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoice_conflict_retries_total",
				Help:      "Invoice creations that hit the window unique constraint and were retried",
			},
		),
		PurchasesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_created_total",
				Help:      "Purchases created",
			},
			[]string{"kind"},
		),
		InstallmentsPlaced: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installments_placed_total",
				Help:      "Installment records created",
			},
		),
		RecurringCloned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recurring_purchases_cloned_total",
				Help:      "Recurring purchases copied into new invoices",
			},
		),
		TotalsRewritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoice_totals_rewritten_total",
				Help:      "Invoice totals corrected by reconciliation",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Domain events handed to the broker",
			},
			[]string{"type", "result"},
		),
		StatementsExported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_exported_total",
				Help:      "Closed statements exported by the worker",
			},
			[]string{"result"},
		),
	}
}

// The helpers below tolerate a nil collector so metrics stay optional.

func (c *Collector) InvoiceCreated(status string) {
	if c == nil {
		return
	}
	c.InvoicesCreated.WithLabelValues(status).Inc()
}

func (c *Collector) InvoiceTransition(from, to string) {
	if c == nil {
		return
	}
	c.InvoiceTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) ConflictRetry() {
	if c == nil {
		return
	}
	c.ConflictRetries.Inc()
}

func (c *Collector) PurchaseCreated(kind string) {
	if c == nil {
		return
	}
	c.PurchasesCreated.WithLabelValues(kind).Inc()
}

func (c *Collector) InstallmentPlaced() {
	if c == nil {
		return
	}
	c.InstallmentsPlaced.Inc()
}

func (c *Collector) RecurringClone() {
	if c == nil {
		return
	}
	c.RecurringCloned.Inc()
}

func (c *Collector) TotalRewritten() {
	if c == nil {
		return
	}
	c.TotalsRewritten.Inc()
}

func (c *Collector) EventPublished(eventType string, err error) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(eventType, result(err)).Inc()
}

func (c *Collector) StatementExported(err error) {
	if c == nil {
		return
	}
	c.StatementsExported.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
