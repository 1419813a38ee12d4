package services

import (
	"cardbook/internal/billing"
	"cardbook/internal/clock"
	"cardbook/internal/storage"
)

// Engine wires the billing components around one store.
type Engine struct {
	*Runner
	Ledger     *Ledger
	Propagator *Propagator
	Planner    *Planner
	Reconciler *Reconciler
}

func NewEngine(store storage.Store, c clock.Clock, anchor billing.RetroactiveAnchor, opts ...RunnerOption) *Engine {
	runner := NewRunner(store, c, opts...)
	m := runner.Metrics()

	propagator := NewPropagator(m)
	ledger := NewLedger(anchor, propagator, m)
	return &Engine{
		Runner:     runner,
		Ledger:     ledger,
		Propagator: propagator,
		Planner:    NewPlanner(ledger, m),
		Reconciler: NewReconciler(m),
	}
}
