package observability

import (
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Ledger accumulates the audit trail of one run: routing decisions, execution
// events, and model calls. Appends come from the single orchestrator
// goroutine, but HTTP status endpoints may read mid-run, so access is
// serialized internally. There is no compaction or size bound; runs are
// bounded by the safeguard caps.
type Ledger struct {
	mu        sync.RWMutex
	decisions []domain.RoutingDecision
	timeline  []domain.ExecutionEvent
	calls     []domain.ModelCall
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// AppendDecision records a routing decision. Entries are immutable once
// appended; the caller must not retain and mutate the value.
func (l *Ledger) AppendDecision(d domain.RoutingDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
}

// AppendEvent records a finished execution event. Unfinished events are
// finished here rather than rejected, so a forgotten Finish cannot lose the
// entry.
func (l *Ledger) AppendEvent(e *domain.ExecutionEvent) {
	e.Finish()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeline = append(l.timeline, *e)
}

// AppendCall records one decision-service invocation.
func (l *Ledger) AppendCall(c domain.ModelCall) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// Decisions returns a copy of the decision log in append order.
func (l *Ledger) Decisions() []domain.RoutingDecision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.RoutingDecision, len(l.decisions))
	copy(out, l.decisions)
	return out
}

// Timeline returns a copy of the execution events in append order.
func (l *Ledger) Timeline() []domain.ExecutionEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ExecutionEvent, len(l.timeline))
	copy(out, l.timeline)
	return out
}

// Calls returns a copy of the call log in append order.
func (l *Ledger) Calls() []domain.ModelCall {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.ModelCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// DecisionCount returns the number of recorded decisions.
func (l *Ledger) DecisionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.decisions)
}

// LastDecision returns the most recent decision, if any.
func (l *Ledger) LastDecision() (domain.RoutingDecision, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.decisions) == 0 {
		return domain.RoutingDecision{}, false
	}
	return l.decisions[len(l.decisions)-1], true
}
