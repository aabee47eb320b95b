package runtime

import "fmt"

// guard enforces the cross-cutting caps at every sequencer and router entry,
// in either mode. It increments the invocation counter for entries that
// proceed and reports whether the run must stop instead. The caps are hard
// stops: no plan or decision-service answer overrides them.
func (x *execution) guard() (string, bool) {
	caps := x.eng.caps

	if x.state.Invocations >= caps.MaxInvocations {
		return fmt.Sprintf("invocation cap %d reached; forcing terminal state", caps.MaxInvocations), true
	}
	x.state.Invocations++
	x.eng.metrics.ObserveInvocation()

	if x.state.CurrentStep > caps.MaxSteps {
		return fmt.Sprintf("step cap %d exceeded at step %d; forcing terminal state", caps.MaxSteps, x.state.CurrentStep), true
	}
	return "", false
}
