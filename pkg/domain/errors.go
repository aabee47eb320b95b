package domain

import "errors"

// ErrDecisionParse is returned when a decision-service response contains no
// usable JSON payload.
var ErrDecisionParse = errors.New("decision response contains no valid JSON")

// ErrPlanInvalid is returned when a parsed plan violates the plan invariants.
var ErrPlanInvalid = errors.New("plan is invalid")

// ErrInvalidTarget is returned when a routing target is not in the enabled set.
var ErrInvalidTarget = errors.New("routing target not enabled")

// ErrLoopLimit marks a safeguard cap forcing termination or completion.
var ErrLoopLimit = errors.New("loop limit exceeded")

// ErrRunNotFound is returned when a run ID cannot be found in an archive store.
var ErrRunNotFound = errors.New("run not found")
