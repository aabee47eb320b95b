package ports

import "context"

// ModelRequest carries one decision-service invocation. Node and Purpose are
// bookkeeping for the call log; they never reach the wire.
type ModelRequest struct {
	Node        string
	Purpose     string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ModelClient is the decision service: a structured prompt in, free text out.
// The core extracts and validates JSON from the response itself; the client
// only moves text.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (string, error)

	// Model returns the nominal model identity for the call log.
	Model() string
}
