package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RouteDecision is the payload the task-loop router expects from the decision
// service: which processor runs next for the current task, or that the task
// is finished.
type RouteDecision struct {
	Goto       string `json:"goto"`
	Reason     string `json:"reason"`
	IsComplete bool   `json:"is_complete"`
}

// Complete reports whether the decision declares the current task finished,
// either explicitly or through the completion sentinel.
func (d RouteDecision) Complete() bool {
	return d.IsComplete || strings.EqualFold(strings.TrimSpace(d.Goto), CompleteSentinel)
}

// StepDecision is the payload the linear sequencer expects from the decision
// service: continue to a target, or request a replan with a reason.
type StepDecision struct {
	Replan bool   `json:"replan"`
	Goto   string `json:"goto"`
	Reason string `json:"reason"`
	Query  string `json:"query,omitempty"`
}

// ExtractJSON locates the first '{' and the last '}' in free text and returns
// the substring between them. Decision-service responses routinely wrap their
// JSON in prose; everything outside the braces is discarded.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrDecisionParse)
	}
	return text[start : end+1], nil
}

// ParseRouteDecision extracts and decodes a task-loop decision from free text.
func ParseRouteDecision(text string) (RouteDecision, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return RouteDecision{}, err
	}
	var d RouteDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return RouteDecision{}, fmt.Errorf("%w: %v", ErrDecisionParse, err)
	}
	if strings.TrimSpace(d.Goto) == "" && !d.IsComplete {
		return RouteDecision{}, fmt.Errorf("%w: decision names no target", ErrDecisionParse)
	}
	return d, nil
}

// ParseStepDecision extracts and decodes a linear-mode decision from free text.
func ParseStepDecision(text string) (StepDecision, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return StepDecision{}, err
	}
	var d StepDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return StepDecision{}, fmt.Errorf("%w: %v", ErrDecisionParse, err)
	}
	if !d.Replan && strings.TrimSpace(d.Goto) == "" {
		return StepDecision{}, fmt.Errorf("%w: decision names no target", ErrDecisionParse)
	}
	return d, nil
}
