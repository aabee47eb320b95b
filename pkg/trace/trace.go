// Package trace writes and reads run ledgers as JSON Lines. Each line is one
// sequenced, typed entry; a file holds exactly one run. Traces are inspection
// artifacts, never inputs to a live run.
package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

const scannerMaxBytes = 4 * 1024 * 1024

// EntryType tags a trace line.
type EntryType string

const (
	EntryPlan         EntryType = "plan"
	EntryDecision     EntryType = "decision"
	EntryDispatch     EntryType = "dispatch"
	EntryModelCall    EntryType = "model_call"
	EntryTaskComplete EntryType = "task_complete"
	EntryFinish       EntryType = "finish"
)

// PlanPayload is the body of a plan entry.
type PlanPayload struct {
	Goal     string      `json:"goal,omitempty"`
	Fallback bool        `json:"fallback,omitempty"`
	Plan     domain.Plan `json:"plan"`
}

// DispatchPayload is the body of a dispatch entry.
type DispatchPayload struct {
	Agent  domain.AgentKind `json:"agent"`
	TaskID string           `json:"task_id,omitempty"`
}

// TaskPayload is the body of a task_complete entry.
type TaskPayload struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// FinishPayload is the body of a finish entry.
type FinishPayload struct {
	Status         domain.RunStatus `json:"status"`
	TaskCount      int              `json:"task_count"`
	CompletedCount int              `json:"completed_count"`
	Invocations    int              `json:"invocations"`
	ReportLocation string           `json:"report_location,omitempty"`
}

// Entry is one trace line. Exactly one payload field matches Type.
type Entry struct {
	Seq   int64     `json:"seq"`
	RunID string    `json:"run_id"`
	Type  EntryType `json:"type"`
	At    time.Time `json:"at"`

	Plan     *PlanPayload            `json:"plan,omitempty"`
	Decision *domain.RoutingDecision `json:"decision,omitempty"`
	Dispatch *DispatchPayload        `json:"dispatch,omitempty"`
	Call     *domain.ModelCall       `json:"call,omitempty"`
	Task     *TaskPayload            `json:"task,omitempty"`
	Finish   *FinishPayload          `json:"finish,omitempty"`
}

// Validate checks the envelope and that the payload matches the type.
func (e Entry) Validate() error {
	if e.RunID == "" {
		return fmt.Errorf("trace entry %d: missing run_id", e.Seq)
	}

	var want bool
	switch e.Type {
	case EntryPlan:
		want = e.Plan != nil
	case EntryDecision:
		want = e.Decision != nil
	case EntryDispatch:
		want = e.Dispatch != nil
	case EntryModelCall:
		want = e.Call != nil
	case EntryTaskComplete:
		want = e.Task != nil
	case EntryFinish:
		want = e.Finish != nil
	default:
		return fmt.Errorf("trace entry %d: unknown type %q", e.Seq, e.Type)
	}
	if !want {
		return fmt.Errorf("trace entry %d: %s entry is missing its payload", e.Seq, e.Type)
	}

	payloads := 0
	for _, set := range []bool{
		e.Plan != nil, e.Decision != nil, e.Dispatch != nil,
		e.Call != nil, e.Task != nil, e.Finish != nil,
	} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return fmt.Errorf("trace entry %d: expected exactly one payload, found %d", e.Seq, payloads)
	}
	return nil
}

// Writer appends entries to a JSONL stream. Safe for concurrent use; the
// first append failure sticks and surfaces again from Close.
type Writer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	runID   string
	nextSeq int64
	closed  bool
	err     error
}

// NewWriter starts a trace for one run.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:       bufio.NewWriter(w),
		runID:   runID,
		nextSeq: 1,
	}
}

// Append stamps the entry with the next sequence number and writes one line.
// Missing run IDs and timestamps are filled in; mismatched ones are errors.
func (w *Writer) Append(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.fail(fmt.Errorf("trace writer is closed"))
	}
	if e == nil {
		return w.fail(fmt.Errorf("trace entry is nil"))
	}

	if e.RunID == "" {
		e.RunID = w.runID
	}
	if w.runID != "" && e.RunID != w.runID {
		return w.fail(fmt.Errorf("run_id mismatch: writer=%s entry=%s", w.runID, e.RunID))
	}
	if e.Seq == 0 {
		e.Seq = w.nextSeq
	}
	if e.Seq != w.nextSeq {
		return w.fail(fmt.Errorf("unexpected seq: got=%d want=%d", e.Seq, w.nextSeq))
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	if err := e.Validate(); err != nil {
		return w.fail(err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return w.fail(fmt.Errorf("marshal trace entry: %w", err))
	}
	if _, err := w.w.Write(line); err != nil {
		return w.fail(fmt.Errorf("write trace entry: %w", err))
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return w.fail(fmt.Errorf("write newline: %w", err))
	}
	w.nextSeq++
	return nil
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}

// Err returns the first append failure, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Flush pushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Close flushes and seals the writer. It returns the first append failure
// over the flush result, so a lossy trace is never reported as clean.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	w.closed = true
	flushErr := w.w.Flush()
	if w.err != nil {
		return w.err
	}
	return flushErr
}

// Hooks returns lifecycle hooks that append every observable run event to the
// writer. Append failures stick inside the writer rather than disturbing the
// run; callers read them back from Close or Err.
func Hooks(w *Writer, goal string) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPlan: func(_ context.Context, plan domain.Plan, fallback bool) {
			_ = w.Append(&Entry{Type: EntryPlan, Plan: &PlanPayload{Goal: goal, Fallback: fallback, Plan: plan}})
		},
		OnDecision: func(_ context.Context, d *domain.RoutingDecision) {
			_ = w.Append(&Entry{Type: EntryDecision, Decision: d})
		},
		OnDispatch: func(_ context.Context, kind domain.AgentKind, task *domain.Task) {
			p := &DispatchPayload{Agent: kind}
			if task != nil {
				p.TaskID = task.ID
			}
			_ = w.Append(&Entry{Type: EntryDispatch, Dispatch: p})
		},
		OnTaskComplete: func(_ context.Context, task domain.Task, reason string) {
			_ = w.Append(&Entry{Type: EntryTaskComplete, Task: &TaskPayload{TaskID: task.ID, Content: task.Content, Reason: reason}})
		},
		OnModelCall: func(_ context.Context, call *domain.ModelCall) {
			_ = w.Append(&Entry{Type: EntryModelCall, Call: call})
		},
		OnFinish: func(_ context.Context, record *domain.RunRecord) {
			_ = w.Append(&Entry{Type: EntryFinish, Finish: &FinishPayload{
				Status:         record.Status,
				TaskCount:      record.TaskCount,
				CompletedCount: record.CompletedCount,
				Invocations:    record.Invocations,
				ReportLocation: record.ReportLocation,
			}})
		},
	}
}

// RecordEntries flattens an archived record into trace entries, interleaved
// by timestamp, for after-the-fact inspection of runs that were not traced
// live.
func RecordEntries(record *domain.RunRecord) []Entry {
	entries := make([]Entry, 0, 2+len(record.Decisions)+len(record.Timeline)+len(record.Calls))

	entries = append(entries, Entry{
		RunID: record.ID,
		Type:  EntryPlan,
		At:    record.StartedAt,
		Plan:  &PlanPayload{Goal: record.Goal, Plan: record.Plan},
	})
	for i := range record.Decisions {
		d := record.Decisions[i]
		entries = append(entries, Entry{
			RunID:    record.ID,
			Type:     EntryDecision,
			At:       d.Timestamp,
			Decision: &d,
		})
	}
	for i := range record.Timeline {
		ev := record.Timeline[i]
		entries = append(entries, Entry{
			RunID:    record.ID,
			Type:     EntryDispatch,
			At:       ev.StartedAt,
			Dispatch: &DispatchPayload{Agent: domain.ParseAgentKind(ev.Node), TaskID: ev.TaskID},
		})
	}
	for i := range record.Calls {
		call := record.Calls[i]
		entries = append(entries, Entry{
			RunID: record.ID,
			Type:  EntryModelCall,
			At:    call.Timestamp,
			Call:  &call,
		})
	}
	entries = append(entries, Entry{
		RunID: record.ID,
		Type:  EntryFinish,
		At:    record.FinishedAt,
		Finish: &FinishPayload{
			Status:         record.Status,
			TaskCount:      record.TaskCount,
			CompletedCount: record.CompletedCount,
			Invocations:    record.Invocations,
			ReportLocation: record.ReportLocation,
		},
	})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.Before(entries[j].At)
	})
	for i := range entries {
		entries[i].Seq = int64(i + 1)
	}
	return entries
}

// Reader decodes entries line by line.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps a JSONL stream.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scannerMaxBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next entry, or io.EOF at the end of the stream.
func (r *Reader) Next() (Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Entry{}, err
		}
		return Entry{}, io.EOF
	}
	r.line++
	var e Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &e); err != nil {
		return Entry{}, fmt.Errorf("line %d: %w", r.line, err)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, fmt.Errorf("line %d: %w", r.line, err)
	}
	return e, nil
}

// ReadAll drains a trace stream.
func ReadAll(r io.Reader) ([]Entry, error) {
	reader := NewReader(r)
	var out []Entry
	for {
		e, err := reader.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}
