package harness

import "github.com/roach88/dispatch/internal/ir"

// Trace entry types.
const (
	TraceCall  = "call"
	TraceView  = "view"
	TraceEvent = "event"
)

// TraceEntry is one line of a scenario trace: a submitted call, a read-only
// view, or an event emitted by a committed call.
type TraceEntry struct {
	Type      string    `json:"type"`
	Step      int       `json:"step"`
	CallID    string    `json:"call_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Args      []string  `json:"args,omitempty"`
	Value     string    `json:"value,omitempty"`
	Status    string    `json:"status,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Output    []string  `json:"output,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Emitter   string    `json:"emitter,omitempty"`
	Name      string    `json:"name,omitempty"`
	Fields    ir.Object `json:"fields,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists flow steps and their events in execution order.
	Trace []TraceEntry `json:"trace"`

	// Errors contains validation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError records a validation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddCall appends a call or view to the trace.
func (r *Result) AddCall(entry TraceEntry) {
	r.Trace = append(r.Trace, entry)
}

// AddEvents appends the events of a committed call.
func (r *Result) AddEvents(step int, events []ir.Event) {
	for _, ev := range events {
		r.Trace = append(r.Trace, TraceEntry{
			Type:    TraceEvent,
			Step:    step,
			CallID:  ev.CallID,
			Seq:     ev.Seq,
			Emitter: ev.Emitter,
			Name:    ev.Name,
			Fields:  ev.Fields,
		})
	}
}

// Events returns the event entries of the trace.
func (r *Result) Events() []TraceEntry {
	var out []TraceEntry
	for _, e := range r.Trace {
		if e.Type == TraceEvent {
			out = append(out, e)
		}
	}
	return out
}
