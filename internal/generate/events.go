package generate

import "github.com/dgallion1/novelgen/internal/doctree"

// LeafState is the position of one leaf in its state machine.
type LeafState string

const (
	StatePending    LeafState = "pending"
	StateInProgress LeafState = "in_progress"
	StateDone       LeafState = "done"
	StateFailed     LeafState = "failed"
)

// EventType names what an Event reports.
type EventType string

const (
	EventLeafStarted EventType = "leaf_started"
	EventChunk       EventType = "chunk"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// Event is one observable step of a run. Document is an immutable snapshot
// of the working document after the step.
type Event struct {
	Type        EventType        `json:"type"`
	Key         string           `json:"key,omitempty"`
	Title       string           `json:"title,omitempty"`
	State       LeafState        `json:"state,omitempty"`
	Fragment    string           `json:"fragment,omitempty"`
	Accumulated string           `json:"accumulated,omitempty"`
	Content     string           `json:"content,omitempty"`
	Message     string           `json:"message,omitempty"`
	Refusal     bool             `json:"refusal,omitempty"`
	Progress    float64          `json:"progress"`
	Completed   int              `json:"completed"`
	Total       int              `json:"total"`
	Err         error            `json:"-"`
	Document    doctree.Document `json:"-"`
}

// Observer receives events synchronously on the run's goroutine.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}
