package model

import "time"

// RunState is the lifecycle state of one collector run. Transitions only
// move forward: idle -> listing -> detail_fetch -> aggregating -> done.
type RunState string

const (
	RunStateIdle        RunState = "idle"
	RunStateListing     RunState = "listing"
	RunStateDetailFetch RunState = "detail_fetch"
	RunStateAggregating RunState = "aggregating"
	RunStateDone        RunState = "done"
)

var runStateOrder = map[RunState]int{
	RunStateIdle:        0,
	RunStateListing:     1,
	RunStateDetailFetch: 2,
	RunStateAggregating: 3,
	RunStateDone:        4,
}

// Ordinal returns the position of s in the lifecycle, or -1 if unknown.
func (s RunState) Ordinal() int {
	if o, ok := runStateOrder[s]; ok {
		return o
	}
	return -1
}

// RunStats holds the counters reported at the end of a run.
type RunStats struct {
	Listed   int `json:"listed"`   // identifiers in the working set
	Fetched  int `json:"fetched"`  // detail units completed
	Accepted int `json:"accepted"` // records emitted
	Rejected int `json:"rejected"` // failed the acceptance predicate
	Failed   int `json:"failed"`   // produced no data (errors)
	Peak     int `json:"peak"`     // max concurrent detail calls observed

	// Partial is set when the run ended early (cancellation or unreachable source).
	Partial bool `json:"partial"`
}

// Run is one persisted collector run.
type Run struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	State      RunState  `json:"state"`
	Stats      RunStats  `json:"stats"`
	OutputPath string    `json:"output_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
