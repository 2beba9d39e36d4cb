package types

import "time"

// TimelineEntry is one audit record on an order. The timeline is append-only:
// every mutating operation on an order appends exactly one entry.
type TimelineEntry struct {
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	Note      string    `json:"note,omitempty"`
}

// Timeline is the jsonb-serialized audit trail.
type Timeline []TimelineEntry

// Append returns the timeline with a new entry added.
func (t Timeline) Append(status, note string, at time.Time) Timeline {
	return append(t, TimelineEntry{Status: status, ChangedAt: at, Note: note})
}
