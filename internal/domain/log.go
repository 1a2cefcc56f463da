package domain

import "time"

// RunStatus represents the lifecycle of a single execution run.
type RunStatus string

const (
	RunStatusUnknown   RunStatus = "unknown"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// LogEntry is one line of an execution's log. Index is strictly increasing
// and gap-free per run, starting at zero.
type LogEntry struct {
	Index     int64      `json:"index"`
	Message   string     `json:"message"`
	Level     string     `json:"level,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LogBatch is the response of one log fetch. NextIndex is the highest
// returned index plus one, or the requested since index when no entries were
// returned. TotalCount is the number of entries the run has produced so far.
type LogBatch struct {
	Logs        []LogEntry        `json:"logs"`
	NextIndex   int64             `json:"next_index"`
	TotalCount  int64             `json:"total_count"`
	Status      RunStatus         `json:"status"`
	Error       string            `json:"error,omitempty"`
	LayerStatus map[string]string `json:"layer_status,omitempty"`
}

// Drained reports whether every log line produced so far has been consumed
// given the caller's next read index. Completion must never be signaled
// before this holds.
func (b *LogBatch) Drained(nextIndex int64) bool {
	return nextIndex >= b.TotalCount
}

// LayerStatusEqual compares two layer-status maps by value.
func LayerStatusEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
