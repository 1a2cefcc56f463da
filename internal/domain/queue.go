package domain

import "time"

// QueueEntry is one schedulable unit of work as reported by the remote
// queue endpoint. Multiple entries may share a JobID when different
// operation types were requested for the same logical entity.
type QueueEntry struct {
	QueueID     string     `json:"queue_id"`
	JobID       string     `json:"job_id"`
	Operation   string     `json:"operation"`
	RunID       string     `json:"run_id,omitempty"`
	Position    int        `json:"position,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// QueueSnapshot is the authoritative state of the work queue at one point in
// time. Version changes if and only if the underlying queue state changed;
// an entry id appears in at most one of Pending/Running/Failed, and History
// holds recently completed entries most-recent-first.
type QueueSnapshot struct {
	Version int64        `json:"state_version"`
	Pending []QueueEntry `json:"pending"`
	Running []QueueEntry `json:"running"`
	Failed  []QueueEntry `json:"failed"`
	History []QueueEntry `json:"history"`
}

// Active reports whether any work is pending or running. Pollers use this to
// pick the short polling interval.
func (s *QueueSnapshot) Active() bool {
	return len(s.Pending) > 0 || len(s.Running) > 0
}

// QueueCounts aggregates per-bucket entry counts for consumers that only
// render badges.
type QueueCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
}

// Counts returns the per-bucket sizes of the snapshot.
func (s *QueueSnapshot) Counts() QueueCounts {
	return QueueCounts{
		Pending: len(s.Pending),
		Running: len(s.Running),
		Failed:  len(s.Failed),
	}
}

// TransitionKind classifies a derived lifecycle notification.
type TransitionKind string

const (
	TransitionStarted   TransitionKind = "started"
	TransitionCompleted TransitionKind = "completed"
	TransitionFailed    TransitionKind = "failed"
)

// TransitionEvent is a derived notification synthesized by diffing two
// consecutive snapshots. It is never delivered by the server directly.
type TransitionEvent struct {
	Kind       TransitionKind `json:"kind"`
	JobID      string         `json:"job_id"`
	RunID      string         `json:"run_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// ConnectionState describes reachability of the remote service as observed
// by a poller.
type ConnectionState struct {
	Connected   bool      `json:"connected"`
	LastSuccess time.Time `json:"last_success"`
}

// ServiceStatus describes the unavailable/recovered signal raised when the
// remote service answers 502/503 or the request never reaches it.
type ServiceStatus struct {
	Unavailable bool   `json:"unavailable"`
	Reason      string `json:"reason,omitempty"`
}
