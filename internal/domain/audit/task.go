package audit

import (
	"time"

	"github.com/google/uuid"
)

// Status values are monotonically non-decreasing along
// PENDING -> PROCESSING -> {COMPLETED, FAILED}.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects monotonicity.
// Terminal states accept no further transitions.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Task is the lifecycle record of one audit run. Report is non-nil iff the
// task completed; Error is non-empty iff it failed.
type Task struct {
	ID          uuid.UUID  `json:"task_id"`
	VideoURL    string     `json:"video_url"`
	Region      Region     `json:"region"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Report      *Report    `json:"report,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep enough copy for handing to concurrent readers: the
// report pointer is duplicated so registry writers can never mutate a
// snapshot a poller already holds.
func (t *Task) Clone() Task {
	cp := *t
	if t.Report != nil {
		rep := *t.Report
		rep.Violations = append([]Violation(nil), t.Report.Violations...)
		cp.Report = &rep
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}
