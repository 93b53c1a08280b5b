package models

import "time"

// RunStatus classifies one completed ingestion run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// maxLoggedErrors bounds the error list persisted per run; the full count
// is still recorded in TotalErrors.
const maxLoggedErrors = 50

// ImportLog is the append-only record of one ingestion run. It is written
// exactly once, after the run finishes, and never mutated.
type ImportLog struct {
	ID               int64
	Source           Source
	DealersProcessed int
	DealersCreated   int
	Inserted         int
	Updated          int
	Deactivated      int
	Skipped          int
	TotalRows        int
	TotalErrors      int
	Errors           []string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           RunStatus
}

// Duration is the wall time of the run.
func (il *ImportLog) Duration() time.Duration {
	return il.FinishedAt.Sub(il.StartedAt)
}

// AddError appends one error message, truncating the stored list while
// keeping the total count accurate.
func (il *ImportLog) AddError(msg string) {
	il.TotalErrors++
	if len(il.Errors) < maxLoggedErrors {
		il.Errors = append(il.Errors, msg)
	}
}

// DeriveStatus fixes the run status from the collected counts. A fatal run
// should set RunFailed directly instead of calling this.
func (il *ImportLog) DeriveStatus() {
	if il.TotalErrors > 0 {
		il.Status = RunPartial
		return
	}
	il.Status = RunSuccess
}
