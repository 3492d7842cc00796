package domain

import "time"

type RunTrigger string

const (
	TriggerScheduled      RunTrigger = "scheduled"
	TriggerManual         RunTrigger = "manual"
	TriggerBackfill       RunTrigger = "backfill"
	TriggerMissingMetrics RunTrigger = "missing_metrics"
)

type RunOutcome string

const (
	OutcomeRunning   RunOutcome = "running"
	OutcomeSuccess   RunOutcome = "success"
	OutcomePartial   RunOutcome = "partial"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeCancelled RunOutcome = "cancelled"
)

func (o RunOutcome) Terminal() bool {
	return o != OutcomeRunning
}

// CollectionRun is the audit record of one collection run for one account.
type CollectionRun struct {
	ID            string
	AccountID     string
	Trigger       RunTrigger
	WindowDays    int
	MaxPosts      int
	Since         time.Time
	StartedAt     time.Time
	FinishedAt    *time.Time
	Outcome       RunOutcome
	PostsFetched  int
	PostsCreated  int
	PostsUpdated  int
	PostsRejected int
	PostsFailed   int
	AffectedDays  []time.Time
	Error         string
}
