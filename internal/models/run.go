package models

import (
	"fmt"
	"time"
)

// Reason identifies which trigger source requested a sync run.
type Reason string

const (
	ReasonManual       Reason = "manual"
	ReasonPush         Reason = "push"
	ReasonSubscription Reason = "subscription"
	ReasonScheduled    Reason = "scheduled"
)

// Mode classifies a run as a full catalog walk or an incremental fetch.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Classification buckets run failures for the status surface; raw error
// detail stays in the logs.
type Classification string

const (
	ClassNone      Classification = ""
	ClassTransient Classification = "transient"
	ClassAuth      Classification = "auth"
	ClassTimeout   Classification = "timeout"
	ClassInternal  Classification = "internal"
)

// SyncRun is the ephemeral, in-memory record of one execution. It is never
// persisted; the cursor tables carry everything a future run needs.
type SyncRun struct {
	ID               string
	Reason           Reason
	Mode             Mode
	Status           RunStatus
	StartedAt        time.Time
	PagesApplied     int
	ObjectsProcessed int
	ObjectsSkipped   int
	Err              error
}

// RunOutcome is what every caller of RequestSync receives, including
// callers that coalesced onto an in-flight run.
type RunOutcome struct {
	RunID            string         `json:"run_id"`
	Reason           Reason         `json:"reason"`
	Mode             Mode           `json:"mode"`
	Status           RunStatus      `json:"status"`
	PagesApplied     int            `json:"pages_applied"`
	ObjectsProcessed int            `json:"objects_processed"`
	ObjectsSkipped   int            `json:"objects_skipped,omitempty"`
	Duration         time.Duration  `json:"duration"`
	Classification   Classification `json:"classification,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// Succeeded reports whether the run completed and committed its cursor.
func (o *RunOutcome) Succeeded() bool {
	return o.Status == RunSucceeded
}

func (o *RunOutcome) String() string {
	if o.Succeeded() {
		return fmt.Sprintf("%s sync succeeded: %d objects across %d pages in %s",
			o.Mode, o.ObjectsProcessed, o.PagesApplied, o.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s sync failed (%s): %s", o.Mode, o.Classification, o.Message)
}

// EngineState is the engine's coarse availability state.
type EngineState string

const (
	StateIdle    EngineState = "idle"
	StateRunning EngineState = "running"
)

// RunSnapshot is a point-in-time view of the in-flight run.
type RunSnapshot struct {
	RunID            string    `json:"run_id"`
	Reason           Reason    `json:"reason"`
	Mode             Mode      `json:"mode"`
	StartedAt        time.Time `json:"started_at"`
	PagesApplied     int       `json:"pages_applied"`
	ObjectsProcessed int       `json:"objects_processed"`
}

// SyncStatus is the non-blocking status surface read by UI collaborators.
type SyncStatus struct {
	State       EngineState  `json:"state"`
	Current     *RunSnapshot `json:"current,omitempty"`
	LastSuccess time.Time    `json:"last_success,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}
