package trigger

import (
	"context"
	"time"
)

// Config selects the scheduling timezone. Jobs are registered in code, not
// config.
type Config struct {
	Timezone string
}

// Job is one unit of scheduled work. Returning an error only affects the
// status snapshot; the schedule keeps firing.
type Job func(ctx context.Context) error

// JobStatus is a point-in-time view of one registered trigger.
type JobStatus struct {
	Name    string
	Spec    string
	Runs    uint64
	LastRun time.Time
	LastErr string
	NextRun time.Time
}
