package tasks

import (
	"time"

	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeClearDanglingSelections = "housekeeping:clear_dangling_selections"
	TypePurgeSessions           = "housekeeping:purge_sessions"
)

// Housekeeping tasks carry no payload; each run sweeps every user. A unique
// window keeps overlapping scheduler ticks from stacking duplicates.
const uniqueWindow = 5 * time.Minute

func NewClearDanglingSelectionsTask() *asynq.Task {
	return asynq.NewTask(TypeClearDanglingSelections, nil,
		asynq.Queue("low"), asynq.Unique(uniqueWindow), asynq.MaxRetry(3))
}

func NewPurgeSessionsTask() *asynq.Task {
	return asynq.NewTask(TypePurgeSessions, nil,
		asynq.Queue("low"), asynq.Unique(uniqueWindow), asynq.MaxRetry(3))
}

// Schedule registers every housekeeping task with scheduler on cronSpec.
func Schedule(scheduler *asynq.Scheduler, cronSpec string) error {
	for _, task := range []*asynq.Task{NewClearDanglingSelectionsTask(), NewPurgeSessionsTask()} {
		if _, err := scheduler.Register(cronSpec, task); err != nil {
			return err
		}
	}
	return nil
}
