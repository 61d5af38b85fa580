package monitor

import (
	"context"
	"time"

	"ispbss/pkg/task"
	"ispbss/pkg/taskname"

	"github.com/hibiken/asynq"
)

func NewRunTask() *asynq.Task {
	return asynq.NewTask(taskname.LicenseMonitorRun, nil,
		asynq.MaxRetry(0),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(5*time.Minute),
		asynq.Queue(task.QueueDefault))
}

// HandleRunTask runs one pass. It never returns an error; the next tick is
// the retry.
func (s *Service) HandleRunTask(ctx context.Context, _ *asynq.Task) error {
	s.Run(ctx)
	return nil
}
