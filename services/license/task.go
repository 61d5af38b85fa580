package license

import (
	"encoding/json"
	"time"

	"ispbss/pkg/task"
	"ispbss/pkg/taskname"

	"github.com/hibiken/asynq"
)

type PushPayload struct {
	TenantID string `json:"tenant_id"`
}

func NewPushTask(tenantID string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(PushPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LicensePush, payload,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(time.Minute),
		asynq.Queue(task.QueueDefault)), nil
}

type RefreshPayload struct {
	DaysBeforeExpiry int `json:"days_before_expiry"`
}

func NewRefreshTask(days int) *asynq.Task {
	payload, _ := json.Marshal(RefreshPayload{DaysBeforeExpiry: days})
	return asynq.NewTask(taskname.LicenseRefreshExpiring, payload,
		asynq.MaxRetry(0),
		asynq.Queue(task.QueueLow))
}
