package enforcer

import (
	"context"
	"encoding/json"
	"time"

	"ispbss/pkg/licensing"
	"ispbss/pkg/logger"
	"ispbss/pkg/task"
	"ispbss/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "license_admissions_total",
	Help: "Subscriber admission decisions by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(admissions)
}

// Admission is the outcome of an allowed subscriber admission.
type Admission struct {
	Status *CapStatus `json:"status"`
	// OverCap is set when the admitted subscriber takes the tenant to or
	// past its cap under WARN or ALLOW_AND_BILL.
	OverCap            bool `json:"over_cap"`
	BillingEventQueued bool `json:"billing_event_queued"`
}

// OverageEvent is the payload of license:overage:billing.
type OverageEvent struct {
	TenantID       string    `json:"tenant_id"`
	LicenseVersion int64     `json:"license_version"`
	Subscribers    int       `json:"subscribers"`
	MaxSubscribers int       `json:"max_subscribers"`
	Overage        int       `json:"overage"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewOverageBillingTask(e OverageEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LicenseOverageBilling, payload,
		asynq.MaxRetry(10),
		asynq.Queue(task.QueueCritical)), nil
}

// Admit decides whether one more active subscriber may be added. BLOCK at
// or over cap fails with a CapExceededError.
func (s *Service) Admit(ctx context.Context) (*Admission, error) {
	cs, err := s.CheckSubscriberCap(ctx)
	if err != nil {
		admissions.WithLabelValues("error").Inc()
		return nil, err
	}

	zapLog := logger.FromContext(ctx).With(
		zap.String("tenant_id", cs.TenantID),
		zap.Int("current_subscribers", cs.CurrentSubscribers),
		zap.Int("max_subscribers", cs.MaxSubscribers),
	)

	if !cs.CanAddSubscribers {
		admissions.WithLabelValues("blocked").Inc()
		zapLog.Info("subscriber admission refused at cap")
		return nil, &licensing.CapExceededError{Current: cs.CurrentSubscribers, Max: cs.MaxSubscribers}
	}

	adm := &Admission{Status: cs, OverCap: cs.CurrentSubscribers >= cs.MaxSubscribers}
	if !adm.OverCap {
		admissions.WithLabelValues("allowed").Inc()
		return adm, nil
	}

	switch cs.OveragePolicy {
	case licensing.OverageWarn:
		admissions.WithLabelValues("over_cap_warn").Inc()
		zapLog.Warn("subscriber admitted over cap")
	case licensing.OverageAllowAndBill:
		admissions.WithLabelValues("over_cap_billed").Inc()
		adm.BillingEventQueued = s.emitOverage(ctx, cs)
	}
	return adm, nil
}

func (s *Service) emitOverage(ctx context.Context, cs *CapStatus) bool {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", cs.TenantID))
	if s.enqueuer == nil {
		zapLog.Warn("no task queue configured, overage billing event dropped")
		return false
	}

	t, err := NewOverageBillingTask(OverageEvent{
		TenantID:       cs.TenantID,
		LicenseVersion: cs.Version,
		Subscribers:    cs.CurrentSubscribers + 1,
		MaxSubscribers: cs.MaxSubscribers,
		Overage:        cs.CurrentSubscribers + 1 - cs.MaxSubscribers,
		OccurredAt:     s.now().UTC(),
	})
	if err != nil {
		zapLog.Error("failed to build overage billing event", zap.Error(err))
		return false
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		zapLog.Error("failed to enqueue overage billing event", zap.Error(err))
		return false
	}

	zapLog.Info("overage billing event queued", zap.Int("overage", cs.CurrentSubscribers+1-cs.MaxSubscribers))
	return true
}
