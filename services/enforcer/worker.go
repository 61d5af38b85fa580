package enforcer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var overageSubscribers = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "license_overage_subscribers_total",
	Help: "Subscribers admitted over cap under ALLOW_AND_BILL.",
}, []string{"tenant_id"})

func init() {
	prometheus.MustRegister(overageSubscribers)
}

// HandleOverageBillingTask consumes license:overage:billing events. It records
// the overage in logs and metrics only; charging for it belongs to billing.
func HandleOverageBillingTask(ctx context.Context, t *asynq.Task) error {
	var e OverageEvent
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		zap.L().Error("invalid overage billing payload", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	overageSubscribers.WithLabelValues(e.TenantID).Inc()
	zap.L().Info("overage billing event",
		zap.String("tenant_id", e.TenantID),
		zap.Int64("license_version", e.LicenseVersion),
		zap.Int("subscribers", e.Subscribers),
		zap.Int("max_subscribers", e.MaxSubscribers),
		zap.Int("overage", e.Overage),
		zap.Time("occurred_at", e.OccurredAt),
	)
	return nil
}
