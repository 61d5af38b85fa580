package license

import (
	"context"
	"encoding/json"
	"fmt"

	"ispbss/pkg/logger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func (s *Service) HandlePushTask(ctx context.Context, t *asynq.Task) error {
	var payload PushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid license push payload", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	err := s.deliver(ctx, payload.TenantID)
	if err == nil {
		licensePushes.WithLabelValues("ok").Inc()
		return nil
	}

	licensePushes.WithLabelValues("failed").Inc()
	if !retryable(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (s *Service) HandleRefreshTask(ctx context.Context, t *asynq.Task) error {
	var payload RefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("invalid license refresh payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
	}

	logger.FromContext(ctx).Info("processing license refresh task", zap.Int("days_before_expiry", payload.DaysBeforeExpiry))
	s.RefreshExpiringLicenses(ctx, payload.DaysBeforeExpiry)
	return nil
}
