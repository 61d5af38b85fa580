package monitor

import (
	"context"
	"encoding/json"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/licensing"
	"ispbss/pkg/logger"
	"ispbss/pkg/rediskey"
	"ispbss/services/alert"
	"ispbss/services/enforcer"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	AlertCriticalCap  = "critical_cap_alert"
	AlertWarningCap   = "warning_cap_alert"
	AlertExpiry       = "expiry_alert"
	AlertLicenseError = "license_check_failed"

	StatusError = "error"

	expiryWarnDays     = 7
	expiryCriticalDays = 3
)

// Enforcer is the part of the license enforcer the monitor polls.
type Enforcer interface {
	CheckSubscriberCap(ctx context.Context) (*enforcer.CapStatus, error)
	GetLicense(ctx context.Context) (*licensing.Token, error)
}

type Reporter interface {
	CollectAndReport(ctx context.Context) bool
}

type Service struct {
	enforcer  Enforcer
	reporter  Reporter
	sink      alert.Sink
	rdb       *redis.Client
	tenantID  string
	markerTTL time.Duration
	now       func() time.Time
}

type ServiceParams struct {
	fx.In
	Config   *config.Config
	Enforcer Enforcer
	Reporter Reporter
	Sink     alert.Sink
	Redis    *redis.Client
}

func NewService(p ServiceParams) *Service {
	ttl := p.Config.Instance.OverCapMarkerTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		enforcer:  p.Enforcer,
		reporter:  p.Reporter,
		sink:      p.Sink,
		rdb:       p.Redis,
		tenantID:  p.Config.Instance.TenantID,
		markerTTL: ttl,
		now:       time.Now,
	}
}

type Result struct {
	Timestamp          time.Time `json:"timestamp"`
	TenantID           string    `json:"tenant_id"`
	Status             string    `json:"status"`
	CurrentSubscribers int       `json:"current_subscribers"`
	MaxSubscribers     int       `json:"max_subscribers"`
	UsagePercent       float64   `json:"usage_percent"`
	AlertsSent         []string  `json:"alerts_sent"`
	UsageReported      bool      `json:"usage_reported"`
	DaysUntilExpiry    *int      `json:"days_until_expiry,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// OverCapMarker is stored under license:overcap:{tenant} while the tenant is
// at or past the critical threshold.
type OverCapMarker struct {
	Current    int       `json:"current"`
	Max        int       `json:"max"`
	Overage    int       `json:"overage"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Run performs one monitoring pass. It never fails; problems are reported
// through alerts and the result.
func (s *Service) Run(ctx context.Context) *Result {
	now := s.now().UTC()
	res := &Result{
		Timestamp:  now,
		TenantID:   s.tenantID,
		AlertsSent: []string{},
	}
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", s.tenantID))

	cs, err := s.enforcer.CheckSubscriberCap(ctx)
	var tok *licensing.Token
	if err == nil {
		tok, err = s.enforcer.GetLicense(ctx)
	}
	if err != nil {
		zapLog.Error("license check failed", zap.Error(err))
		s.send(ctx, res, alert.LevelCritical, AlertLicenseError, "License check failed: "+err.Error(), map[string]any{
			"tenant_id": s.tenantID,
			"error":     err.Error(),
		})
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}

	res.Status = string(cs.Status)
	res.CurrentSubscribers = cs.CurrentSubscribers
	res.MaxSubscribers = cs.MaxSubscribers
	res.UsagePercent = cs.UsagePercent

	meta := map[string]any{
		"tenant_id":           s.tenantID,
		"current_subscribers": cs.CurrentSubscribers,
		"max_subscribers":     cs.MaxSubscribers,
		"usage_percent":       cs.UsagePercent,
		"overage_policy":      string(cs.OveragePolicy),
	}

	switch cs.Status {
	case licensing.StatusCritical:
		s.send(ctx, res, alert.LevelCritical, AlertCriticalCap, "Subscriber usage is at a critical level of the licensed cap", meta)
		s.markOverCap(ctx, cs, now)
	case licensing.StatusWarning:
		s.send(ctx, res, alert.LevelWarning, AlertWarningCap, "Subscriber usage is approaching the licensed cap", meta)
	}

	if days := tok.DaysUntilExpiry(now); days <= expiryWarnDays {
		level := alert.LevelWarning
		if days <= expiryCriticalDays {
			level = alert.LevelCritical
		}
		res.DaysUntilExpiry = &days
		s.send(ctx, res, level, AlertExpiry, "License expires soon", map[string]any{
			"tenant_id":         s.tenantID,
			"days_until_expiry": days,
			"expires_at":        tok.ExpiresAt,
		})
	}

	res.UsageReported = s.reporter.CollectAndReport(ctx)

	zapLog.Info("license monitor run",
		zap.String("status", res.Status),
		zap.Int("current_subscribers", res.CurrentSubscribers),
		zap.Int("max_subscribers", res.MaxSubscribers),
		zap.Float64("usage_percent", res.UsagePercent),
		zap.Strings("alerts_sent", res.AlertsSent),
		zap.Bool("usage_reported", res.UsageReported),
	)
	return res
}

func (s *Service) send(ctx context.Context, res *Result, level alert.Level, title, message string, meta map[string]any) {
	s.sink.Send(ctx, level, title, message, meta)
	res.AlertsSent = append(res.AlertsSent, title)
}

func (s *Service) markOverCap(ctx context.Context, cs *enforcer.CapStatus, now time.Time) {
	if s.rdb == nil {
		return
	}

	payload, err := json.Marshal(OverCapMarker{
		Current:    cs.CurrentSubscribers,
		Max:        cs.MaxSubscribers,
		Overage:    cs.Overage,
		RecordedAt: now,
	})
	if err != nil {
		return
	}

	if err := s.rdb.SetEx(ctx, rediskey.BuildOverCapKey(s.tenantID), payload, s.markerTTL).Err(); err != nil {
		logger.FromContext(ctx).Warn("failed to write over-cap marker", zap.String("tenant_id", s.tenantID), zap.Error(err))
	}
}
