package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/db/option"
	"ispbss/pkg/errutil"
	"ispbss/pkg/logger"
	"ispbss/pkg/rediskey"
	"ispbss/pkg/repository"
	"ispbss/pkg/usagesig"
	"ispbss/services/license"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateReport  = errutil.Sentinel(errutil.StatusConflict, "usage report already processed")
	ErrInvalidSignature = errutil.Sentinel(errutil.StatusUnauthorized, "invalid usage report signature")
)

var usageReports = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "usage_reports_total",
	Help: "Usage reports received from instances by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(usageReports)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     repository.Repository[UsageSnapshot]
	licenses *license.Service
	rdb      *redis.Client

	signingKey   []byte
	requireValid bool
	now          func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Licenses *license.Service
	Redis    *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		repo:         repository.ProvideStore[UsageSnapshot](p.DB),
		licenses:     p.Licenses,
		rdb:          p.Redis,
		signingKey:   []byte(p.Config.Usage.SigningKey),
		requireValid: p.Config.Usage.RequireValidSignature,
		now:          time.Now,
	}
}

// Ingest records a usage report. body must be the raw request body so the
// signature is checked against exactly what the instance signed.
func (s *Service) Ingest(ctx context.Context, tenantID string, body []byte, signature, idempotencyKey string) (*UsageSnapshot, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", tenantID))

	var report usagesig.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, errutil.BadRequest("invalid usage report", err)
	}
	if err := validate(report, tenantID, idempotencyKey); err != nil {
		return nil, err
	}

	reportedAt, err := time.Parse(time.RFC3339, report.Timestamp)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid usage report", err, errutil.WithDetails(errutil.Detail{
			Field: "timestamp", Message: "must be RFC 3339",
		}))
	}

	valid := len(s.signingKey) > 0 && signature != "" && usagesig.Verify(body, s.signingKey, signature)
	if !valid {
		zapLog.Warn("usage report signature rejected", zap.String("idempotency_key", report.IdempotencyKey))
		if s.requireValid {
			usageReports.WithLabelValues("invalid_signature").Inc()
			return nil, ErrInvalidSignature
		}
	}

	m := report.Metrics
	snap := &UsageSnapshot{
		ID:                s.node.Generate().String(),
		TenantID:          tenantID,
		IdempotencyKey:    report.IdempotencyKey,
		ReportedAt:        reportedAt.UTC(),
		ActiveSubscribers: m.ActiveSubscribers,
		TotalSubscribers:  m.TotalSubscribers,
		APICalls24h:       m.APICalls24h,
		StorageBytes:      m.StorageBytes,
		RadiusSessions:    m.RadiusSessions,
		SignatureValid:    valid,
		ReceivedAt:        s.now().UTC(),
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(snap)
	if res.Error != nil {
		return nil, errutil.Internal("failed to record usage report", res.Error)
	}
	if res.RowsAffected == 0 {
		usageReports.WithLabelValues("duplicate").Inc()
		zapLog.Info("duplicate usage report", zap.String("idempotency_key", report.IdempotencyKey))
		return nil, ErrDuplicateReport
	}

	usageReports.WithLabelValues("accepted").Inc()
	if valid {
		s.recordOnLicense(ctx, tenantID, m.ActiveSubscribers, reportedAt)
	}

	zapLog.Info("usage report recorded",
		zap.String("idempotency_key", report.IdempotencyKey),
		zap.Int("active_subscribers", m.ActiveSubscribers),
		zap.Bool("signature_valid", valid),
	)
	return snap, nil
}

func validate(r usagesig.Report, tenantID, idempotencyKey string) error {
	var details []errutil.Detail
	if r.TenantID != tenantID {
		details = append(details, errutil.Detail{Field: "tenant_id", Message: "must match the tenant in the path"})
	}
	if r.IdempotencyKey == "" {
		details = append(details, errutil.Detail{Field: "idempotency_key", Message: "required"})
	} else if r.IdempotencyKey != idempotencyKey {
		details = append(details, errutil.Detail{Field: "idempotency_key", Message: "must match the X-Idempotency-Key header"})
	}
	if r.Metrics.ActiveSubscribers < 0 || r.Metrics.TotalSubscribers < 0 {
		details = append(details, errutil.Detail{Field: "metrics", Message: "subscriber counts must not be negative"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid usage report", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) recordOnLicense(ctx context.Context, tenantID string, active int, reportedAt time.Time) {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", tenantID))

	lic, err := s.licenses.Get(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, license.ErrLicenseNotIssued) {
			zapLog.Error("failed to load license for usage report", zap.Error(err))
		}
		return
	}

	overCap := active > lic.MaxSubscribers || s.markerPresent(ctx, tenantID)
	if err := s.licenses.RecordUsage(ctx, tenantID, active, reportedAt, overCap); err != nil {
		zapLog.Error("failed to record usage on license", zap.Error(err))
		return
	}
	if overCap && !lic.IsOverCap {
		zapLog.Warn("tenant over subscriber cap",
			zap.Int("active_subscribers", active),
			zap.Int("max_subscribers", lic.MaxSubscribers),
		)
	}
}

func (s *Service) markerPresent(ctx context.Context, tenantID string) bool {
	if s.rdb == nil {
		return false
	}
	n, err := s.rdb.Exists(ctx, rediskey.BuildOverCapKey(tenantID)).Result()
	if err != nil {
		logger.FromContext(ctx).Warn("failed to read over-cap marker", zap.String("tenant_id", tenantID), zap.Error(err))
		return false
	}
	return n > 0
}

// List returns the most recent snapshots of a tenant, newest first.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*UsageSnapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out, err := s.repo.Find(ctx, &UsageSnapshot{TenantID: tenantID},
		option.WithSortBy(option.QuerySortBy{SortBy: "reported_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list usage snapshots: %w", err)
	}
	return out, nil
}
