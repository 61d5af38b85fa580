package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/db/option"
	"ispbss/pkg/errutil"
	"ispbss/pkg/featureflags"
	"ispbss/pkg/licensing"
	"ispbss/pkg/logger"
	"ispbss/pkg/middleware"
	"ispbss/pkg/repository"
	"ispbss/pkg/task"
	"ispbss/pkg/util"
	"ispbss/services/plan"
	"ispbss/services/tenant"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrLicenseNotIssued = errutil.Sentinel(errutil.StatusNotFound, "license not issued")
	ErrConcurrentIssue  = errutil.Sentinel(errutil.StatusConflict, "license was re-issued concurrently")

	errNoInstanceURL = errors.New("tenant has no instance url")
)

var (
	licensesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_issued_total",
		Help: "Licenses signed by the issuer.",
	}, []string{"plan_id"})
	licensePushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_push_total",
		Help: "License pushes to tenant instances by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(licensesIssued, licensePushes)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     repository.Repository[TenantLicense]
	tenants  *tenant.Service
	plans    *plan.Service
	enqueuer task.Enqueuer
	flags    featureflags.FeatureFlag
	client   *http.Client

	signingKey   []byte
	platformKey  string
	refreshDays  int
	concurrency  int
	pushTimeout  time.Duration
	pushMaxRetry int
	now          func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Tenants  *tenant.Service
	Plans    *plan.Service
	Enqueuer task.Enqueuer            `optional:"true"`
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	lc := p.Config.License
	if len(lc.SigningKey) < licensing.MinKeyLength {
		return nil, licensing.ErrWeakKey
	}

	timeout := lc.PushTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		repo:     repository.ProvideStore[TenantLicense](p.DB),
		tenants:  p.Tenants,
		plans:    p.Plans,
		enqueuer: p.Enqueuer,
		flags:    p.Flags,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		signingKey:   []byte(lc.SigningKey),
		platformKey:  p.Config.Platform.APIKey,
		refreshDays:  lc.RefreshDaysBeforeExpiry,
		concurrency:  lc.RefreshConcurrency,
		pushTimeout:  timeout,
		pushMaxRetry: lc.PushMaxRetry,
		now:          time.Now,
	}, nil
}

func (s *Service) WithTrx(tx *gorm.DB) *Service {
	out := *s
	out.db = tx
	out.repo = s.repo.WithTrx(tx)
	out.tenants = s.tenants.WithTrx(tx)
	out.plans = s.plans.WithTrx(tx)
	return &out
}

func (s *Service) Get(ctx context.Context, tenantID string) (*TenantLicense, error) {
	lic, err := s.repo.FindOne(ctx, &TenantLicense{TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("find license for tenant %s: %w", tenantID, err)
	}
	if lic == nil {
		return nil, ErrLicenseNotIssued
	}
	return lic, nil
}

// IssueLicense signs a fresh token from the tenant's current plan and stores
// it, bumping the version.
func (s *Service) IssueLicense(ctx context.Context, tenantID string) (*TenantLicense, error) {
	var lic *TenantLicense
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = s.WithTrx(tx).issue(ctx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logIssued(ctx, lic)
	return lic, nil
}

// issue must run inside a transaction.
func (s *Service) issue(ctx context.Context, tenantID string) (*TenantLicense, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	p, err := s.plans.Get(ctx, t.PlanID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOne(ctx, &TenantLicense{TenantID: tenantID}, option.WithLockingUpdate())
	if err != nil {
		return nil, fmt.Errorf("lock license for tenant %s: %w", tenantID, err)
	}

	now := s.now().UTC().Truncate(time.Second)
	version := int64(1)
	if existing != nil {
		version = existing.Version + 1
	}

	warn, critical, grace := p.Thresholds()
	tok := &licensing.Token{
		TenantID:                 tenantID,
		MaxSubscribers:           p.MaxSubscribers,
		OveragePolicy:            p.OveragePolicy,
		Features:                 s.features(ctx, tenantID, p),
		IssuedAt:                 now,
		ExpiresAt:                now.AddDate(0, 0, p.ValidityDays()),
		Nonce:                    util.NewNonce(),
		Version:                  version,
		WarnThresholdPercent:     warn,
		CriticalThresholdPercent: critical,
		GracePeriodHours:         grace,
	}

	signed, err := licensing.Sign(tok, s.signingKey)
	if err != nil {
		return nil, errutil.Internal("failed to sign license", err)
	}

	if existing == nil {
		lic := &TenantLicense{
			ID:             s.node.Generate().String(),
			TenantID:       tenantID,
			PlanID:         p.ID,
			Version:        version,
			Nonce:          tok.Nonce,
			IssuedAt:       tok.IssuedAt,
			ExpiresAt:      tok.ExpiresAt,
			SignedToken:    signed,
			MaxSubscribers: tok.MaxSubscribers,
			OveragePolicy:  tok.OveragePolicy,
		}
		if err := s.repo.Create(ctx, lic); err != nil {
			// unique tenant_id: another issuer created the first row
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrConcurrentIssue
			}
			return nil, fmt.Errorf("create license for tenant %s: %w", tenantID, err)
		}
		return lic, nil
	}

	res := s.db.WithContext(ctx).Model(&TenantLicense{}).
		Where("id = ? AND version = ?", existing.ID, existing.Version).
		Updates(map[string]any{
			"plan_id":         p.ID,
			"version":         version,
			"nonce":           tok.Nonce,
			"issued_at":       tok.IssuedAt,
			"expires_at":      tok.ExpiresAt,
			"signed_token":    signed,
			"max_subscribers": tok.MaxSubscribers,
			"overage_policy":  tok.OveragePolicy,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update license for tenant %s: %w", tenantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrConcurrentIssue
	}

	existing.PlanID = p.ID
	existing.Version = version
	existing.Nonce = tok.Nonce
	existing.IssuedAt = tok.IssuedAt
	existing.ExpiresAt = tok.ExpiresAt
	existing.SignedToken = signed
	existing.MaxSubscribers = tok.MaxSubscribers
	existing.OveragePolicy = tok.OveragePolicy
	return existing, nil
}

// features resolves the plan's features with any per-tenant flag overrides.
// Flag lookups are best-effort.
func (s *Service) features(ctx context.Context, tenantID string, p *plan.TenantPlan) map[string]bool {
	out := p.GetDefaultFeatures()
	if s.flags == nil {
		return out
	}

	overrides, err := s.flags.Overrides(ctx, tenantID)
	if err != nil {
		logger.FromContext(ctx).Warn("feature flag lookup failed, using plan features",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return out
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func (s *Service) logIssued(ctx context.Context, lic *TenantLicense) {
	licensesIssued.WithLabelValues(lic.PlanID).Inc()
	logger.FromContext(ctx).Info("license issued",
		zap.String("tenant_id", lic.TenantID),
		zap.String("plan_id", lic.PlanID),
		zap.Int("max_subscribers", lic.MaxSubscribers),
		zap.String("overage_policy", string(lic.OveragePolicy)),
		zap.Int64("version", lic.Version),
		zap.Time("expires_at", lic.ExpiresAt),
	)
}

// GetSignedLicense returns the stored token, re-issuing it first when it has
// expired. Tenants without a license get ErrLicenseNotIssued.
func (s *Service) GetSignedLicense(ctx context.Context, tenantID string) (string, error) {
	lic, err := s.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}

	if s.now().After(lic.ExpiresAt) {
		logger.FromContext(ctx).Info("stored license expired, re-issuing", zap.String("tenant_id", tenantID))
		lic, err = s.IssueLicense(ctx, tenantID)
		if err != nil {
			return "", err
		}
	}

	return lic.SignedToken, nil
}

type pushRequest struct {
	LicenseToken string `json:"license_token"`
}

// PushLicenseToInstance delivers the current token to the tenant's instance.
// Failures are logged and reported as false; transport failures also
// schedule a bounded background retry.
func (s *Service) PushLicenseToInstance(ctx context.Context, tenantID string) bool {
	err := s.deliver(ctx, tenantID)
	if err == nil {
		licensePushes.WithLabelValues("ok").Inc()
		return true
	}

	licensePushes.WithLabelValues("failed").Inc()
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", tenantID))
	zapLog.Warn("license push failed", zap.Error(err))

	if retryable(err) {
		s.schedulePush(ctx, tenantID)
	}
	return false
}

func retryable(err error) bool {
	return !errors.Is(err, errNoInstanceURL) &&
		!errors.Is(err, ErrLicenseNotIssued) &&
		!errors.Is(err, tenant.ErrTenantNotFound)
}

func (s *Service) schedulePush(ctx context.Context, tenantID string) {
	if s.enqueuer == nil || s.pushMaxRetry <= 0 {
		return
	}

	t, err := NewPushTask(tenantID, s.pushMaxRetry)
	if err != nil {
		return
	}
	if _, err := s.enqueuer.Enqueue(t); err != nil {
		logger.FromContext(ctx).Warn("failed to schedule license push retry", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) deliver(ctx context.Context, tenantID string) error {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if t.InstanceURL == "" {
		return errNoInstanceURL
	}

	lic, err := s.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(pushRequest{LicenseToken: lic.SignedToken})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.InstanceURL+"/license/sync", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderPlatformAPIKey, s.platformKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to %s: %w", t.InstanceURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push to %s: instance responded %d", t.InstanceURL, resp.StatusCode)
	}

	logger.FromContext(ctx).Info("license pushed",
		zap.String("tenant_id", tenantID),
		zap.Int64("version", lic.Version),
	)
	return nil
}

// OnPlanChange moves the tenant to newPlanID and re-issues in one
// transaction, then pushes. A failed push leaves the new license in place.
func (s *Service) OnPlanChange(ctx context.Context, tenantID, newPlanID string) (*TenantLicense, error) {
	var lic *TenantLicense
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := s.WithTrx(tx)
		if _, err := scoped.tenants.UpdatePlan(ctx, tenantID, newPlanID); err != nil {
			return err
		}

		var err error
		lic, err = scoped.issue(ctx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logIssued(ctx, lic)
	s.PushLicenseToInstance(ctx, tenantID)
	return lic, nil
}

// RefreshExpiringLicenses re-issues and pushes every license expiring within
// daysBeforeExpiry days. Tenants are processed independently; the sorted ids
// of the re-issued tenants are returned.
func (s *Service) RefreshExpiringLicenses(ctx context.Context, daysBeforeExpiry int) []string {
	if daysBeforeExpiry <= 0 {
		daysBeforeExpiry = s.refreshDays
	}
	if daysBeforeExpiry <= 0 {
		daysBeforeExpiry = 7
	}

	zapLog := logger.FromContext(ctx)
	cutoff := s.now().UTC().AddDate(0, 0, daysBeforeExpiry)

	rows, err := s.repo.Find(ctx, nil, option.ApplyOperator(option.Condition{
		Field:    "expires_at",
		Operator: option.LT,
		Value:    cutoff,
	}))
	if err != nil {
		zapLog.Error("failed to list expiring licenses", zap.Error(err))
		return nil
	}

	var (
		mu        sync.Mutex
		refreshed = make([]string, 0, len(rows))
	)

	g := new(errgroup.Group)
	g.SetLimit(max(1, s.concurrency))
	for _, row := range rows {
		tenantID := row.TenantID
		g.Go(func() error {
			if _, err := s.IssueLicense(ctx, tenantID); err != nil {
				zapLog.Error("license refresh failed", zap.String("tenant_id", tenantID), zap.Error(err))
				return nil
			}
			s.PushLicenseToInstance(ctx, tenantID)

			mu.Lock()
			refreshed = append(refreshed, tenantID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(refreshed)
	zapLog.Info("expiring licenses refreshed",
		zap.Int("candidates", len(rows)),
		zap.Int("refreshed", len(refreshed)),
		zap.Int("days_before_expiry", daysBeforeExpiry),
	)
	return refreshed
}

// RecordUsage stores the last usage report of a tenant on its license row.
func (s *Service) RecordUsage(ctx context.Context, tenantID string, active int, reportedAt time.Time, overCap bool) error {
	lic, err := s.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	return s.repo.Update(ctx, lic.ID, map[string]any{
		"last_reported_subscribers": active,
		"last_usage_report_at":      reportedAt.UTC(),
		"is_over_cap":               overCap,
	})
}
