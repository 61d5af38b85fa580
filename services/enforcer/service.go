package enforcer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/licensing"
	"ispbss/pkg/logger"
	"ispbss/pkg/task"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the enforcer's view of the held license.
type State string

const (
	StateMissing     State = "missing"
	StateActive      State = "active"
	StateGracePeriod State = "grace_period"
	StateExpired     State = "expired"
)

const defaultPullInterval = 5 * time.Minute

var errPullNotDue = errors.New("license pull not due")

// Counter reports live subscriber counts.
type Counter interface {
	CountActive(ctx context.Context) (int, error)
}

type Service struct {
	mu       sync.RWMutex
	held     *licensing.Token
	raw      string
	lastPull time.Time

	pulls    singleflight.Group
	store    TokenStore
	counter  Counter
	enqueuer task.Enqueuer
	client   *http.Client

	key             []byte
	tenantID        string
	controlPlaneURL string
	apiKey          string
	refreshWindow   time.Duration
	pullInterval    time.Duration
	requestTimeout  time.Duration
	now             func() time.Time
}

type ServiceParams struct {
	fx.In
	Config   *config.Config
	Counter  Counter
	Store    TokenStore    `optional:"true"`
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	cfg := p.Config
	if len(cfg.License.SigningKey) < licensing.MinKeyLength {
		return nil, licensing.ErrWeakKey
	}
	if cfg.Instance.TenantID == "" {
		return nil, errors.New("enforcer: instance tenant id is required")
	}

	timeout := cfg.Instance.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	window := cfg.Instance.RefreshWindow
	if window < 0 {
		window = 0
	}
	interval := cfg.Instance.PullInterval
	if interval <= 0 {
		interval = defaultPullInterval
	}

	return &Service{
		store:    p.Store,
		counter:  p.Counter,
		enqueuer: p.Enqueuer,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		key:             []byte(cfg.License.SigningKey),
		tenantID:        cfg.Instance.TenantID,
		controlPlaneURL: strings.TrimRight(cfg.Instance.ControlPlaneURL, "/"),
		apiKey:          cfg.Instance.APIKey,
		refreshWindow:   window,
		pullInterval:    interval,
		requestTimeout:  timeout,
		now:             time.Now,
	}, nil
}

func (s *Service) TenantID() string { return s.tenantID }

func (s *Service) current() *licensing.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.held
}

// State reports the state of the held token at the current time.
func (s *Service) State() State {
	return stateOf(s.current(), s.now())
}

func stateOf(t *licensing.Token, now time.Time) State {
	switch {
	case t == nil:
		return StateMissing
	case !t.IsExpired(now):
		return StateActive
	case t.InGrace(now):
		return StateGracePeriod
	default:
		return StateExpired
	}
}

// Restore loads the persisted token. Tokens that are expired but within
// their grace period are kept.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	zapLog := logger.FromContext(ctx)

	raw, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load held license: %w", err)
	}
	if raw == "" {
		zapLog.Info("no persisted license, waiting for push or pull")
		return nil
	}

	tok, err := licensing.FromSignedAt(raw, s.key, s.now())
	var expired *licensing.ExpiredError
	switch {
	case errors.As(err, &expired):
		if !expired.Token.InGrace(s.now()) {
			zapLog.Warn("persisted license expired past grace, ignoring", zap.Time("expires_at", expired.Token.ExpiresAt))
			return nil
		}
		tok = expired.Token
	case err != nil:
		zapLog.Error("persisted license is invalid, ignoring", zap.Error(err))
		return nil
	}
	if tok.TenantID != s.tenantID {
		zapLog.Error("persisted license belongs to another tenant, ignoring", zap.String("token_tenant_id", tok.TenantID))
		return nil
	}

	s.mu.Lock()
	s.held, s.raw = tok, raw
	s.mu.Unlock()

	zapLog.Info("license restored", zap.Int64("version", tok.Version), zap.Time("expires_at", tok.ExpiresAt))
	return nil
}

// GetLicense returns the held token, pulling a fresh one when none is held
// or the held one is within the refresh window. While a token is held, pulls
// are spaced at least pullInterval apart. When a refresh fails or is not yet
// due an unexpired token is still returned, and an expired token is honored
// until its grace period ends.
func (s *Service) GetLicense(ctx context.Context) (*licensing.Token, error) {
	held := s.current()
	now := s.now()
	if held != nil && now.Before(held.ExpiresAt.Add(-s.refreshWindow)) {
		return held, nil
	}

	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", s.tenantID))

	err := errPullNotDue
	if held == nil || s.pullDue(now) {
		tok, perr := s.refresh(ctx)
		if perr == nil {
			return tok, nil
		}
		err = perr
		if errors.Is(err, licensing.ErrLicenseInvalid) {
			zapLog.Error("pulled license rejected", zap.Error(err))
		} else {
			zapLog.Warn("license refresh failed", zap.Error(err))
		}
	}

	// a newer token may have been pushed while pulling
	if latest := s.current(); latest != nil && latest != held {
		held = latest
	}

	switch {
	case held == nil:
		if errors.Is(err, licensing.ErrLicenseInvalid) || errors.Is(err, licensing.ErrLicenseExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", licensing.ErrNoLicense, err)
	case !held.IsExpired(now):
		return held, nil
	case held.InGrace(now):
		zapLog.Debug("honoring expired license within grace period",
			zap.Time("expires_at", held.ExpiresAt),
			zap.Time("grace_deadline", held.GraceDeadline()),
		)
		return held, nil
	default:
		return nil, &licensing.ExpiredError{Token: held}
	}
}

func (s *Service) pullDue(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPull.IsZero() || now.Sub(s.lastPull) >= s.pullInterval
}

func (s *Service) refresh(ctx context.Context) (*licensing.Token, error) {
	v, err, _ := s.pulls.Do("pull", func() (any, error) {
		s.mu.Lock()
		s.lastPull = s.now()
		s.mu.Unlock()

		raw, err := s.pull(ctx)
		if err != nil {
			return nil, err
		}
		return s.install(ctx, raw)
	})
	if err != nil {
		return nil, err
	}
	return v.(*licensing.Token), nil
}

// Sync installs a pushed token. Lower versions are rejected, as is a
// different token carrying the held version. Re-sending the held token is a
// no-op.
func (s *Service) Sync(ctx context.Context, raw string) (*licensing.Token, error) {
	tok, err := s.install(ctx, raw)
	if err != nil {
		logger.FromContext(ctx).Error("license sync rejected", zap.String("tenant_id", s.tenantID), zap.Error(err))
		return nil, err
	}
	return tok, nil
}

func (s *Service) install(ctx context.Context, raw string) (*licensing.Token, error) {
	tok, err := licensing.FromSignedAt(raw, s.key, s.now())
	if err != nil {
		return nil, err
	}
	if tok.TenantID != s.tenantID {
		return nil, &licensing.InvalidError{Reason: fmt.Sprintf("token issued for tenant %q", tok.TenantID)}
	}

	s.mu.Lock()
	held := s.held
	if held != nil {
		switch {
		case tok.Version < held.Version:
			s.mu.Unlock()
			return nil, &licensing.InvalidError{
				Reason: fmt.Sprintf("version %d is older than held version %d", tok.Version, held.Version),
				Err:    licensing.ErrLicenseRollback,
			}
		case tok.Version == held.Version && tok.Nonce == held.Nonce:
			s.mu.Unlock()
			return held, nil
		case tok.Version == held.Version:
			s.mu.Unlock()
			return nil, &licensing.InvalidError{
				Reason: fmt.Sprintf("different token replayed for held version %d", held.Version),
				Err:    licensing.ErrLicenseRollback,
			}
		}
	}
	s.held, s.raw = tok, raw
	s.mu.Unlock()

	zapLog := logger.FromContext(ctx)
	if s.store != nil {
		if err := s.store.Save(ctx, raw); err != nil {
			zapLog.Warn("failed to persist license", zap.Error(err))
		}
	}

	zapLog.Info("license installed",
		zap.String("tenant_id", tok.TenantID),
		zap.Int64("version", tok.Version),
		zap.Int("max_subscribers", tok.MaxSubscribers),
		zap.String("overage_policy", string(tok.OveragePolicy)),
		zap.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

// CapStatus is the live cap evaluation of the held license.
type CapStatus struct {
	licensing.UsageStatus
	TenantID          string                  `json:"tenant_id"`
	CanAddSubscribers bool                    `json:"can_add_subscribers"`
	OveragePolicy     licensing.OveragePolicy `json:"overage_policy"`
	LicenseState      State                   `json:"license_state"`
	Version           int64                   `json:"version"`
	ExpiresAt         time.Time               `json:"expires_at"`
}

func (s *Service) CheckSubscriberCap(ctx context.Context) (*CapStatus, error) {
	tok, err := s.GetLicense(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.counter.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	return &CapStatus{
		UsageStatus:       tok.UsageStatus(current),
		TenantID:          tok.TenantID,
		CanAddSubscribers: tok.CanAddSubscribers(current),
		OveragePolicy:     tok.OveragePolicy,
		LicenseState:      stateOf(tok, s.now()),
		Version:           tok.Version,
		ExpiresAt:         tok.ExpiresAt,
	}, nil
}

// RequireFeature fails with a FeatureNotLicensedError when feature is not
// licensed, and with the license error when no license can be obtained.
func (s *Service) RequireFeature(ctx context.Context, feature string) error {
	tok, err := s.GetLicense(ctx)
	if err != nil {
		return err
	}
	if !tok.IsFeatureEnabled(feature) {
		return &licensing.FeatureNotLicensedError{Feature: feature}
	}
	return nil
}

// FeatureEnabled is the silent form of RequireFeature. License errors
// disable the feature.
func (s *Service) FeatureEnabled(ctx context.Context, feature string) bool {
	return s.RequireFeature(ctx, feature) == nil
}
