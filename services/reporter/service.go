package reporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/logger"
	"ispbss/pkg/middleware"
	"ispbss/pkg/rediskey"
	"ispbss/pkg/usagesig"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Counter reports subscriber counts from local storage.
type Counter interface {
	CountActive(ctx context.Context) (int, error)
	CountTotal(ctx context.Context) (int, error)
}

type Service struct {
	counter Counter
	rdb     *redis.Client
	client  *http.Client

	tenantID        string
	controlPlaneURL string
	apiKey          string
	signingKey      []byte
	timeout         time.Duration
	now             func() time.Time
	newKey          func() string
}

type ServiceParams struct {
	fx.In
	Config  *config.Config
	Counter Counter
	Redis   *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	cfg := p.Config
	timeout := cfg.Instance.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Service{
		counter: p.Counter,
		rdb:     p.Redis,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tenantID:        cfg.Instance.TenantID,
		controlPlaneURL: strings.TrimRight(cfg.Instance.ControlPlaneURL, "/"),
		apiKey:          cfg.Instance.APIKey,
		signingKey:      []byte(cfg.Usage.SigningKey),
		timeout:         timeout,
		now:             time.Now,
		newKey:          uuid.NewString,
	}
}

// ReportUsage sends one signed usage report. It reports true when the
// control plane accepted the report or had already processed it.
func (s *Service) ReportUsage(ctx context.Context, m usagesig.Metrics) bool {
	zapLog := logger.FromContext(ctx).With(zap.String("tenant_id", s.tenantID))

	if s.controlPlaneURL == "" {
		zapLog.Warn("usage report skipped, control plane url not configured")
		return false
	}

	report := usagesig.Report{
		TenantID:       s.tenantID,
		Timestamp:      s.now().UTC().Format(time.RFC3339),
		IdempotencyKey: s.newKey(),
		Metrics:        m,
	}

	body, sig, err := usagesig.SignValue(report, s.signingKey)
	if err != nil {
		zapLog.Error("failed to sign usage report", zap.Error(err))
		return false
	}

	code, err := s.post(ctx, body, sig, report.IdempotencyKey)
	if err != nil {
		zapLog.Warn("usage report failed", zap.String("idempotency_key", report.IdempotencyKey), zap.Error(err))
		return false
	}

	switch {
	case code >= 200 && code < 300:
		zapLog.Info("usage reported",
			zap.String("idempotency_key", report.IdempotencyKey),
			zap.Int("active_subscribers", m.ActiveSubscribers),
		)
		return true
	case code == http.StatusConflict:
		zapLog.Info("usage report already processed", zap.String("idempotency_key", report.IdempotencyKey))
		return true
	default:
		zapLog.Warn("usage report rejected", zap.Int("status", code), zap.String("idempotency_key", report.IdempotencyKey))
		return false
	}
}

func (s *Service) post(ctx context.Context, body []byte, sig, idempotencyKey string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := s.controlPlaneURL + "/v1/tenants/" + url.PathEscape(s.tenantID) + "/usage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderInstanceAPIKey, s.apiKey)
	req.Header.Set(middleware.HeaderSignature, sig)
	req.Header.Set(middleware.HeaderIdempotencyKey, idempotencyKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post usage: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}

// Collect gathers current metrics. Subscriber counts are required; the
// Redis-backed figures fall back to zero.
func (s *Service) Collect(ctx context.Context) (usagesig.Metrics, error) {
	var m usagesig.Metrics

	active, err := s.counter.CountActive(ctx)
	if err != nil {
		return m, err
	}
	total, err := s.counter.CountTotal(ctx)
	if err != nil {
		return m, err
	}
	m.ActiveSubscribers = active
	m.TotalSubscribers = total

	if s.rdb == nil {
		return m, nil
	}

	zapLog := logger.FromContext(ctx)
	if n, err := s.rdb.SCard(ctx, rediskey.BuildRadiusSessionsKey(s.tenantID)).Result(); err == nil {
		m.RadiusSessions = n
	} else {
		zapLog.Debug("radius session count unavailable", zap.Error(err))
	}
	m.APICalls24h = s.readInt(ctx, rediskey.BuildAPICallsKey(s.tenantID))
	m.StorageBytes = s.readInt(ctx, rediskey.BuildStorageBytesKey(s.tenantID))
	return m, nil
}

func (s *Service) readInt(ctx context.Context, key string) int64 {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.FromContext(ctx).Debug("usage metric unavailable", zap.String("key", key), zap.Error(err))
	}
	if err != nil {
		return 0
	}
	return n
}

func (s *Service) CollectAndReport(ctx context.Context) bool {
	m, err := s.Collect(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("failed to collect usage", zap.String("tenant_id", s.tenantID), zap.Error(err))
		return false
	}
	return s.ReportUsage(ctx, m)
}
