package enforcer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/licensing"
	"ispbss/pkg/middleware"
	"ispbss/pkg/rediskey"
	"ispbss/pkg/taskname"
	"ispbss/services/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

const (
	testTenant      = "T1"
	testPlatformKey = "platform-secret"
	testInstanceKey = "isk_1.secret"
)

type fakeCounter struct{ active atomic.Int64 }

func (c *fakeCounter) set(n int) { c.active.Store(int64(n)) }

func (c *fakeCounter) CountActive(context.Context) (int, error) {
	return int(c.active.Load()), nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

// controlPlane serves GET /v1/tenants/T1/license.
type controlPlane struct {
	mu    sync.Mutex
	token string
	code  int
	calls int
	srv   *httptest.Server
}

func newControlPlane(t *testing.T) *controlPlane {
	t.Helper()
	cp := &controlPlane{code: http.StatusOK}
	cp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cp.mu.Lock()
		defer cp.mu.Unlock()
		cp.calls++
		if r.URL.Path != "/v1/tenants/"+testTenant+"/license" || r.Header.Get(middleware.HeaderInstanceAPIKey) != testInstanceKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if cp.code != http.StatusOK {
			w.WriteHeader(cp.code)
			return
		}
		_ = json.NewEncoder(w).Encode(licenseResponse{LicenseToken: cp.token})
	}))
	t.Cleanup(cp.srv.Close)
	return cp
}

func (cp *controlPlane) serve(token string, code int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.token, cp.code = token, code
}

func (cp *controlPlane) pulls() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.calls
}

type fixture struct {
	svc      *Service
	counter  *fakeCounter
	enqueuer *fakeEnqueuer
	mr       *miniredis.Miniredis
	cfg      *config.Config
	now      time.Time
}

func newFixture(t *testing.T, controlPlaneURL string) *fixture {
	t.Helper()
	rdb, mr := testutil.NewRedis(t)

	cfg := &config.Config{}
	cfg.License.SigningKey = string(testKey)
	cfg.Platform.APIKey = testPlatformKey
	cfg.Instance.TenantID = testTenant
	cfg.Instance.ControlPlaneURL = controlPlaneURL
	cfg.Instance.APIKey = testInstanceKey
	cfg.Instance.RefreshWindow = time.Hour
	cfg.Instance.PullInterval = 5 * time.Minute
	cfg.Instance.RequestTimeout = 5 * time.Second

	f := &fixture{
		counter:  &fakeCounter{},
		enqueuer: &fakeEnqueuer{},
		mr:       mr,
		cfg:      cfg,
		now:      time.Now().UTC().Truncate(time.Second),
	}

	svc, err := NewService(ServiceParams{
		Config:   cfg,
		Counter:  f.counter,
		Store:    NewRedisStore(rdb, cfg),
		Enqueuer: f.enqueuer,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return f.now }
	f.svc = svc
	return f
}

type tokenOpt func(*licensing.Token)

func (f *fixture) sign(t *testing.T, version int64, opts ...tokenOpt) string {
	t.Helper()
	tok := &licensing.Token{
		TenantID:                 testTenant,
		MaxSubscribers:           500,
		OveragePolicy:            licensing.OverageWarn,
		Features:                 map[string]bool{licensing.FeatureRadius: true, licensing.FeatureAPIAccess: true},
		IssuedAt:                 f.now,
		ExpiresAt:                f.now.Add(30 * 24 * time.Hour),
		Nonce:                    "nonce-" + string(rune('a'+version)),
		Version:                  version,
		WarnThresholdPercent:     80,
		CriticalThresholdPercent: 90,
		GracePeriodHours:         24,
	}
	for _, opt := range opts {
		opt(tok)
	}
	raw, err := licensing.Sign(tok, testKey)
	require.NoError(t, err)
	return raw
}

func withCap(max int, policy licensing.OveragePolicy) tokenOpt {
	return func(t *licensing.Token) {
		t.MaxSubscribers = max
		t.OveragePolicy = policy
	}
}

func expiringAt(at time.Time) tokenOpt {
	return func(t *licensing.Token) {
		t.IssuedAt = at.Add(-30 * 24 * time.Hour)
		t.ExpiresAt = at
	}
}

func TestSyncAntiRollback(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	v2 := f.sign(t, 2)
	tok, err := f.svc.Sync(ctx, v2)
	require.NoError(t, err)
	require.Equal(t, int64(2), tok.Version)

	// same token again is a no-op
	tok, err = f.svc.Sync(ctx, v2)
	require.NoError(t, err)
	require.Equal(t, int64(2), tok.Version)

	_, err = f.svc.Sync(ctx, f.sign(t, 1))
	require.ErrorIs(t, err, licensing.ErrLicenseRollback)
	require.ErrorIs(t, err, licensing.ErrLicenseInvalid)

	replay := f.sign(t, 2, func(tok *licensing.Token) { tok.Nonce = "other" })
	_, err = f.svc.Sync(ctx, replay)
	require.ErrorIs(t, err, licensing.ErrLicenseRollback)

	tok, err = f.svc.Sync(ctx, f.sign(t, 3))
	require.NoError(t, err)
	require.Equal(t, int64(3), tok.Version)

	held, err := f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), held.Version)
}

func TestSyncRejectsBadTokens(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, f.sign(t, 1, func(tok *licensing.Token) { tok.TenantID = "T2" }))
	require.ErrorIs(t, err, licensing.ErrLicenseInvalid)

	raw := f.sign(t, 1)
	_, err = f.svc.Sync(ctx, raw[:len(raw)-4]+"AAAA")
	require.ErrorIs(t, err, licensing.ErrLicenseInvalid)

	_, err = f.svc.Sync(ctx, f.sign(t, 1, expiringAt(f.now.Add(-time.Minute))))
	require.ErrorIs(t, err, licensing.ErrLicenseExpired)

	require.Equal(t, StateMissing, f.svc.State())
}

func TestGetLicenseWithoutSource(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.GetLicense(context.Background())
	require.ErrorIs(t, err, licensing.ErrNoLicense)
	require.False(t, f.svc.FeatureEnabled(context.Background(), licensing.FeatureRadius))
}

func TestGetLicensePullsAndPersists(t *testing.T) {
	cp := newControlPlane(t)
	f := newFixture(t, cp.srv.URL)
	ctx := context.Background()

	raw := f.sign(t, 1)
	cp.serve(raw, http.StatusOK)

	tok, err := f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), tok.Version)
	require.Equal(t, 1, cp.pulls())

	// held and far from expiry: no second pull
	_, err = f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cp.pulls())

	stored, err := f.mr.Get(rediskey.BuildHeldLicenseKey(testTenant))
	require.NoError(t, err)
	require.Equal(t, raw, stored)
}

func TestGetLicenseRefreshWindow(t *testing.T) {
	cp := newControlPlane(t)
	f := newFixture(t, cp.srv.URL)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, f.sign(t, 1, expiringAt(f.now.Add(30*time.Minute))))
	require.NoError(t, err)

	cp.serve("", http.StatusServiceUnavailable)
	tok, err := f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), tok.Version)

	f.now = f.now.Add(5 * time.Minute)
	cp.serve(f.sign(t, 2), http.StatusOK)
	tok, err = f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), tok.Version)
}

func TestGetLicenseRefreshWindowSpacesPulls(t *testing.T) {
	cp := newControlPlane(t)
	f := newFixture(t, cp.srv.URL)
	ctx := context.Background()

	// the control plane keeps handing back the token already held
	raw := f.sign(t, 1, expiringAt(f.now.Add(30*time.Minute)))
	_, err := f.svc.Sync(ctx, raw)
	require.NoError(t, err)
	cp.serve(raw, http.StatusOK)

	for i := 0; i < 5; i++ {
		tok, err := f.svc.GetLicense(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), tok.Version)
		f.now = f.now.Add(time.Second)
	}
	require.Equal(t, 1, cp.pulls())

	f.now = f.now.Add(5 * time.Minute)
	_, err = f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cp.pulls())
}

func TestGetLicenseRefreshWindowControlPlaneDown(t *testing.T) {
	cp := newControlPlane(t)
	f := newFixture(t, cp.srv.URL)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, f.sign(t, 1, expiringAt(f.now.Add(30*time.Minute))))
	require.NoError(t, err)
	cp.serve("", http.StatusServiceUnavailable)

	for i := 0; i < 5; i++ {
		tok, err := f.svc.GetLicense(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), tok.Version)
	}
	require.Equal(t, 1, cp.pulls())
}

func TestGracePeriod(t *testing.T) {
	cp := newControlPlane(t)
	f := newFixture(t, cp.srv.URL)
	ctx := context.Background()

	expiresAt := f.now.Add(time.Hour)
	_, err := f.svc.Sync(ctx, f.sign(t, 1, expiringAt(expiresAt)))
	require.NoError(t, err)
	cp.serve("", http.StatusBadGateway)

	f.now = expiresAt.Add(2 * time.Hour)
	tok, err := f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), tok.Version)
	require.Equal(t, StateGracePeriod, f.svc.State())

	f.now = expiresAt.Add(25 * time.Hour)
	_, err = f.svc.GetLicense(ctx)
	require.ErrorIs(t, err, licensing.ErrLicenseExpired)
	require.Equal(t, StateExpired, f.svc.State())

	var expired *licensing.ExpiredError
	require.ErrorAs(t, err, &expired)
	require.Equal(t, int64(1), expired.Token.Version)
}

func TestGetLicenseInvalidPull(t *testing.T) {
	cp := newControlPlane(t)
	f := newFixture(t, cp.srv.URL)

	other, err := licensing.Sign(&licensing.Token{
		TenantID:       testTenant,
		MaxSubscribers: 1,
		OveragePolicy:  licensing.OverageBlock,
		IssuedAt:       f.now,
		ExpiresAt:      f.now.Add(time.Hour),
		Nonce:          "n",
		Version:        1,
	}, []byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	cp.serve(other, http.StatusOK)

	_, err = f.svc.GetLicense(context.Background())
	require.ErrorIs(t, err, licensing.ErrLicenseInvalid)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	raw := f.sign(t, 4)
	require.NoError(t, f.mr.Set(rediskey.BuildHeldLicenseKey(testTenant), raw))

	require.NoError(t, f.svc.Restore(ctx))
	tok, err := f.svc.GetLicense(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), tok.Version)

	_, err = f.svc.Sync(ctx, f.sign(t, 3))
	require.ErrorIs(t, err, licensing.ErrLicenseRollback)
}

func TestRestoreIgnoresGarbage(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.mr.Set(rediskey.BuildHeldLicenseKey(testTenant), "not-a-token"))

	require.NoError(t, f.svc.Restore(context.Background()))
	require.Equal(t, StateMissing, f.svc.State())
}

func TestCheckSubscriberCap(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.svc.Sync(ctx, f.sign(t, 1))
	require.NoError(t, err)

	tests := []struct {
		active int
		want   licensing.Status
	}{
		{100, licensing.StatusOK},
		{410, licensing.StatusWarning},
		{450, licensing.StatusCritical},
		{600, licensing.StatusCritical},
	}
	for _, tt := range tests {
		f.counter.set(tt.active)
		cs, err := f.svc.CheckSubscriberCap(ctx)
		require.NoError(t, err)
		require.Equal(t, tt.want, cs.Status, "active=%d", tt.active)
		require.True(t, cs.CanAddSubscribers)
		require.Equal(t, StateActive, cs.LicenseState)
	}
}

func TestAdmitBlock(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.svc.Sync(ctx, f.sign(t, 1, withCap(100, licensing.OverageBlock)))
	require.NoError(t, err)

	f.counter.set(99)
	adm, err := f.svc.Admit(ctx)
	require.NoError(t, err)
	require.False(t, adm.OverCap)

	f.counter.set(100)
	_, err = f.svc.Admit(ctx)
	require.ErrorIs(t, err, licensing.ErrSubscriberCapExceeded)
	require.Contains(t, err.Error(), "subscriber limit reached")

	var capErr *licensing.CapExceededError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 100, capErr.Current)
	require.Equal(t, 100, capErr.Max)
}

func TestAdmitWarn(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.svc.Sync(ctx, f.sign(t, 1, withCap(100, licensing.OverageWarn)))
	require.NoError(t, err)

	f.counter.set(150)
	adm, err := f.svc.Admit(ctx)
	require.NoError(t, err)
	require.True(t, adm.OverCap)
	require.False(t, adm.BillingEventQueued)
	require.Empty(t, f.enqueuer.tasks)
}

func TestAdmitAllowAndBill(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	_, err := f.svc.Sync(ctx, f.sign(t, 1, withCap(100, licensing.OverageAllowAndBill)))
	require.NoError(t, err)

	f.counter.set(50)
	adm, err := f.svc.Admit(ctx)
	require.NoError(t, err)
	require.False(t, adm.BillingEventQueued)

	f.counter.set(100)
	adm, err = f.svc.Admit(ctx)
	require.NoError(t, err)
	require.True(t, adm.OverCap)
	require.True(t, adm.BillingEventQueued)

	require.Len(t, f.enqueuer.tasks, 1)
	require.Equal(t, taskname.LicenseOverageBilling, f.enqueuer.tasks[0].Type())

	var e OverageEvent
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &e))
	require.Equal(t, testTenant, e.TenantID)
	require.Equal(t, 101, e.Subscribers)
	require.Equal(t, 1, e.Overage)

	require.NoError(t, HandleOverageBillingTask(ctx, f.enqueuer.tasks[0]))
}

func TestHandleOverageBillingTaskBadPayload(t *testing.T) {
	err := HandleOverageBillingTask(context.Background(), asynq.NewTask(taskname.LicenseOverageBilling, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestFeatureGating(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	err := f.svc.RequireFeature(ctx, licensing.FeatureRadius)
	require.ErrorIs(t, err, licensing.ErrNoLicense)

	_, err = f.svc.Sync(ctx, f.sign(t, 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.RequireFeature(ctx, licensing.FeatureRadius))
	require.True(t, f.svc.FeatureEnabled(ctx, licensing.FeatureAPIAccess))

	err = f.svc.RequireFeature(ctx, licensing.FeatureWhiteLabel)
	require.ErrorIs(t, err, licensing.ErrFeatureNotLicensed)
	require.False(t, f.svc.FeatureEnabled(ctx, licensing.FeatureWhiteLabel))
	require.False(t, f.svc.FeatureEnabled(ctx, "unknown_feature"))

	h := f.svc.RequireFeatureHTTP(licensing.FeatureWhiteLabel, func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSyncEndpoint(t *testing.T) {
	f := newFixture(t, "")
	mux := runtime.NewServeMux()
	require.NoError(t, registerHandlers(mux, f.cfg, f.svc))

	post := func(key, token string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(syncRequest{LicenseToken: token})
		req := httptest.NewRequest(http.MethodPost, "/license/sync", bytes.NewReader(body))
		req.Header.Set(middleware.HeaderPlatformAPIKey, key)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, post("wrong", f.sign(t, 1)).Code)

	rec := post(testPlatformKey, f.sign(t, 2))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(2), resp.Version)
	require.Equal(t, StateActive, resp.State)

	require.Equal(t, http.StatusBadRequest, post(testPlatformKey, f.sign(t, 1)).Code)
	require.Equal(t, http.StatusBadRequest, post(testPlatformKey, "").Code)

	f.counter.set(42)
	req := httptest.NewRequest(http.MethodGet, "/license/status", nil)
	req.Header.Set(middleware.HeaderPlatformAPIKey, testPlatformKey)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var cs CapStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cs))
	require.Equal(t, 42, cs.CurrentSubscribers)
	require.Equal(t, 500, cs.MaxSubscribers)
	require.Equal(t, licensing.StatusOK, cs.Status)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.License.SigningKey = "short"
	_, err := NewService(ServiceParams{Config: cfg})
	require.True(t, errors.Is(err, licensing.ErrWeakKey))

	cfg.License.SigningKey = string(testKey)
	_, err = NewService(ServiceParams{Config: cfg})
	require.Error(t, err)
}
