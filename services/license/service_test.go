package license

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"ispbss/pkg/config"
	"ispbss/pkg/licensing"
	"ispbss/pkg/middleware"
	"ispbss/pkg/taskname"
	"ispbss/services/apikey"
	"ispbss/services/plan"
	"ispbss/services/tenant"
	"ispbss/services/testutil"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	testSigningKey  = "0123456789abcdef0123456789abcdef"
	testPlatformKey = "platform-secret"
)

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

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// instance records license pushes like an ISP instance's /license/sync.
type instance struct {
	mu     sync.Mutex
	status int
	tokens []string
	keys   []string
	srv    *httptest.Server
}

func newInstance(t *testing.T) *instance {
	t.Helper()
	in := &instance{status: http.StatusOK}
	in.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/license/sync" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body pushRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		in.mu.Lock()
		defer in.mu.Unlock()
		in.tokens = append(in.tokens, body.LicenseToken)
		in.keys = append(in.keys, r.Header.Get(middleware.HeaderPlatformAPIKey))
		w.WriteHeader(in.status)
	}))
	t.Cleanup(in.srv.Close)
	return in
}

func (in *instance) setStatus(code int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.status = code
}

func (in *instance) received() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.tokens...)
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	tenants  *tenant.Service
	plans    *plan.Service
	keys     *apikey.Service
	enqueuer *fakeEnqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t, &TenantLicense{}, &tenant.Tenant{}, &plan.TenantPlan{}, &apikey.APIKey{})
	node := testutil.NewNode(t)

	cfg := &config.Config{}
	cfg.License.SigningKey = testSigningKey
	cfg.License.RefreshDaysBeforeExpiry = 7
	cfg.License.RefreshConcurrency = 2
	cfg.License.PushTimeout = 5 * time.Second
	cfg.License.PushMaxRetry = 3
	cfg.Platform.APIKey = testPlatformKey

	plans := plan.NewService(plan.ServiceParams{DB: db, Node: node})
	keys := apikey.NewService(apikey.ServiceParams{DB: db, Node: node})
	tenants := tenant.NewService(tenant.ServiceParams{DB: db, Node: node, Plans: plans, Keys: keys})
	enq := &fakeEnqueuer{}

	svc, err := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Tenants:  tenants,
		Plans:    plans,
		Enqueuer: enq,
	})
	require.NoError(t, err)

	return &fixture{db: db, svc: svc, tenants: tenants, plans: plans, keys: keys, enqueuer: enq}
}

func (f *fixture) plan(t *testing.T, tier plan.Tier, max int, policy licensing.OveragePolicy, validityDays int) *plan.TenantPlan {
	t.Helper()
	p, err := f.plans.Create(context.Background(), plan.CreatePlanRequest{
		Name:                string(tier),
		Tier:                tier,
		MaxSubscribers:      max,
		OveragePolicy:       policy,
		LicenseValidityDays: validityDays,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) tenant(t *testing.T, name, planID, instanceURL string) *tenant.Created {
	t.Helper()
	out, err := f.tenants.Create(context.Background(), tenant.CreateTenantRequest{
		Name:        name,
		PlanID:      planID,
		InstanceURL: instanceURL,
	})
	require.NoError(t, err)
	return out
}

func TestNewServiceRejectsWeakKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.License.SigningKey = "short"
	_, err := NewService(ServiceParams{Config: cfg})
	require.ErrorIs(t, err, licensing.ErrWeakKey)
}

func TestIssueLicenseBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierProfessional, 500, licensing.OverageWarn, 0)
	tn := f.tenant(t, "T1", p.ID, "")

	first, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Version)
	firstNonce := first.Nonce

	second, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), second.Version)
	require.NotEqual(t, firstNonce, second.Nonce)
	require.Equal(t, first.ID, second.ID)

	tok, err := licensing.FromSigned(second.SignedToken, []byte(testSigningKey))
	require.NoError(t, err)
	require.Equal(t, tn.Tenant.ID, tok.TenantID)
	require.Equal(t, 500, tok.MaxSubscribers)
	require.Equal(t, licensing.OverageWarn, tok.OveragePolicy)
	require.Equal(t, int64(2), tok.Version)
	require.Equal(t, second.Nonce, tok.Nonce)
	require.Equal(t, p.GetDefaultFeatures(), tok.Features)
	require.Equal(t, 30*24*time.Hour, tok.ExpiresAt.Sub(tok.IssuedAt))
	require.Equal(t, licensing.DefaultWarnThresholdPercent, tok.WarnThresholdPercent)
	require.Equal(t, licensing.DefaultCriticalThresholdPercent, tok.CriticalThresholdPercent)
	require.Equal(t, licensing.DefaultGracePeriodHours, tok.GracePeriodHours)

	stored, err := f.svc.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
	require.Equal(t, second.SignedToken, stored.SignedToken)
}

func TestIssueLicenseUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IssueLicense(context.Background(), "missing")
	require.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestGetSignedLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", p.ID, "")

	_, err := f.svc.GetSignedLicense(ctx, tn.Tenant.ID)
	require.ErrorIs(t, err, ErrLicenseNotIssued)

	lic, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)

	signed, err := f.svc.GetSignedLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, lic.SignedToken, signed)

	// past expiry the stored token is replaced before being served
	f.svc.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }
	signed, err = f.svc.GetSignedLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.NotEqual(t, lic.SignedToken, signed)

	stored, err := f.svc.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
}

func TestPushLicenseToInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInstance(t)
	p := f.plan(t, plan.TierProfessional, 500, licensing.OverageWarn, 0)
	tn := f.tenant(t, "T1", p.ID, in.srv.URL)

	// no license yet
	require.False(t, f.svc.PushLicenseToInstance(ctx, tn.Tenant.ID))
	require.Zero(t, f.enqueuer.count())

	lic, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)

	require.True(t, f.svc.PushLicenseToInstance(ctx, tn.Tenant.ID))
	require.Equal(t, []string{lic.SignedToken}, in.received())
	require.Equal(t, testPlatformKey, in.keys[0])

	in.setStatus(http.StatusInternalServerError)
	require.False(t, f.svc.PushLicenseToInstance(ctx, tn.Tenant.ID))
	require.Equal(t, 1, f.enqueuer.count())
	require.Equal(t, taskname.LicensePush, f.enqueuer.tasks[0].Type())

	var payload PushPayload
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, tn.Tenant.ID, payload.TenantID)
}

func TestPushWithoutInstanceURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", p.ID, "")

	_, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)

	require.False(t, f.svc.PushLicenseToInstance(ctx, tn.Tenant.ID))
	require.Zero(t, f.enqueuer.count())
}

func TestPushUnreachableInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInstance(t)
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", p.ID, in.srv.URL)

	_, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	in.srv.Close()

	require.False(t, f.svc.PushLicenseToInstance(ctx, tn.Tenant.ID))
	require.Equal(t, 1, f.enqueuer.count())
}

func TestOnPlanChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInstance(t)
	pro := f.plan(t, plan.TierProfessional, 500, licensing.OverageWarn, 0)
	starter := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", pro.ID, in.srv.URL)

	_, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)

	lic, err := f.svc.OnPlanChange(ctx, tn.Tenant.ID, starter.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), lic.Version)
	require.Equal(t, starter.ID, lic.PlanID)
	require.Equal(t, 100, lic.MaxSubscribers)
	require.Equal(t, licensing.OverageBlock, lic.OveragePolicy)

	got, err := f.tenants.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, starter.ID, got.PlanID)

	received := in.received()
	require.Len(t, received, 1)
	tok, err := licensing.FromSigned(received[0], []byte(testSigningKey))
	require.NoError(t, err)
	require.Equal(t, int64(2), tok.Version)
	require.False(t, tok.IsFeatureEnabled(licensing.FeatureAPIAccess))
}

func TestOnPlanChangeKeepsLicenseWhenPushFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInstance(t)
	in.setStatus(http.StatusBadGateway)
	pro := f.plan(t, plan.TierProfessional, 500, licensing.OverageWarn, 0)
	starter := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", pro.ID, in.srv.URL)

	lic, err := f.svc.OnPlanChange(ctx, tn.Tenant.ID, starter.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), lic.Version)

	stored, err := f.svc.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, starter.ID, stored.PlanID)
	require.Equal(t, 1, f.enqueuer.count())
}

func TestOnPlanChangeUnknownPlanRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pro := f.plan(t, plan.TierProfessional, 500, licensing.OverageWarn, 0)
	tn := f.tenant(t, "T1", pro.ID, "")

	_, err := f.svc.OnPlanChange(ctx, tn.Tenant.ID, "missing")
	require.ErrorIs(t, err, plan.ErrPlanNotFound)

	got, err := f.tenants.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, pro.ID, got.PlanID)

	_, err = f.svc.Get(ctx, tn.Tenant.ID)
	require.ErrorIs(t, err, ErrLicenseNotIssued)
}

func TestRefreshExpiringLicenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	short := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 3)
	medium := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 5)
	long := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 30)

	a := f.tenant(t, "A", short.ID, "")
	b := f.tenant(t, "B", medium.ID, "")
	c := f.tenant(t, "C", long.ID, "")
	for _, id := range []string{a.Tenant.ID, b.Tenant.ID, c.Tenant.ID} {
		_, err := f.svc.IssueLicense(ctx, id)
		require.NoError(t, err)
	}

	want := []string{a.Tenant.ID, b.Tenant.ID}
	sort.Strings(want)

	got := f.svc.RefreshExpiringLicenses(ctx, 7)
	require.Equal(t, want, got)

	for _, id := range want {
		lic, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, int64(2), lic.Version)
	}
	lic, err := f.svc.Get(ctx, c.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), lic.Version)
}

func TestRefreshExpiringLicensesSkipsFailedTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doomed := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 3)
	healthy := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 3)

	a := f.tenant(t, "A", doomed.ID, "")
	b := f.tenant(t, "B", healthy.ID, "")
	c := f.tenant(t, "C", healthy.ID, "")
	for _, id := range []string{a.Tenant.ID, b.Tenant.ID, c.Tenant.ID} {
		_, err := f.svc.IssueLicense(ctx, id)
		require.NoError(t, err)
	}

	// A's plan disappears, so re-issuing for A fails
	require.NoError(t, f.db.Delete(&plan.TenantPlan{}, "id = ?", doomed.ID).Error)

	want := []string{b.Tenant.ID, c.Tenant.ID}
	sort.Strings(want)

	got := f.svc.RefreshExpiringLicenses(ctx, 7)
	require.Equal(t, want, got)
	require.NotContains(t, got, a.Tenant.ID)

	for _, id := range want {
		lic, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, int64(2), lic.Version)
	}
	lic, err := f.svc.Get(ctx, a.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), lic.Version)
}

// racingFlags lets another issuer win the race while the loser is between
// reading the current license and writing its own.
type racingFlags struct {
	once sync.Once
	race func()
}

func (r *racingFlags) Overrides(context.Context, string) (map[string]bool, error) {
	r.once.Do(r.race)
	return nil, nil
}

func TestIssueLicenseLosesVersionRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "Raced", p.ID, "")

	first, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Version)

	winner := f.svc.WithTrx(f.db)
	var won *TenantLicense
	f.svc.flags = &racingFlags{race: func() {
		var err error
		won, err = winner.IssueLicense(ctx, tn.Tenant.ID)
		require.NoError(t, err)
	}}

	// issued outside a transaction so the winner can take the connection
	_, err = f.svc.issue(ctx, tn.Tenant.ID)
	require.ErrorIs(t, err, ErrConcurrentIssue)
	require.Equal(t, int64(2), won.Version)

	stored, err := f.svc.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, won.Version, stored.Version)
	require.Equal(t, won.Nonce, stored.Nonce)

	next, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), next.Version)
}

func TestIssueLicenseLosesFirstIssueRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "Fresh", p.ID, "")

	winner := f.svc.WithTrx(f.db)
	var won *TenantLicense
	f.svc.flags = &racingFlags{race: func() {
		var err error
		won, err = winner.IssueLicense(ctx, tn.Tenant.ID)
		require.NoError(t, err)
	}}

	_, err := f.svc.issue(ctx, tn.Tenant.ID)
	require.ErrorIs(t, err, ErrConcurrentIssue)
	require.Equal(t, int64(1), won.Version)

	stored, err := f.svc.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, won.ID, stored.ID)
	require.Equal(t, int64(1), stored.Version)
}

func TestIssueLicenseConcurrentVersionsIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "Busy", p.ID, "")

	const issuers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int64
		errs     []error
	)
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lic, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			versions = append(versions, lic.Version)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, ErrConcurrentIssue)
	}
	require.NotEmpty(t, versions)
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i := 1; i < len(versions); i++ {
		require.Greater(t, versions[i], versions[i-1])
	}

	stored, err := f.svc.Get(ctx, tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, versions[len(versions)-1], stored.Version)
}

func TestHandlePushTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInstance(t)
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	withURL := f.tenant(t, "A", p.ID, in.srv.URL)
	withoutURL := f.tenant(t, "B", p.ID, "")

	for _, id := range []string{withURL.Tenant.ID, withoutURL.Tenant.ID} {
		_, err := f.svc.IssueLicense(ctx, id)
		require.NoError(t, err)
	}

	task, err := NewPushTask(withURL.Tenant.ID, 3)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePushTask(ctx, task))
	require.Len(t, in.received(), 1)

	task, err = NewPushTask(withoutURL.Tenant.ID, 3)
	require.NoError(t, err)
	err = f.svc.HandlePushTask(ctx, task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	in.setStatus(http.StatusServiceUnavailable)
	task, err = NewPushTask(withURL.Tenant.ID, 3)
	require.NoError(t, err)
	err = f.svc.HandlePushTask(ctx, task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestPullEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", p.ID, "")

	cfg := &config.Config{}
	cfg.Platform.APIKey = testPlatformKey
	mux := runtime.NewServeMux()
	require.NoError(t, registerHandlers(handlerParams{Mux: mux, Config: cfg, Service: f.svc, Keys: f.keys}))

	pull := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/tenants/"+tn.Tenant.ID+"/license", nil)
		req.Header.Set(middleware.HeaderInstanceAPIKey, key)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, pull("bogus.key").Code)
	require.Equal(t, http.StatusNotFound, pull(tn.InstanceAPIKey).Code)

	lic, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
	require.NoError(t, err)

	rec := pull(tn.InstanceAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var body pushRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, lic.SignedToken, body.LicenseToken)
}

func TestIssueEndpointRequiresPlatformKey(t *testing.T) {
	f := newFixture(t)
	p := f.plan(t, plan.TierStarter, 100, licensing.OverageBlock, 0)
	tn := f.tenant(t, "T1", p.ID, "")

	cfg := &config.Config{}
	cfg.Platform.APIKey = testPlatformKey
	mux := runtime.NewServeMux()
	require.NoError(t, registerHandlers(handlerParams{Mux: mux, Config: cfg, Service: f.svc, Keys: f.keys}))

	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/"+tn.Tenant.ID+"/license", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/tenants/"+tn.Tenant.ID+"/license", nil)
	req.Header.Set(middleware.HeaderPlatformAPIKey, testPlatformKey)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	lic, err := f.svc.Get(context.Background(), tn.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), lic.Version)
}

type fakeFlags struct {
	overrides map[string]bool
	err       error
}

func (f fakeFlags) Overrides(context.Context, string) (map[string]bool, error) {
	return f.overrides, f.err
}

func TestIssueLicenseAppliesFeatureFlagOverrides(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name  string
		flags fakeFlags
		want  func(map[string]bool)
	}{
		{
			name:  "overrides win",
			flags: fakeFlags{overrides: map[string]bool{licensing.FeatureRadius: true, licensing.FeatureAPIAccess: false}},
			want: func(m map[string]bool) {
				m[licensing.FeatureRadius] = true
				m[licensing.FeatureAPIAccess] = false
			},
		},
		{
			name:  "lookup failure keeps plan features",
			flags: fakeFlags{err: errors.New("flagsmith unavailable")},
			want:  func(map[string]bool) {},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.flags = tc.flags
			p := f.plan(t, plan.TierProfessional, 500, licensing.OverageWarn, 0)
			tn := f.tenant(t, "Flagged", p.ID, "")

			lic, err := f.svc.IssueLicense(ctx, tn.Tenant.ID)
			require.NoError(t, err)

			tok, err := licensing.FromSigned(lic.SignedToken, []byte(testSigningKey))
			require.NoError(t, err)

			want := p.GetDefaultFeatures()
			tc.want(want)
			require.Equal(t, want, tok.Features)
		})
	}
}
