package plan

import (
	"testing"

	"ispbss/pkg/licensing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestStarterDefaults(t *testing.T) {
	p := &TenantPlan{Tier: TierStarter}
	f := p.GetDefaultFeatures()

	for _, name := range []string{
		licensing.FeatureFieldService,
		licensing.FeatureAdvancedAnalytics,
		licensing.FeatureAPIAccess,
		licensing.FeatureWhiteLabel,
		licensing.FeatureMultiSite,
	} {
		require.False(t, f[name], name)
	}
	require.True(t, f[licensing.FeatureRadius])
	require.True(t, f[licensing.FeatureWebhooks])
	require.Len(t, f, len(licensing.Features))
}

func TestProfessionalDefaults(t *testing.T) {
	f := (&TenantPlan{Tier: TierProfessional}).GetDefaultFeatures()

	require.True(t, f[licensing.FeatureFieldService])
	require.True(t, f[licensing.FeatureAPIAccess])
	require.True(t, f[licensing.FeatureAdvancedAnalytics])
	require.True(t, f[licensing.FeatureNetworkMonitoring])
	require.False(t, f[licensing.FeatureWhiteLabel])
	require.False(t, f[licensing.FeatureMultiSite])
}

func TestEnterpriseAndCustomEnableEverything(t *testing.T) {
	for _, tier := range []Tier{TierEnterprise, TierCustom} {
		f := (&TenantPlan{Tier: tier}).GetDefaultFeatures()
		for _, name := range licensing.Features {
			require.True(t, f[name], "%s/%s", tier, name)
		}
	}
}

func TestExplicitOverrideWinsOnEveryTier(t *testing.T) {
	for _, tier := range []Tier{TierStarter, TierProfessional, TierEnterprise, TierCustom} {
		p := &TenantPlan{
			Tier: tier,
			Features: datatypes.NewJSONType(map[string]bool{
				licensing.FeatureWebhooks: false,
				"beta_reports":            true,
			}),
		}
		f := p.GetDefaultFeatures()

		require.False(t, f[licensing.FeatureWebhooks], tier)
		require.True(t, f["beta_reports"], tier)

		tok := &licensing.Token{Features: f}
		require.False(t, tok.IsFeatureEnabled(licensing.FeatureWebhooks))
	}
}

func TestTierFeaturesReturnsFreshMap(t *testing.T) {
	a := TierFeatures(TierStarter)
	a[licensing.FeatureWhiteLabel] = true

	require.False(t, TierFeatures(TierStarter)[licensing.FeatureWhiteLabel])
}

func TestThresholdDefaults(t *testing.T) {
	warn, crit, grace := (&TenantPlan{}).Thresholds()
	require.Equal(t, 80, warn)
	require.Equal(t, 90, crit)
	require.Equal(t, 24, grace)

	warn, crit, grace = (&TenantPlan{WarnThresholdPercent: 70, CriticalThresholdPercent: 85, GracePeriodHours: 48}).Thresholds()
	require.Equal(t, 70, warn)
	require.Equal(t, 85, crit)
	require.Equal(t, 48, grace)

	require.Equal(t, 30, (&TenantPlan{}).ValidityDays())
	require.Equal(t, 365, (&TenantPlan{LicenseValidityDays: 365}).ValidityDays())
}
