package plan

import (
	"time"

	"ispbss/pkg/licensing"

	"gorm.io/datatypes"
)

type Tier string

const (
	TierStarter      Tier = "STARTER"
	TierProfessional Tier = "PROFESSIONAL"
	TierEnterprise   Tier = "ENTERPRISE"
	TierCustom       Tier = "CUSTOM"
)

func (t Tier) Valid() bool {
	switch t {
	case TierStarter, TierProfessional, TierEnterprise, TierCustom:
		return true
	default:
		return false
	}
}

const DefaultLicenseValidityDays = 30

type TenantPlan struct {
	ID                       string                              `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt                time.Time                           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt                time.Time                           `gorm:"column:updated_at" json:"updated_at"`
	Name                     string                              `gorm:"column:name;not null" json:"name"`
	Tier                     Tier                                `gorm:"column:tier;not null" json:"tier"`
	MaxSubscribers           int                                 `gorm:"column:max_subscribers;not null" json:"max_subscribers"`
	MaxStaffUsers            int                                 `gorm:"column:max_staff_users" json:"max_staff_users"`
	MaxAPICallsPerDay        int                                 `gorm:"column:max_api_calls_per_day" json:"max_api_calls_per_day"`
	MaxStorageGB             int                                 `gorm:"column:max_storage_gb" json:"max_storage_gb"`
	OveragePolicy            licensing.OveragePolicy             `gorm:"column:overage_policy;not null" json:"overage_policy"`
	OverageRatePerSubscriber *float64                            `gorm:"column:overage_rate_per_subscriber" json:"overage_rate_per_subscriber,omitempty"`
	Features                 datatypes.JSONType[map[string]bool] `gorm:"column:features" json:"features"`
	PriceMonthly             float64                             `gorm:"column:price_monthly" json:"price_monthly"`
	Currency                 string                              `gorm:"column:currency;default:'USD'" json:"currency"`
	LicenseValidityDays      int                                 `gorm:"column:license_validity_days" json:"license_validity_days"`
	WarnThresholdPercent     int                                 `gorm:"column:warn_threshold_percent" json:"warn_threshold_percent"`
	CriticalThresholdPercent int                                 `gorm:"column:critical_threshold_percent" json:"critical_threshold_percent"`
	GracePeriodHours         int                                 `gorm:"column:grace_period_hours" json:"grace_period_hours"`
}

func (TenantPlan) TableName() string { return "tenant_plans" }

var starterFeatures = map[string]bool{
	licensing.FeatureRadius:            true,
	licensing.FeatureCustomerPortal:    true,
	licensing.FeatureTicketing:         true,
	licensing.FeatureWebhooks:          true,
	licensing.FeatureFieldService:      false,
	licensing.FeatureAdvancedAnalytics: false,
	licensing.FeatureAPIAccess:         false,
	licensing.FeatureWhiteLabel:        false,
	licensing.FeatureMultiSite:         false,
	licensing.FeatureNetworkMonitoring: false,
}

// TierFeatures returns the feature defaults of a tier. Unknown tiers get the
// STARTER set.
func TierFeatures(tier Tier) map[string]bool {
	out := make(map[string]bool, len(licensing.Features))
	for k, v := range starterFeatures {
		out[k] = v
	}

	switch tier {
	case TierProfessional:
		out[licensing.FeatureFieldService] = true
		out[licensing.FeatureAPIAccess] = true
		out[licensing.FeatureNetworkMonitoring] = true
		out[licensing.FeatureAdvancedAnalytics] = true
	case TierEnterprise, TierCustom:
		for _, f := range licensing.Features {
			out[f] = true
		}
	}

	return out
}

// GetDefaultFeatures merges the tier defaults with the plan's explicit
// overrides. Overrides always win, key by key.
func (p *TenantPlan) GetDefaultFeatures() map[string]bool {
	out := TierFeatures(p.Tier)
	for k, v := range p.Features.Data() {
		out[k] = v
	}
	return out
}

func (p *TenantPlan) ValidityDays() int {
	if p.LicenseValidityDays <= 0 {
		return DefaultLicenseValidityDays
	}
	return p.LicenseValidityDays
}

// Thresholds returns the warn/critical percentages and grace hours, falling
// back to the license defaults for unset values.
func (p *TenantPlan) Thresholds() (warn, critical, graceHours int) {
	warn, critical, graceHours = licensing.DefaultWarnThresholdPercent, licensing.DefaultCriticalThresholdPercent, licensing.DefaultGracePeriodHours
	if p.WarnThresholdPercent > 0 {
		warn = p.WarnThresholdPercent
	}
	if p.CriticalThresholdPercent > 0 {
		critical = p.CriticalThresholdPercent
	}
	if p.GracePeriodHours > 0 {
		graceHours = p.GracePeriodHours
	}
	return warn, critical, graceHours
}
