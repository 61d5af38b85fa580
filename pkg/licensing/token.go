package licensing

import (
	"math"
	"time"
)

type OveragePolicy string

const (
	OverageBlock        OveragePolicy = "BLOCK"
	OverageWarn         OveragePolicy = "WARN"
	OverageAllowAndBill OveragePolicy = "ALLOW_AND_BILL"
)

func (p OveragePolicy) Valid() bool {
	switch p {
	case OverageBlock, OverageWarn, OverageAllowAndBill:
		return true
	default:
		return false
	}
}

// Feature names gated by the license.
const (
	FeatureFieldService      = "field_service"
	FeatureAdvancedAnalytics = "advanced_analytics"
	FeatureAPIAccess         = "api_access"
	FeatureWhiteLabel        = "white_label"
	FeatureMultiSite         = "multi_site"
	FeatureWebhooks          = "webhooks"
	FeatureRadius            = "radius"
	FeatureCustomerPortal    = "customer_portal"
	FeatureTicketing         = "ticketing"
	FeatureNetworkMonitoring = "network_monitoring"
)

// Features lists every known feature name.
var Features = []string{
	FeatureFieldService,
	FeatureAdvancedAnalytics,
	FeatureAPIAccess,
	FeatureWhiteLabel,
	FeatureMultiSite,
	FeatureWebhooks,
	FeatureRadius,
	FeatureCustomerPortal,
	FeatureTicketing,
	FeatureNetworkMonitoring,
}

const (
	DefaultWarnThresholdPercent     = 80
	DefaultCriticalThresholdPercent = 90
	DefaultGracePeriodHours         = 24
)

// Token is the license claim set. It is immutable once signed; timestamps
// carry second precision on the wire.
type Token struct {
	TenantID                 string
	MaxSubscribers           int
	OveragePolicy            OveragePolicy
	Features                 map[string]bool
	IssuedAt                 time.Time
	ExpiresAt                time.Time
	Nonce                    string
	Version                  int64
	WarnThresholdPercent     int
	CriticalThresholdPercent int
	GracePeriodHours         int
}

// IsFeatureEnabled reports whether feature is licensed. Unknown features
// are disabled.
func (t *Token) IsFeatureEnabled(feature string) bool {
	return t.Features[feature]
}

func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// GraceDeadline is the instant after which an expired token is no longer
// honored.
func (t *Token) GraceDeadline() time.Time {
	return t.ExpiresAt.Add(time.Duration(t.GracePeriodHours) * time.Hour)
}

// InGrace reports whether the token is expired but still within its grace
// period.
func (t *Token) InGrace(now time.Time) bool {
	return t.IsExpired(now) && !now.After(t.GraceDeadline())
}

// DaysUntilExpiry returns whole days until expiry, rounded down. It is
// negative once the token has expired.
func (t *Token) DaysUntilExpiry(now time.Time) int {
	return int(math.Floor(t.ExpiresAt.Sub(now).Hours() / 24))
}

type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

type UsageStatus struct {
	CurrentSubscribers int     `json:"current_subscribers"`
	MaxSubscribers     int     `json:"max_subscribers"`
	UsagePercent       float64 `json:"usage_percent"`
	Status             Status  `json:"status"`
	Overage            int     `json:"overage"`
	WarnThreshold      int     `json:"warn_threshold"`
	CriticalThreshold  int     `json:"critical_threshold"`
}

// UsageStatus evaluates current against the cap. The critical threshold is
// checked before the warning threshold.
func (t *Token) UsageStatus(current int) UsageStatus {
	var pct float64
	status := StatusOK
	if t.MaxSubscribers > 0 {
		pct = math.Round(float64(current)/float64(t.MaxSubscribers)*100*100) / 100

		// thresholds compare on the exact ratio, not the rounded percent
		scaled := int64(current) * 100
		switch {
		case scaled >= int64(t.CriticalThresholdPercent)*int64(t.MaxSubscribers):
			status = StatusCritical
		case scaled >= int64(t.WarnThresholdPercent)*int64(t.MaxSubscribers):
			status = StatusWarning
		}
	}

	return UsageStatus{
		CurrentSubscribers: current,
		MaxSubscribers:     t.MaxSubscribers,
		UsagePercent:       pct,
		Status:             status,
		Overage:            max(0, current-t.MaxSubscribers),
		WarnThreshold:      t.WarnThresholdPercent,
		CriticalThreshold:  t.CriticalThresholdPercent,
	}
}

// CanAddSubscribers is false only for BLOCK at or over the cap.
func (t *Token) CanAddSubscribers(current int) bool {
	return !(t.OveragePolicy == OverageBlock && current >= t.MaxSubscribers)
}
