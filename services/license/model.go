package license

import (
	"time"

	"ispbss/pkg/licensing"
)

// TenantLicense is the issuer's record of the token currently issued to a
// tenant. One row per tenant, updated in place on every re-issuance.
type TenantLicense struct {
	ID                      string                  `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt               time.Time               `gorm:"column:created_at" json:"created_at"`
	UpdatedAt               time.Time               `gorm:"column:updated_at" json:"updated_at"`
	TenantID                string                  `gorm:"column:tenant_id;uniqueIndex;not null" json:"tenant_id"`
	PlanID                  string                  `gorm:"column:plan_id;not null" json:"plan_id"`
	Version                 int64                   `gorm:"column:version;not null" json:"version"`
	Nonce                   string                  `gorm:"column:nonce;not null" json:"nonce"`
	IssuedAt                time.Time               `gorm:"column:issued_at;not null" json:"issued_at"`
	ExpiresAt               time.Time               `gorm:"column:expires_at;index;not null" json:"expires_at"`
	SignedToken             string                  `gorm:"column:signed_token;type:text;not null" json:"-"`
	MaxSubscribers          int                     `gorm:"column:max_subscribers;not null" json:"max_subscribers"`
	OveragePolicy           licensing.OveragePolicy `gorm:"column:overage_policy;not null" json:"overage_policy"`
	LastReportedSubscribers *int                    `gorm:"column:last_reported_subscribers" json:"last_reported_subscribers,omitempty"`
	LastUsageReportAt       *time.Time              `gorm:"column:last_usage_report_at" json:"last_usage_report_at,omitempty"`
	IsOverCap               bool                    `gorm:"column:is_over_cap;not null;default:false" json:"is_over_cap"`
}

func (TenantLicense) TableName() string { return "tenant_licenses" }
