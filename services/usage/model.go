package usage

import "time"

type UsageSnapshot struct {
	ID                string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID          string    `gorm:"column:tenant_id;index;not null" json:"tenant_id"`
	IdempotencyKey    string    `gorm:"column:idempotency_key;uniqueIndex;not null" json:"idempotency_key"`
	ReportedAt        time.Time `gorm:"column:reported_at;not null" json:"reported_at"`
	ActiveSubscribers int       `gorm:"column:active_subscribers" json:"active_subscribers"`
	TotalSubscribers  int       `gorm:"column:total_subscribers" json:"total_subscribers"`
	APICalls24h       int64     `gorm:"column:api_calls_24h" json:"api_calls_24h"`
	StorageBytes      int64     `gorm:"column:storage_bytes" json:"storage_bytes"`
	RadiusSessions    int64     `gorm:"column:radius_sessions" json:"radius_sessions"`
	SignatureValid    bool      `gorm:"column:signature_valid;not null" json:"signature_valid"`
	ReceivedAt        time.Time `gorm:"column:received_at;not null" json:"received_at"`
}

func (UsageSnapshot) TableName() string { return "usage_snapshots" }
