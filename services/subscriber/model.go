package subscriber

import "time"

type Status string

const (
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusTerminated:
		return true
	default:
		return false
	}
}

type Subscriber struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
	TenantID  string    `gorm:"column:tenant_id;not null;uniqueIndex:idx_subscriber_username" json:"tenant_id"`
	Username  string    `gorm:"column:username;not null;uniqueIndex:idx_subscriber_username" json:"username"`
	Status    Status    `gorm:"column:status;not null;index" json:"status"`
}

func (Subscriber) TableName() string { return "subscribers" }
