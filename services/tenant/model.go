package tenant

import "time"

type TenantStatus string

var (
	Pending   TenantStatus = "pending"
	Active    TenantStatus = "active"
	Suspended TenantStatus = "suspended"
	Archived  TenantStatus = "archived"
)

func (t TenantStatus) String() string {
	switch t {
	case Pending, Active, Suspended, Archived:
		return string(t)
	default:
		return ""
	}
}

type Tenant struct {
	ID          string       `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt   time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at" json:"updated_at"`
	Name        string       `gorm:"column:name;not null" json:"name"`
	Slug        string       `gorm:"column:slug;uniqueIndex;not null" json:"slug"`
	Status      TenantStatus `gorm:"column:status;not null" json:"status"`
	PlanID      string       `gorm:"column:plan_id;index" json:"plan_id"`
	InstanceURL string       `gorm:"column:instance_url" json:"instance_url,omitempty"`
}

func (Tenant) TableName() string { return "tenants" }
