package apikey

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type APIKeyType string

const (
	APIKeyTypeInstance APIKeyType = "instance"
)

type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "active"
	APIKeyStatusRevoked APIKeyStatus = "revoked"
)

const (
	ScopeAll          = "*"
	ScopeUsageWrite   = "usage:write"
	ScopeLicenseRead  = "license:read"
	keyIDPrefix       = "isk_"
	keySecretByteSize = 32
)

// Scopes is stored as a postgres text[] and as its text form elsewhere.
type Scopes []string

func (Scopes) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (s Scopes) Value() (driver.Value, error) {
	return pq.StringArray(s).Value()
}

func (s *Scopes) Scan(src any) error {
	return (*pq.StringArray)(s).Scan(src)
}

func (s Scopes) Allows(scope string) bool {
	for _, v := range s {
		if v == ScopeAll || v == scope {
			return true
		}
	}
	return false
}

type APIKey struct {
	ID         string       `gorm:"column:id;primaryKey"`
	TenantID   string       `gorm:"column:tenant_id;not null;index"`
	KeyID      string       `gorm:"column:key_id;uniqueIndex;not null"`
	KeyType    APIKeyType   `gorm:"column:key_type;not null"`
	SecretHash string       `gorm:"column:secret_hash;not null"`
	Scopes     Scopes       `gorm:"column:scopes;not null"`
	Status     APIKeyStatus `gorm:"column:status;default:'active';not null"`
	CreatedBy  *string      `gorm:"column:created_by"`
	CreatedAt  time.Time    `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at"`
}

func (APIKey) TableName() string { return "api_keys" }
