package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	BusinessStatusActive    = "active"
	BusinessStatusSuspended = "suspended"
)

// Business is the tenant that purchases a plan. The payment core only reads
// it: name for checkout metadata, API key hash for the checkout endpoint.
type Business struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(150);not null" json:"name"`
	Slug             string         `gorm:"type:varchar(150);uniqueIndex" json:"slug"`
	Status           string         `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	APIKeyHash       string         `gorm:"type:char(64);default:''" json:"-"`
	APIKeyLastUsedAt *time.Time     `json:"api_key_last_used_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Business) TableName() string {
	return "businesses"
}

func (b *Business) IsActive() bool {
	return b.Status == BusinessStatusActive
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
