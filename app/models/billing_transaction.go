package models

import (
	"crypto/rand"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transaction statuses. Paid and cancelled are terminal; the only way out of
// paid is an explicit refund flow which this module does not execute.
const (
	TxStatusCreated   = "created"
	TxStatusWaiting   = "waiting"
	TxStatusPaid      = "paid"
	TxStatusCancelled = "cancelled"
	TxStatusFailed    = "failed"
)

const (
	ProviderPayme = "payme"
	ProviderClick = "click"
)

// CurrencyUZS is the only currency the ledger stores.
const CurrencyUZS = "UZS"

const orderIDPrefix = "BZ"

// BillingTransaction is the merchant-side, provider-agnostic ledger row for a
// purchase intent. Amounts are stored in UZS so'm (major units, two decimal
// places); conversion to tiyin happens exclusively through AmountInTiyin.
type BillingTransaction struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UUID                  string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"uuid"`
	BusinessID            uint       `gorm:"not null;index" json:"business_id"`
	PlanID                uint       `gorm:"not null;index" json:"plan_id"`
	SubscriptionID        *uint      `gorm:"index" json:"subscription_id,omitempty"`
	Provider              string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	ProviderTransactionID string     `gorm:"type:varchar(100);index" json:"provider_transaction_id"`
	OrderID               string     `gorm:"type:varchar(40);not null;uniqueIndex" json:"order_id"`
	Amount                float64    `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency              string     `gorm:"type:varchar(3);not null;default:'UZS'" json:"currency"`
	Status                string     `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	StatusCode            *int       `json:"status_code,omitempty"`
	CancelReason          string     `gorm:"type:varchar(255)" json:"cancel_reason"`
	PerformedAt           *time.Time `json:"performed_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	ExpiresAt             time.Time  `gorm:"not null;index" json:"expires_at"`
	MetadataJSON          string     `gorm:"type:text" json:"metadata_json"`
	IPAddress             string     `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent             string     `gorm:"type:varchar(255)" json:"user_agent"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingTransaction) TableName() string {
	return "billing_transactions"
}

// BeforeCreate fills the identity fields the caller did not set.
func (t *BillingTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == "" {
		t.UUID = uuid.NewString()
	}
	if t.OrderID == "" {
		t.OrderID = GenerateOrderID()
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(24 * time.Hour)
	}
	return nil
}

// GenerateOrderID builds an externally visible order id: a fixed prefix, a
// yymmddhhmmss timestamp and a 4-character random suffix.
func GenerateOrderID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// a time-derived suffix rather than returning an empty id.
		for i := range b {
			b[i] = letters[int(time.Now().UnixNano()>>uint(i*6))%len(letters)]
		}
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return fmt.Sprintf("%s%s%s", orderIDPrefix, time.Now().Format("060102150405"), string(b))
}

// AmountInTiyin converts the stored so'm amount to Payme's minor units
// (1 so'm = 100 tiyin). Amounts are persisted as DECIMAL(12,2) so the
// conversion is exact; math.Round only absorbs float representation noise.
func (t *BillingTransaction) AmountInTiyin() int64 {
	return int64(math.Round(t.Amount * 100))
}

func (t *BillingTransaction) IsPaid() bool {
	return t.Status == TxStatusPaid
}

func (t *BillingTransaction) IsCancelled() bool {
	return t.Status == TxStatusCancelled
}

func (t *BillingTransaction) IsFailed() bool {
	return t.Status == TxStatusFailed
}

// IsExpired reports whether a still-pending transaction has passed its
// expiry. Terminal states never count as expired.
func (t *BillingTransaction) IsExpired() bool {
	if t.Status != TxStatusCreated && t.Status != TxStatusWaiting {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

func (t *BillingTransaction) CanBeCancelled() bool {
	return t.Status == TxStatusCreated || t.Status == TxStatusWaiting
}

// MarkWaiting records that the provider opened its side of the payment.
// Only valid from created.
func (t *BillingTransaction) MarkWaiting(providerTransactionID string) {
	t.Status = TxStatusWaiting
	t.ProviderTransactionID = providerTransactionID
}

// MarkPaid is idempotent: marking an already-paid transaction is a no-op so
// concurrent duplicate deliveries settle on the same state.
func (t *BillingTransaction) MarkPaid() {
	if t.IsPaid() {
		return
	}
	now := time.Now()
	t.Status = TxStatusPaid
	t.PerformedAt = &now
}

func (t *BillingTransaction) MarkCancelled(reason string, statusCode *int) {
	now := time.Now()
	t.Status = TxStatusCancelled
	t.CancelledAt = &now
	t.CancelReason = reason
	t.StatusCode = statusCode
}
