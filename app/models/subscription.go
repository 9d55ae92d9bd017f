package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is the entitlement a successful payment activates or extends.
// The payment core writes it only through the payment-success handler.
type Subscription struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	BusinessID   uint      `gorm:"not null;index" json:"business_id"`
	PlanID       uint      `gorm:"not null;index" json:"plan_id"`
	Status       string    `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	BillingCycle string    `gorm:"type:varchar(10);not null;default:'monthly'" json:"billing_cycle"`
	StartsAt     time.Time `gorm:"not null" json:"starts_at"`
	EndsAt       time.Time `gorm:"not null;index" json:"ends_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive && time.Now().Before(s.EndsAt)
}

// PeriodFor returns the subscription period length for a billing cycle.
func PeriodFor(cycle string) time.Duration {
	if cycle == BillingCycleYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
