package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Plan is a purchasable tariff. Prices are UZS so'm.
type Plan struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"type:varchar(100);not null" json:"name"`
	Slug         string         `gorm:"type:varchar(100);uniqueIndex" json:"slug"`
	PriceMonthly float64        `gorm:"type:decimal(12,2);not null" json:"price_monthly"`
	PriceYearly  float64        `gorm:"type:decimal(12,2);not null" json:"price_yearly"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Plan) TableName() string {
	return "plans"
}

// PriceFor returns the plan price for a billing cycle.
func (p *Plan) PriceFor(cycle string) float64 {
	if cycle == BillingCycleYearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}
