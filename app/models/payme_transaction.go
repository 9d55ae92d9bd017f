package models

import "time"

// Payme provider-side states as defined by the Merchant API.
const (
	PaymeStateCreated                int = 1
	PaymeStateCompleted              int = 2
	PaymeStateCancelled              int = -1
	PaymeStateCancelledAfterComplete int = -2
)

// Payme cancel reason codes.
const (
	PaymeReasonRecipientNotFound = 1
	PaymeReasonDebitError        = 2
	PaymeReasonExecutionError    = 3
	PaymeReasonTimeout           = 4
	PaymeReasonRefund            = 5
	PaymeReasonUnknown           = 10
)

// PaymeTransaction tracks Payme's own protocol state for one payment attempt.
// All provider timestamps are milliseconds since epoch, as Payme sends them.
type PaymeTransaction struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	BillingTransactionID uint      `gorm:"not null;index" json:"billing_transaction_id"`
	PaymeID              string    `gorm:"type:varchar(100);uniqueIndex" json:"payme_id"`
	PaymeTime            int64     `json:"payme_time"`
	State                int       `gorm:"not null;default:1" json:"state"`
	CreateTime           int64     `gorm:"index" json:"create_time"`
	PerformTime          int64     `json:"perform_time"`
	CancelTime           int64     `json:"cancel_time"`
	Reason               *int      `json:"reason,omitempty"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymeTransaction) TableName() string {
	return "billing_payme_transactions"
}

func (pt *PaymeTransaction) IsCreated() bool {
	return pt.State == PaymeStateCreated
}

func (pt *PaymeTransaction) IsCompleted() bool {
	return pt.State == PaymeStateCompleted
}

func (pt *PaymeTransaction) IsCancelled() bool {
	return pt.State == PaymeStateCancelled || pt.State == PaymeStateCancelledAfterComplete
}

func (pt *PaymeTransaction) CanPerform() bool {
	return pt.State == PaymeStateCreated
}

func (pt *PaymeTransaction) CanCancel() bool {
	return pt.State == PaymeStateCreated || pt.State == PaymeStateCompleted
}

// IsExpiredAt reports whether the provider transaction exceeded its allowed
// lifetime, measured from the provider-side creation time.
func (pt *PaymeTransaction) IsExpiredAt(now time.Time, lifetime time.Duration) bool {
	if pt.CreateTime == 0 {
		return false
	}
	created := time.UnixMilli(pt.CreateTime)
	return now.Sub(created) > lifetime
}

// MarkCompleted moves the transaction to the completed state with the given
// perform timestamp. No-op when already completed.
func (pt *PaymeTransaction) MarkCompleted(performTimeMs int64) {
	if pt.IsCompleted() {
		return
	}
	pt.State = PaymeStateCompleted
	pt.PerformTime = performTimeMs
}

// MarkCancelled picks the cancel state based on whether the payment already
// went through: cancelling after complete implies a refund obligation.
func (pt *PaymeTransaction) MarkCancelled(reason int, cancelTimeMs int64) {
	if pt.State == PaymeStateCompleted {
		pt.State = PaymeStateCancelledAfterComplete
	} else {
		pt.State = PaymeStateCancelled
	}
	r := reason
	pt.Reason = &r
	pt.CancelTime = cancelTimeMs
}
