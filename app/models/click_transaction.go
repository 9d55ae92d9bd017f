package models

import "time"

// Click protocol action codes. ActionNone marks a record that exists but has
// not passed Prepare yet (e.g. created by an error notification).
const (
	ClickActionNone     = -1
	ClickActionPrepare  = 0
	ClickActionComplete = 1
)

// ClickTransaction tracks Click's two-phase protocol state for one payment
// attempt. merchant_prepare_id is our side of the handshake: issued during
// Prepare and echoed (and signed) by Click during Complete.
type ClickTransaction struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	BillingTransactionID uint      `gorm:"not null;index" json:"billing_transaction_id"`
	ClickTransID         int64     `gorm:"uniqueIndex" json:"click_trans_id"`
	ClickPaydocID        int64     `json:"click_paydoc_id"`
	MerchantTransID      string    `gorm:"type:varchar(40);index" json:"merchant_trans_id"`
	MerchantPrepareID    string    `gorm:"type:varchar(40)" json:"merchant_prepare_id"`
	Action               int       `gorm:"not null;default:-1" json:"action"`
	ErrorCode            int       `gorm:"not null;default:0" json:"error_code"`
	ErrorNote            string    `gorm:"type:varchar(255)" json:"error_note"`
	SignTime             string    `gorm:"type:varchar(30)" json:"sign_time"`
	SignString           string    `gorm:"type:varchar(64)" json:"sign_string"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ClickTransaction) TableName() string {
	return "billing_click_transactions"
}

func (ct *ClickTransaction) IsPrepared() bool {
	return ct.Action == ClickActionPrepare && ct.ErrorCode == 0
}

func (ct *ClickTransaction) IsCompleted() bool {
	return ct.Action == ClickActionComplete && ct.ErrorCode == 0
}

// MarkCompleted records the Complete phase together with Click's payment
// document id.
func (ct *ClickTransaction) MarkCompleted(clickPaydocID int64) {
	ct.Action = ClickActionComplete
	ct.ClickPaydocID = clickPaydocID
	ct.ErrorCode = 0
	ct.ErrorNote = ""
}

// MarkError stores a provider-reported failure code on the record.
func (ct *ClickTransaction) MarkError(code int, note string) {
	ct.ErrorCode = code
	ct.ErrorNote = note
}
