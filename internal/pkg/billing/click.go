package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/events"
)

// ClickRequest is one form-encoded delivery from Click's SHOP-API. Amount
// stays a string because the signature covers the literal value Click sent.
type ClickRequest struct {
	ClickTransID      int64  `form:"click_trans_id"`
	ServiceID         int64  `form:"service_id"`
	ClickPaydocID     int64  `form:"click_paydoc_id"`
	MerchantTransID   string `form:"merchant_trans_id"`
	MerchantPrepareID string `form:"merchant_prepare_id"`
	Amount            string `form:"amount"`
	Action            int    `form:"action"`
	Error             int    `form:"error"`
	ErrorNote         string `form:"error_note"`
	SignTime          string `form:"sign_time"`
	SignString        string `form:"sign_string"`
}

// ClickService implements the Click Prepare/Complete two-phase protocol
// over the transaction ledger.
type ClickService struct {
	cfg        Config
	repo       Repository
	dispatcher events.Dispatcher
}

// NewClickService wires the Click state machine with its collaborators.
func NewClickService(cfg Config, repo Repository, dispatcher events.Dispatcher) *ClickService {
	return &ClickService{cfg: cfg, repo: repo, dispatcher: dispatcher}
}

// HandleRequest routes one Click delivery by its action field.
func (s *ClickService) HandleRequest(req ClickRequest) ClickResponse {
	fiberlog.Info(fmt.Sprintf("[Click] action=%d click_trans_id=%d merchant_trans_id=%s", req.Action, req.ClickTransID, req.MerchantTransID))
	switch req.Action {
	case models.ClickActionPrepare:
		return s.Prepare(req)
	case models.ClickActionComplete:
		return s.Complete(req)
	default:
		return clickError(req.ClickTransID, req.MerchantTransID, ClickErrActionNotFound, "Action not found")
	}
}

// Prepare validates the order and records Click's side of the payment. The
// merchant_prepare_id returned to Click is the ledger transaction id; Click
// echoes it back in Complete where it seals the signature.
func (s *ClickService) Prepare(req ClickRequest) ClickResponse {
	if req.Error != 0 {
		return s.handleClickError(req)
	}

	if !VerifyClickSignature(s.cfg, req.ClickTransID, req.ServiceID, req.MerchantTransID, "", req.Amount, req.Action, req.SignTime, req.SignString) {
		fiberlog.Warn(fmt.Sprintf("[Click] Prepare sign check failed click_trans_id=%d", req.ClickTransID))
		return clickError(req.ClickTransID, req.MerchantTransID, ClickErrSignCheckFailed, "SIGN CHECK FAILED")
	}

	var resp ClickResponse
	err := s.repo.InTransaction(func(r Repository) error {
		tx, err := r.FindTransactionByOrderID(req.MerchantTransID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrOrderNotFound, "Order not found")
				return nil
			}
			return err
		}

		// The order is only payable while its business and plan still exist.
		if _, err := r.FindBusinessByID(tx.BusinessID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrOrderNotFound, "Order not found")
				return nil
			}
			return err
		}
		if _, err := r.FindPlanByID(tx.PlanID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrOrderNotFound, "Order not found")
				return nil
			}
			return err
		}

		if !s.amountMatches(tx, req.Amount) {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrIncorrectAmount, "Incorrect amount")
			return nil
		}
		if tx.IsPaid() {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrAlreadyPaid, "Already paid")
			return nil
		}
		if tx.IsCancelled() || tx.IsFailed() {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrTransactionCancelled, "Transaction cancelled")
			return nil
		}
		if tx.IsExpired() {
			code := ClickErrTransactionCancelled
			tx.MarkCancelled("Transaction expired", &code)
			if err := r.SaveTransaction(tx); err != nil {
				return err
			}
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrTransactionCancelled, "Transaction cancelled")
			return nil
		}

		// Replay: the same click_trans_id prepared before gets the same
		// answer, nothing is written twice.
		existing, err := r.FindClickByClickTransID(req.ClickTransID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil && existing.IsPrepared() {
			resp = s.prepareResult(req, existing.MerchantPrepareID)
			return nil
		}

		ct := existing
		if ct == nil {
			ct = &models.ClickTransaction{
				BillingTransactionID: tx.ID,
				ClickTransID:         req.ClickTransID,
			}
		}
		ct.MerchantTransID = req.MerchantTransID
		ct.MerchantPrepareID = strconv.FormatUint(uint64(tx.ID), 10)
		ct.Action = models.ClickActionPrepare
		ct.ErrorCode = 0
		ct.ErrorNote = ""
		ct.SignTime = req.SignTime
		ct.SignString = req.SignString
		if err := r.SaveClick(ct); err != nil {
			return err
		}

		tx.MarkWaiting(strconv.FormatInt(req.ClickTransID, 10))
		if err := r.SaveTransaction(tx); err != nil {
			return err
		}

		fiberlog.Info(fmt.Sprintf("[Click] Prepare ok order_id=%s click_trans_id=%d", tx.OrderID, req.ClickTransID))
		resp = s.prepareResult(req, ct.MerchantPrepareID)
		return nil
	})
	if err != nil {
		return s.systemError("Prepare", req, err)
	}
	return resp
}

// Complete settles the payment: the click record becomes completed, the
// ledger becomes paid and the payment-success event fires atomically. A
// repeated Complete for a paid transaction replays the success response.
func (s *ClickService) Complete(req ClickRequest) ClickResponse {
	if req.Error != 0 {
		return s.handleClickError(req)
	}

	if !VerifyClickSignature(s.cfg, req.ClickTransID, req.ServiceID, req.MerchantTransID, req.MerchantPrepareID, req.Amount, req.Action, req.SignTime, req.SignString) {
		fiberlog.Warn(fmt.Sprintf("[Click] Complete sign check failed click_trans_id=%d", req.ClickTransID))
		return clickError(req.ClickTransID, req.MerchantTransID, ClickErrSignCheckFailed, "SIGN CHECK FAILED")
	}

	var resp ClickResponse
	err := s.repo.InTransaction(func(r Repository) error {
		ct, err := r.FindClickByClickTransID(req.ClickTransID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrOrderNotFound, "Transaction not found")
				return nil
			}
			return err
		}
		tx, err := r.FindTransactionByID(ct.BillingTransactionID)
		if err != nil {
			return err
		}

		if req.MerchantPrepareID != ct.MerchantPrepareID {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrPaymentFailed, "Transaction not prepared")
			return nil
		}

		if ct.IsCompleted() && tx.IsPaid() {
			resp = s.completeResult(req, ct.MerchantPrepareID)
			return nil
		}
		if tx.IsCancelled() || tx.IsFailed() {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrTransactionCancelled, "Transaction cancelled")
			return nil
		}
		if !ct.IsPrepared() {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrPaymentFailed, "Transaction not prepared")
			return nil
		}
		if tx.IsPaid() {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrAlreadyPaid, "Already paid")
			return nil
		}
		if !s.amountMatches(tx, req.Amount) {
			resp = clickError(req.ClickTransID, req.MerchantTransID, ClickErrIncorrectAmount, "Incorrect amount")
			return nil
		}

		ct.MarkCompleted(req.ClickPaydocID)
		if err := r.SaveClick(ct); err != nil {
			return err
		}
		tx.MarkPaid()
		if err := r.SaveTransaction(tx); err != nil {
			return err
		}

		if err := s.dispatcher.Dispatch(WithRepository(context.Background(), r), events.PaymentSucceeded{
			TransactionID:  tx.ID,
			OrderID:        tx.OrderID,
			BusinessID:     tx.BusinessID,
			PlanID:         tx.PlanID,
			SubscriptionID: tx.SubscriptionID,
			Provider:       models.ProviderClick,
			Amount:         tx.Amount,
			BillingCycle:   billingCycleFromMetadata(tx.MetadataJSON),
		}); err != nil {
			return err
		}

		fiberlog.Info(fmt.Sprintf("[Click] Complete ok order_id=%s amount=%.2f", tx.OrderID, tx.Amount))
		resp = s.completeResult(req, ct.MerchantPrepareID)
		return nil
	})
	if err != nil {
		return s.systemError("Complete", req, err)
	}
	return resp
}

// handleClickError processes a delivery where Click itself reports a
// failure. The provider's error code and note are echoed back, the click
// record keeps the error for the audit trail and the ledger transaction is
// cancelled if it has not been paid yet.
func (s *ClickService) handleClickError(req ClickRequest) ClickResponse {
	fiberlog.Warn(fmt.Sprintf("[Click] provider error=%d note=%q click_trans_id=%d merchant_trans_id=%s", req.Error, req.ErrorNote, req.ClickTransID, req.MerchantTransID))

	var resp ClickResponse
	err := s.repo.InTransaction(func(r Repository) error {
		resp = clickError(req.ClickTransID, req.MerchantTransID, req.Error, req.ErrorNote)

		ct, err := r.FindClickByClickTransID(req.ClickTransID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var tx *models.BillingTransaction
		if ct != nil {
			tx, err = r.FindTransactionByID(ct.BillingTransactionID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		} else if req.MerchantTransID != "" {
			// The failed delivery may carry an unknown click_trans_id; fall
			// back to the order and its prepared click record.
			tx, err = r.FindTransactionByOrderID(req.MerchantTransID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if tx != nil {
				ct, err = r.FindClickByTransactionID(tx.ID)
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			}
		}

		if ct != nil {
			ct.MarkError(req.Error, req.ErrorNote)
			if err := r.SaveClick(ct); err != nil {
				return err
			}
		}

		if tx != nil && tx.CanBeCancelled() {
			code := req.Error
			tx.MarkCancelled(fmt.Sprintf("Click error: %s", req.ErrorNote), &code)
			if err := r.SaveTransaction(tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.systemError("handleClickError", req, err)
	}
	return resp
}

// amountMatches compares the raw Click amount string against the ledger
// amount in tiyin. Click sends amounts in so'm major units.
func (s *ClickService) amountMatches(tx *models.BillingTransaction, amount string) bool {
	parsed, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return false
	}
	return ToTiyin(parsed) == tx.AmountInTiyin()
}

func (s *ClickService) prepareResult(req ClickRequest, prepareID string) ClickResponse {
	return ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: prepareID,
		Error:             ClickErrSuccess,
		ErrorNote:         "Success",
	}
}

func (s *ClickService) completeResult(req ClickRequest, confirmID string) ClickResponse {
	return ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantConfirmID: confirmID,
		Error:             ClickErrSuccess,
		ErrorNote:         "Success",
	}
}

func (s *ClickService) systemError(phase string, req ClickRequest, err error) ClickResponse {
	fiberlog.Error(fmt.Sprintf("[Click] %s error: %v", phase, err))
	return clickError(req.ClickTransID, req.MerchantTransID, ClickErrUnknown, "Internal error")
}
