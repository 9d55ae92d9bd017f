package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/events"
)

// Payme Merchant API method names.
const (
	paymeMethodCheckPerform = "CheckPerformTransaction"
	paymeMethodCreate       = "CreateTransaction"
	paymeMethodPerform      = "PerformTransaction"
	paymeMethodCancel       = "CancelTransaction"
	paymeMethodCheck        = "CheckTransaction"
	paymeMethodGetStatement = "GetStatement"
)

// PaymeAccount is the account block Payme sends with order-scoped methods.
type PaymeAccount struct {
	OrderID string `json:"order_id"`
}

// PaymeParams is the flat parameter bag of a Payme JSON-RPC request. Fields
// are populated per method; unused ones stay zero.
type PaymeParams struct {
	ID      string       `json:"id"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
	Reason  *int         `json:"reason"`
	From    int64        `json:"from"`
	To      int64        `json:"to"`
}

// PaymeRequest is the JSON-RPC envelope of an inbound Payme webhook.
type PaymeRequest struct {
	Method string          `json:"method"`
	Params PaymeParams     `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// PaymeService implements the Payme Merchant API state machine over the
// transaction ledger. Every mutating method runs inside one database
// transaction together with the reads that decided the transition.
type PaymeService struct {
	cfg        Config
	repo       Repository
	dispatcher events.Dispatcher
	now        func() time.Time
}

// NewPaymeService wires the Payme state machine with its collaborators.
func NewPaymeService(cfg Config, repo Repository, dispatcher events.Dispatcher) *PaymeService {
	return &PaymeService{cfg: cfg, repo: repo, dispatcher: dispatcher, now: time.Now}
}

func (s *PaymeService) nowMs() int64 {
	return s.now().UnixMilli()
}

// HandleRequest authenticates and routes one Payme webhook delivery. The
// returned envelope is always sent with HTTP 200; auth failures use Payme's
// own -32504 error, not a transport 401.
func (s *PaymeService) HandleRequest(authHeader, remoteIP string, body []byte) PaymeResponse {
	var req PaymeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		return s.envelope(req.ID, paymeError(PaymeErrInvalidJSONRPC, ""))
	}

	if !VerifyPaymeBasicAuth(authHeader, s.cfg.PaymeMerchantKey) {
		fiberlog.Warn(fmt.Sprintf("[Payme] auth failed ip=%s method=%s", remoteIP, req.Method))
		return s.envelope(req.ID, paymeError(PaymeErrInsufficientAuth, ""))
	}

	fiberlog.Info(fmt.Sprintf("[Payme] %s order_id=%s id=%s ip=%s", req.Method, req.Params.Account.OrderID, req.Params.ID, remoteIP))

	var resp PaymeResponse
	switch req.Method {
	case paymeMethodCheckPerform:
		resp = s.CheckPerformTransaction(req.Params)
	case paymeMethodCreate:
		resp = s.CreateTransaction(req.Params)
	case paymeMethodPerform:
		resp = s.PerformTransaction(req.Params)
	case paymeMethodCancel:
		resp = s.CancelTransaction(req.Params)
	case paymeMethodCheck:
		resp = s.CheckTransaction(req.Params)
	case paymeMethodGetStatement:
		resp = s.GetStatement(req.Params)
	default:
		resp = paymeError(PaymeErrMethodNotFound, "")
	}
	return s.envelope(req.ID, resp)
}

func (s *PaymeService) envelope(id json.RawMessage, resp PaymeResponse) PaymeResponse {
	resp.JSONRPC = "2.0"
	if len(id) > 0 {
		resp.ID = id
	}
	return resp
}

// CheckPerformTransaction validates that an order can be paid: it exists,
// the amount matches in tiyin, it is still pending, and the referenced
// business and plan are present.
func (s *PaymeService) CheckPerformTransaction(params PaymeParams) PaymeResponse {
	orderID := params.Account.OrderID
	if orderID == "" {
		return paymeError(PaymeErrOrderNotFound, "order_id")
	}

	tx, err := s.repo.FindTransactionByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return paymeError(PaymeErrOrderNotFound, "order_id")
		}
		return s.systemError(paymeMethodCheckPerform, err)
	}

	if params.Amount != tx.AmountInTiyin() {
		return paymeError(PaymeErrInvalidAmount, "")
	}
	if tx.IsPaid() {
		return paymeError(PaymeErrAlreadyDone, "")
	}
	if tx.IsCancelled() || tx.IsExpired() {
		return paymeError(PaymeErrCannotPerform, "")
	}

	business, err := s.repo.FindBusinessByID(tx.BusinessID)
	if err != nil {
		return paymeError(PaymeErrOrderNotFound, "order_id")
	}
	plan, err := s.repo.FindPlanByID(tx.PlanID)
	if err != nil {
		return paymeError(PaymeErrOrderNotFound, "order_id")
	}

	return paymeSuccess(map[string]interface{}{
		"allow": true,
		"additional": map[string]interface{}{
			"order_id":      tx.OrderID,
			"plan_name":     plan.Name,
			"business_name": business.Name,
		},
	})
}

// CreateTransaction opens Payme's side of the payment. Idempotent by the
// Payme transaction id; a second live provider transaction for the same
// order is rejected so one checkout cannot be charged twice, while an
// expired sibling is first cancelled for timeout.
func (s *PaymeService) CreateTransaction(params PaymeParams) PaymeResponse {
	orderID := params.Account.OrderID
	if orderID == "" || params.ID == "" {
		return paymeError(PaymeErrOrderNotFound, "order_id")
	}

	var resp PaymeResponse
	err := s.repo.InTransaction(func(r Repository) error {
		tx, err := r.FindTransactionByOrderID(orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = paymeError(PaymeErrOrderNotFound, "order_id")
				return nil
			}
			return err
		}

		if params.Amount != tx.AmountInTiyin() {
			resp = paymeError(PaymeErrInvalidAmount, "")
			return nil
		}

		// Idempotency by payme id: replay or reject based on where the
		// existing provider transaction got to.
		existing, err := r.FindPaymeByPaymeID(params.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			switch {
			case existing.IsExpiredAt(s.now(), s.cfg.PaymeTransactionTimeout):
				resp = paymeError(PaymeErrCannotPerform, "")
			case existing.IsCreated():
				resp = paymeSuccess(s.createResult(existing, tx))
			case existing.IsCompleted():
				resp = paymeError(PaymeErrAlreadyDone, "")
			default:
				resp = paymeError(PaymeErrCannotPerform, "")
			}
			return nil
		}

		// A different provider transaction for the same order blocks a new
		// one unless it already timed out.
		sibling, err := r.FindPaymeByTransactionID(tx.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if sibling != nil && sibling.PaymeID != "" && sibling.PaymeID != params.ID {
			if !sibling.IsExpiredAt(s.now(), s.cfg.PaymeTransactionTimeout) {
				resp = paymeError(PaymeErrCannotPerform, "")
				return nil
			}
			sibling.MarkCancelled(models.PaymeReasonTimeout, s.nowMs())
			if err := r.SavePayme(sibling); err != nil {
				return err
			}
			sibling = nil
		}

		if tx.IsPaid() {
			resp = paymeError(PaymeErrAlreadyDone, "")
			return nil
		}
		if tx.IsCancelled() || tx.IsFailed() {
			resp = paymeError(PaymeErrCannotPerform, "")
			return nil
		}
		if tx.IsExpired() {
			resp = paymeError(PaymeErrCannotPerform, "")
			return nil
		}

		pt := sibling
		if pt == nil {
			pt = &models.PaymeTransaction{BillingTransactionID: tx.ID}
		}
		pt.PaymeID = params.ID
		pt.PaymeTime = params.Time
		pt.State = models.PaymeStateCreated
		pt.CreateTime = s.nowMs()
		pt.PerformTime = 0
		pt.CancelTime = 0
		pt.Reason = nil
		if err := r.SavePayme(pt); err != nil {
			return err
		}

		tx.MarkWaiting(params.ID)
		if err := r.SaveTransaction(tx); err != nil {
			return err
		}

		fiberlog.Info(fmt.Sprintf("[Payme] CreateTransaction ok order_id=%s payme_id=%s", tx.OrderID, params.ID))
		resp = paymeSuccess(s.createResult(pt, tx))
		return nil
	})
	if err != nil {
		return s.systemError(paymeMethodCreate, err)
	}
	return resp
}

// PerformTransaction is the money-moving step: provider transaction becomes
// completed, the ledger becomes paid and the payment-success event fires,
// all atomically. Repeated calls replay the original success response.
func (s *PaymeService) PerformTransaction(params PaymeParams) PaymeResponse {
	if params.ID == "" {
		return paymeError(PaymeErrTransactionNotFound, "")
	}

	var resp PaymeResponse
	err := s.repo.InTransaction(func(r Repository) error {
		pt, err := r.FindPaymeByPaymeID(params.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = paymeError(PaymeErrTransactionNotFound, "")
				return nil
			}
			return err
		}
		tx, err := r.FindTransactionByID(pt.BillingTransactionID)
		if err != nil {
			return err
		}

		if pt.IsCompleted() {
			resp = paymeSuccess(s.performResult(pt, tx))
			return nil
		}
		if pt.IsCancelled() {
			resp = paymeError(PaymeErrCannotPerform, "")
			return nil
		}
		if !pt.CanPerform() {
			resp = paymeError(PaymeErrInvalidState, "")
			return nil
		}

		// Lazy timeout: an aged provider transaction cancels both sides.
		if pt.IsExpiredAt(s.now(), s.cfg.PaymeTransactionTimeout) {
			pt.MarkCancelled(models.PaymeReasonTimeout, s.nowMs())
			if err := r.SavePayme(pt); err != nil {
				return err
			}
			code := PaymeErrCannotPerform
			tx.MarkCancelled("Transaction timeout", &code)
			if err := r.SaveTransaction(tx); err != nil {
				return err
			}
			resp = paymeError(PaymeErrCannotPerform, "")
			return nil
		}

		pt.MarkCompleted(s.nowMs())
		if err := r.SavePayme(pt); err != nil {
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
			Provider:       models.ProviderPayme,
			Amount:         tx.Amount,
			BillingCycle:   billingCycleFromMetadata(tx.MetadataJSON),
		}); err != nil {
			return err
		}

		fiberlog.Info(fmt.Sprintf("[Payme] PerformTransaction ok order_id=%s amount=%.2f", tx.OrderID, tx.Amount))
		resp = paymeSuccess(s.performResult(pt, tx))
		return nil
	})
	if err != nil {
		return s.systemError(paymeMethodPerform, err)
	}
	return resp
}

// CancelTransaction cancels Payme's side and the ledger. Cancelling after a
// completed payment records a refund obligation; refund execution itself is
// out of scope.
func (s *PaymeService) CancelTransaction(params PaymeParams) PaymeResponse {
	if params.ID == "" {
		return paymeError(PaymeErrTransactionNotFound, "")
	}
	reason := models.PaymeReasonUnknown
	if params.Reason != nil {
		reason = *params.Reason
	}

	var resp PaymeResponse
	err := s.repo.InTransaction(func(r Repository) error {
		pt, err := r.FindPaymeByPaymeID(params.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				resp = paymeError(PaymeErrTransactionNotFound, "")
				return nil
			}
			return err
		}
		tx, err := r.FindTransactionByID(pt.BillingTransactionID)
		if err != nil {
			return err
		}

		if pt.IsCancelled() {
			resp = paymeSuccess(s.cancelResult(pt, tx))
			return nil
		}
		if !pt.CanCancel() {
			resp = paymeError(PaymeErrCannotPerform, "")
			return nil
		}

		pt.MarkCancelled(reason, s.nowMs())
		if err := r.SavePayme(pt); err != nil {
			return err
		}
		tx.MarkCancelled(paymeCancelReasonText(reason), nil)
		if err := r.SaveTransaction(tx); err != nil {
			return err
		}

		if pt.State == models.PaymeStateCancelledAfterComplete {
			fiberlog.Warn(fmt.Sprintf("[Payme] CancelTransaction refund required order_id=%s amount=%.2f", tx.OrderID, tx.Amount))
			if err := s.dispatcher.Dispatch(WithRepository(context.Background(), r), events.RefundRequested{
				TransactionID: tx.ID,
				OrderID:       tx.OrderID,
				Amount:        tx.Amount,
				Reason:        reason,
			}); err != nil {
				return err
			}
		}

		fiberlog.Info(fmt.Sprintf("[Payme] CancelTransaction ok order_id=%s reason=%d", tx.OrderID, reason))
		resp = paymeSuccess(s.cancelResult(pt, tx))
		return nil
	})
	if err != nil {
		return s.systemError(paymeMethodCancel, err)
	}
	return resp
}

// CheckTransaction is a read-only projection of the provider transaction in
// Payme's expected shape.
func (s *PaymeService) CheckTransaction(params PaymeParams) PaymeResponse {
	if params.ID == "" {
		return paymeError(PaymeErrTransactionNotFound, "")
	}
	pt, err := s.repo.FindPaymeByPaymeID(params.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return paymeError(PaymeErrTransactionNotFound, "")
		}
		return s.systemError(paymeMethodCheck, err)
	}
	tx, err := s.repo.FindTransactionByID(pt.BillingTransactionID)
	if err != nil {
		return s.systemError(paymeMethodCheck, err)
	}

	return paymeSuccess(map[string]interface{}{
		"create_time":  pt.CreateTime,
		"perform_time": pt.PerformTime,
		"cancel_time":  pt.CancelTime,
		"transaction":  strconv.FormatUint(uint64(tx.ID), 10),
		"state":        pt.State,
		"reason":       pt.Reason,
	})
}

// GetStatement lists provider transactions created within [from, to] for
// Payme's reconciliation reporting.
func (s *PaymeService) GetStatement(params PaymeParams) PaymeResponse {
	from := params.From
	to := params.To
	if to == 0 {
		to = s.nowMs()
	}

	pts, err := s.repo.ListPaymeByCreateTime(from, to)
	if err != nil {
		return s.systemError(paymeMethodGetStatement, err)
	}

	list := make([]map[string]interface{}, 0, len(pts))
	for i := range pts {
		pt := &pts[i]
		tx, err := s.repo.FindTransactionByID(pt.BillingTransactionID)
		if err != nil {
			return s.systemError(paymeMethodGetStatement, err)
		}
		list = append(list, map[string]interface{}{
			"id":           pt.PaymeID,
			"time":         pt.PaymeTime,
			"amount":       tx.AmountInTiyin(),
			"account":      map[string]string{"order_id": tx.OrderID},
			"create_time":  pt.CreateTime,
			"perform_time": pt.PerformTime,
			"cancel_time":  pt.CancelTime,
			"transaction":  strconv.FormatUint(uint64(tx.ID), 10),
			"state":        pt.State,
			"reason":       pt.Reason,
		})
	}
	return paymeSuccess(map[string]interface{}{"transactions": list})
}

func (s *PaymeService) createResult(pt *models.PaymeTransaction, tx *models.BillingTransaction) map[string]interface{} {
	return map[string]interface{}{
		"create_time": pt.CreateTime,
		"transaction": strconv.FormatUint(uint64(tx.ID), 10),
		"state":       pt.State,
	}
}

func (s *PaymeService) performResult(pt *models.PaymeTransaction, tx *models.BillingTransaction) map[string]interface{} {
	return map[string]interface{}{
		"transaction":  strconv.FormatUint(uint64(tx.ID), 10),
		"perform_time": pt.PerformTime,
		"state":        pt.State,
	}
}

func (s *PaymeService) cancelResult(pt *models.PaymeTransaction, tx *models.BillingTransaction) map[string]interface{} {
	return map[string]interface{}{
		"transaction": strconv.FormatUint(uint64(tx.ID), 10),
		"cancel_time": pt.CancelTime,
		"state":       pt.State,
	}
}

func (s *PaymeService) systemError(method string, err error) PaymeResponse {
	fiberlog.Error(fmt.Sprintf("[Payme] %s error: %v", method, err))
	return paymeError(PaymeErrUnknown, "")
}
