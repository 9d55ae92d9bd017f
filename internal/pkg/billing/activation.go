package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/events"
)

// ActivationHandler turns a successful payment into subscription time: an
// active subscription for the same plan is extended, otherwise a fresh one
// starts now. It writes through the repository carried on the dispatch
// context, so the subscription commits and rolls back together with the
// payment; a payment is never marked paid without its subscription.
type ActivationHandler struct {
	repo Repository
	now  func() time.Time
}

// NewActivationHandler builds the payment-success consumer.
func NewActivationHandler(repo Repository) *ActivationHandler {
	return &ActivationHandler{repo: repo, now: time.Now}
}

// Register subscribes the handler on the dispatcher.
func (h *ActivationHandler) Register(d *events.FanoutDispatcher) {
	d.Subscribe(events.PaymentSucceeded{}.Name(), h.Handle)
}

// Handle processes one payment.succeeded event.
func (h *ActivationHandler) Handle(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.PaymentSucceeded)
	if !ok {
		return fmt.Errorf("activation: unexpected event %s", e.Name())
	}

	repo := RepositoryFromContext(ctx)
	if repo == nil {
		repo = h.repo
	}

	period := models.PeriodFor(evt.BillingCycle)
	now := h.now()

	sub, err := repo.FindActiveSubscription(evt.BusinessID, evt.PlanID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		sub = &models.Subscription{
			BusinessID:   evt.BusinessID,
			PlanID:       evt.PlanID,
			Status:       models.SubscriptionStatusActive,
			BillingCycle: evt.BillingCycle,
			StartsAt:     now,
			EndsAt:       now.Add(period),
		}
	} else {
		// Paying again before expiry stacks the new period on the current
		// end date instead of restarting from today.
		base := sub.EndsAt
		if base.Before(now) {
			base = now
		}
		sub.EndsAt = base.Add(period)
		sub.BillingCycle = evt.BillingCycle
	}
	if err := repo.SaveSubscription(sub); err != nil {
		return err
	}

	tx, err := repo.FindTransactionByID(evt.TransactionID)
	if err != nil {
		return err
	}
	tx.SubscriptionID = &sub.ID
	if err := repo.SaveTransaction(tx); err != nil {
		return err
	}

	fiberlog.Info(fmt.Sprintf("[Activation] subscription %d active until %s business_id=%d plan_id=%d provider=%s", sub.ID, sub.EndsAt.Format(time.RFC3339), evt.BusinessID, evt.PlanID, evt.Provider))
	return nil
}
