package billing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/events"
)

type fakeURLCache struct {
	entries map[string]string
}

func newFakeURLCache() *fakeURLCache {
	return &fakeURLCache{entries: make(map[string]string)}
}

func (c *fakeURLCache) Get(key string) (string, error) { return c.entries[key], nil }

func (c *fakeURLCache) Set(key string, value interface{}, _ time.Duration) error {
	c.entries[key] = fmt.Sprint(value)
	return nil
}

func (c *fakeURLCache) Delete(key string) error {
	delete(c.entries, key)
	return nil
}

func newCheckoutFixture(t *testing.T) (*CheckoutService, *fakeRepository, *models.Business, *models.Plan) {
	t.Helper()
	repo := newFakeRepository()
	biz := repo.addBusiness(models.Business{Name: "Navruz Trading", Slug: "navruz", Status: models.BusinessStatusActive})
	plan := repo.addPlan(models.Plan{Name: "Pro", Slug: "pro", PriceMonthly: 99000, PriceYearly: 990000, IsActive: true})

	cfg := Config{
		PaymeMerchantID:  "merchant-1",
		PaymeCheckoutURL: "https://checkout.payme.uz",
		ClickServiceID:   12345,
		ClickMerchantID:  "67890",
		ClickCheckoutURL: "https://my.click.uz/services/pay",
		TransactionTTL:   24 * time.Hour,
		SuccessURL:       "https://app.bizora.uz/billing/success",
	}
	svc := NewCheckoutService(cfg, repo, nil)
	return svc, repo, biz, plan
}

func TestCreateCheckoutPayme(t *testing.T) {
	svc, repo, biz, plan := newCheckoutFixture(t)

	result, err := svc.CreateCheckout(CheckoutInput{
		BusinessID:   biz.ID,
		PlanID:       plan.ID,
		Provider:     models.ProviderPayme,
		BillingCycle: models.BillingCycleMonthly,
		IPAddress:    "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	tx := result.Transaction
	if tx.OrderID == "" || !strings.HasPrefix(tx.OrderID, "BZ") {
		t.Fatalf("unexpected order id %q", tx.OrderID)
	}
	if tx.Amount != 99000 || tx.Currency != models.CurrencyUZS {
		t.Fatalf("unexpected amount %v %s", tx.Amount, tx.Currency)
	}
	if tx.Status != models.TxStatusCreated {
		t.Fatalf("expected created status, got %s", tx.Status)
	}

	// The Payme link carries the base64 parameter block after the host.
	prefix := "https://checkout.payme.uz/"
	if !strings.HasPrefix(result.PaymentURL, prefix) {
		t.Fatalf("unexpected payment url %q", result.PaymentURL)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(result.PaymentURL, prefix))
	if err != nil {
		t.Fatalf("payment url payload is not base64: %v", err)
	}
	params := string(decoded)
	for _, want := range []string{
		"m=merchant-1",
		"ac.order_id=" + tx.OrderID,
		fmt.Sprintf("a=%d", tx.AmountInTiyin()),
		"c=https://app.bizora.uz/billing/success",
	} {
		if !strings.Contains(params, want) {
			t.Fatalf("payment url params %q missing %q", params, want)
		}
	}

	if _, err := repo.FindTransactionByOrderID(tx.OrderID); err != nil {
		t.Fatalf("transaction not persisted: %v", err)
	}
}

func TestCreateCheckoutClick(t *testing.T) {
	svc, _, biz, plan := newCheckoutFixture(t)

	result, err := svc.CreateCheckout(CheckoutInput{
		BusinessID:   biz.ID,
		PlanID:       plan.ID,
		Provider:     models.ProviderClick,
		BillingCycle: models.BillingCycleYearly,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if result.Transaction.Amount != 990000 {
		t.Fatalf("expected yearly price, got %v", result.Transaction.Amount)
	}

	for _, want := range []string{
		"service_id=12345",
		"merchant_id=67890",
		"amount=990000.00",
		"transaction_param=" + result.Transaction.OrderID,
	} {
		if !strings.Contains(result.PaymentURL, want) {
			t.Fatalf("payment url %q missing %q", result.PaymentURL, want)
		}
	}
}

func TestCreateCheckoutReusesPending(t *testing.T) {
	svc, _, biz, plan := newCheckoutFixture(t)

	input := CheckoutInput{
		BusinessID:   biz.ID,
		PlanID:       plan.ID,
		Provider:     models.ProviderPayme,
		BillingCycle: models.BillingCycleMonthly,
	}
	first, err := svc.CreateCheckout(input)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.CreateCheckout(input)
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}

	if !second.Reused {
		t.Fatalf("expected pending transaction reuse")
	}
	if first.Transaction.OrderID != second.Transaction.OrderID {
		t.Fatalf("expected same order id, got %q and %q", first.Transaction.OrderID, second.Transaction.OrderID)
	}

	// A different cycle is a different purchase intent.
	input.BillingCycle = models.BillingCycleYearly
	third, err := svc.CreateCheckout(input)
	if err != nil {
		t.Fatalf("third checkout failed: %v", err)
	}
	if third.Reused {
		t.Fatalf("different cycle must not reuse the pending transaction")
	}
}

func TestCreateCheckoutValidation(t *testing.T) {
	svc, repo, biz, plan := newCheckoutFixture(t)

	inactive := repo.addPlan(models.Plan{Name: "Old", Slug: "old", PriceMonthly: 1000, IsActive: false})
	free := repo.addPlan(models.Plan{Name: "Free", Slug: "free", PriceMonthly: 0, IsActive: true})
	suspended := repo.addBusiness(models.Business{Name: "Frozen", Slug: "frozen", Status: models.BusinessStatusSuspended})

	tests := []struct {
		name  string
		input CheckoutInput
		want  error
	}{
		{
			name:  "unknown provider",
			input: CheckoutInput{BusinessID: biz.ID, PlanID: plan.ID, Provider: "stripe"},
			want:  ErrUnsupportedProvider,
		},
		{
			name:  "bad cycle",
			input: CheckoutInput{BusinessID: biz.ID, PlanID: plan.ID, Provider: models.ProviderPayme, BillingCycle: "weekly"},
			want:  ErrInvalidBillingCycle,
		},
		{
			name:  "unknown business",
			input: CheckoutInput{BusinessID: 9999, PlanID: plan.ID, Provider: models.ProviderPayme},
			want:  ErrBusinessNotFound,
		},
		{
			name:  "suspended business",
			input: CheckoutInput{BusinessID: suspended.ID, PlanID: plan.ID, Provider: models.ProviderPayme},
			want:  ErrBusinessInactive,
		},
		{
			name:  "unknown plan",
			input: CheckoutInput{BusinessID: biz.ID, PlanID: 9999, Provider: models.ProviderPayme},
			want:  ErrPlanNotFound,
		},
		{
			name:  "inactive plan",
			input: CheckoutInput{BusinessID: biz.ID, PlanID: inactive.ID, Provider: models.ProviderPayme},
			want:  ErrPlanInactive,
		},
		{
			name:  "zero amount",
			input: CheckoutInput{BusinessID: biz.ID, PlanID: free.ID, Provider: models.ProviderPayme},
			want:  ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		_, err := svc.CreateCheckout(tt.input)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestCheckoutURLCacheInvalidatedOnPayment(t *testing.T) {
	svc, _, biz, plan := newCheckoutFixture(t)
	urlCache := newFakeURLCache()
	svc.cache = urlCache

	result, err := svc.CreateCheckout(CheckoutInput{
		BusinessID: biz.ID,
		PlanID:     plan.ID,
		Provider:   models.ProviderPayme,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	key := checkoutURLKey(result.Transaction.OrderID)
	if urlCache.entries[key] != result.PaymentURL {
		t.Fatalf("payment url not cached under %q", key)
	}

	d := events.NewFanoutDispatcher()
	svc.Register(d)
	err = d.Dispatch(context.Background(), events.PaymentSucceeded{
		TransactionID: result.Transaction.ID,
		OrderID:       result.Transaction.OrderID,
		BusinessID:    biz.ID,
		PlanID:        plan.ID,
		Provider:      models.ProviderPayme,
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if _, ok := urlCache.entries[key]; ok {
		t.Fatalf("cached payment url survived the payment")
	}
}

func TestBillingCycleFromMetadata(t *testing.T) {
	if got := billingCycleFromMetadata(`{"billing_cycle":"yearly"}`); got != models.BillingCycleYearly {
		t.Fatalf("expected yearly, got %q", got)
	}
	if got := billingCycleFromMetadata("not json"); got != models.BillingCycleMonthly {
		t.Fatalf("expected monthly fallback, got %q", got)
	}
	if got := billingCycleFromMetadata(""); got != models.BillingCycleMonthly {
		t.Fatalf("expected monthly fallback for empty metadata, got %q", got)
	}
}
