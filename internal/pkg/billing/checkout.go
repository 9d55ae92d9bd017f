package billing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
	"github.com/ulsoftuz/bizora/internal/pkg/cache"
	"github.com/ulsoftuz/bizora/internal/pkg/events"
)

var (
	ErrBusinessNotFound    = errors.New("business not found")
	ErrBusinessInactive    = errors.New("business is not active")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrPlanInactive        = errors.New("plan is not active")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrInvalidBillingCycle = errors.New("invalid billing cycle")
	ErrInvalidAmount       = errors.New("invalid plan amount")
)

// transactionMetadata is the JSON blob stored alongside a ledger
// transaction so webhook handlers and reports do not need extra joins.
type transactionMetadata struct {
	PlanName     string `json:"plan_name"`
	PlanSlug     string `json:"plan_slug"`
	BusinessName string `json:"business_name"`
	BillingCycle string `json:"billing_cycle"`
}

func billingCycleFromMetadata(raw string) string {
	var meta transactionMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta.BillingCycle == "" {
		return models.BillingCycleMonthly
	}
	return meta.BillingCycle
}

// URLCache is the slice of the cache layer checkout needs. A nil cache
// disables the fast path, which is what tests use.
type URLCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
	Delete(key string) error
}

type redisURLCache struct{}

func (redisURLCache) Get(key string) (string, error) { return cache.Get(key) }
func (redisURLCache) Set(key string, value interface{}, expiration time.Duration) error {
	return cache.Set(key, value, expiration)
}
func (redisURLCache) Delete(key string) error { return cache.Delete(key) }

// NewRedisURLCache returns a URLCache backed by the shared Redis client.
func NewRedisURLCache() URLCache { return redisURLCache{} }

// CheckoutInput describes one purchase intent from the merchant API.
type CheckoutInput struct {
	BusinessID   uint
	PlanID       uint
	Provider     string
	BillingCycle string
	ReturnURL    string
	IPAddress    string
	UserAgent    string
}

// CheckoutResult is the created (or reused) transaction plus the hosted
// payment page URL the business redirects its customer to.
type CheckoutResult struct {
	Transaction *models.BillingTransaction
	PaymentURL  string
	Reused      bool
}

// CheckoutService creates ledger transactions and builds provider payment
// URLs. Repeated checkouts for the same business, plan, provider and cycle
// reuse the pending transaction instead of stacking duplicates.
type CheckoutService struct {
	cfg   Config
	repo  Repository
	cache URLCache
	now   func() time.Time
}

// NewCheckoutService wires the checkout flow. cache may be nil.
func NewCheckoutService(cfg Config, repo Repository, urlCache URLCache) *CheckoutService {
	return &CheckoutService{cfg: cfg, repo: repo, cache: urlCache, now: time.Now}
}

// CreateCheckout validates the purchase intent, writes (or reuses) the
// ledger transaction and returns the provider payment URL.
func (s *CheckoutService) CreateCheckout(input CheckoutInput) (*CheckoutResult, error) {
	if input.Provider != models.ProviderPayme && input.Provider != models.ProviderClick {
		return nil, ErrUnsupportedProvider
	}
	if input.BillingCycle == "" {
		input.BillingCycle = models.BillingCycleMonthly
	}
	if input.BillingCycle != models.BillingCycleMonthly && input.BillingCycle != models.BillingCycleYearly {
		return nil, ErrInvalidBillingCycle
	}

	business, err := s.repo.FindBusinessByID(input.BusinessID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}
	if !business.IsActive() {
		return nil, ErrBusinessInactive
	}

	plan, err := s.repo.FindPlanByID(input.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}

	amount := plan.PriceFor(input.BillingCycle)
	if amount <= 0 || HasSubTiyinPrecision(amount) {
		return nil, ErrInvalidAmount
	}

	// Reuse a still-pending transaction for the same intent so an impatient
	// double click does not create two payable orders.
	if existing, err := s.repo.FindPendingTransaction(input.BusinessID, input.PlanID, input.Provider, input.BillingCycle); err == nil {
		if SameAmount(existing.Amount, amount) {
			paymentURL, err := s.paymentURL(existing, input.ReturnURL)
			if err != nil {
				return nil, err
			}
			return &CheckoutResult{Transaction: existing, PaymentURL: paymentURL, Reused: true}, nil
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	meta, err := json.Marshal(transactionMetadata{
		PlanName:     plan.Name,
		PlanSlug:     plan.Slug,
		BusinessName: business.Name,
		BillingCycle: input.BillingCycle,
	})
	if err != nil {
		return nil, err
	}

	tx := &models.BillingTransaction{
		BusinessID:   input.BusinessID,
		PlanID:       input.PlanID,
		Provider:     input.Provider,
		Amount:       amount,
		Currency:     models.CurrencyUZS,
		Status:       models.TxStatusCreated,
		ExpiresAt:    s.now().Add(s.cfg.TransactionTTL),
		MetadataJSON: string(meta),
		IPAddress:    input.IPAddress,
		UserAgent:    input.UserAgent,
	}
	if err := s.repo.CreateTransaction(tx); err != nil {
		return nil, err
	}

	paymentURL, err := s.paymentURL(tx, input.ReturnURL)
	if err != nil {
		return nil, err
	}

	fiberlog.Info(fmt.Sprintf("[Checkout] created order_id=%s business_id=%d plan=%s provider=%s amount=%.2f", tx.OrderID, tx.BusinessID, plan.Slug, tx.Provider, tx.Amount))
	return &CheckoutResult{Transaction: tx, PaymentURL: paymentURL}, nil
}

// FindByOrderID returns one ledger transaction for status polling.
func (s *CheckoutService) FindByOrderID(orderID string) (*models.BillingTransaction, error) {
	return s.repo.FindTransactionByOrderID(orderID)
}

// Register subscribes the URL-cache invalidation on the dispatcher: a paid
// order must stop serving its payment link.
func (s *CheckoutService) Register(d *events.FanoutDispatcher) {
	d.Subscribe(events.PaymentSucceeded{}.Name(), s.onPaymentSucceeded)
}

// onPaymentSucceeded drops the cached payment URL. Cache failures only log;
// they must not abort the payment transaction.
func (s *CheckoutService) onPaymentSucceeded(_ context.Context, e events.Event) error {
	evt, ok := e.(events.PaymentSucceeded)
	if !ok || s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(checkoutURLKey(evt.OrderID)); err != nil {
		fiberlog.Warn(fmt.Sprintf("[Checkout] url cache delete failed order_id=%s: %v", evt.OrderID, err))
	}
	return nil
}

func checkoutURLKey(orderID string) string {
	return "checkout:url:" + orderID
}

func (s *CheckoutService) paymentURL(tx *models.BillingTransaction, returnURL string) (string, error) {
	if returnURL == "" {
		returnURL = s.cfg.SuccessURL
	}

	cacheKey := checkoutURLKey(tx.OrderID)
	if s.cache != nil {
		if cached, err := s.cache.Get(cacheKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	var paymentURL string
	switch tx.Provider {
	case models.ProviderPayme:
		paymentURL = s.paymeURL(tx, returnURL)
	case models.ProviderClick:
		paymentURL = s.clickURL(tx, returnURL)
	default:
		return "", ErrUnsupportedProvider
	}

	if s.cache != nil {
		ttl := time.Until(tx.ExpiresAt)
		if ttl > 0 {
			if err := s.cache.Set(cacheKey, paymentURL, ttl); err != nil {
				fiberlog.Warn(fmt.Sprintf("[Checkout] url cache set failed order_id=%s: %v", tx.OrderID, err))
			}
		}
	}
	return paymentURL, nil
}

// paymeURL builds the hosted checkout link: base64 of the semicolon-joined
// parameter string appended to the checkout host.
func (s *CheckoutService) paymeURL(tx *models.BillingTransaction, returnURL string) string {
	params := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d;l=uz", s.cfg.PaymeMerchantID, tx.OrderID, tx.AmountInTiyin())
	if returnURL != "" {
		params += ";c=" + returnURL
	}
	return s.cfg.PaymeCheckoutURL + "/" + base64.StdEncoding.EncodeToString([]byte(params))
}

// clickURL builds the hosted payment link with query parameters. Click
// takes the amount in so'm major units and passes transaction_param back
// as merchant_trans_id.
func (s *CheckoutService) clickURL(tx *models.BillingTransaction, returnURL string) string {
	q := url.Values{}
	q.Set("service_id", fmt.Sprintf("%d", s.cfg.ClickServiceID))
	q.Set("merchant_id", s.cfg.ClickMerchantID)
	q.Set("amount", fmt.Sprintf("%.2f", tx.Amount))
	q.Set("transaction_param", tx.OrderID)
	if returnURL != "" {
		q.Set("return_url", returnURL)
	}
	return s.cfg.ClickCheckoutURL + "?" + q.Encode()
}
