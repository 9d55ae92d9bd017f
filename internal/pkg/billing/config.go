package billing

import (
	"strconv"
	"time"

	"github.com/ulsoftuz/bizora/internal/pkg/env"
)

const (
	defaultPaymeCheckoutURL     = "https://checkout.payme.uz"
	defaultPaymeTestCheckoutURL = "https://test.payme.uz"
	defaultClickCheckoutURL     = "https://my.click.uz/services/pay"
	defaultClickTestCheckoutURL = "https://test.click.uz/services/pay"

	// Payme authenticates with Basic auth; the login is always this literal.
	paymeBasicAuthLogin = "Paycom"
)

// Config carries every external setting the payment core needs. It is built
// once at startup and passed into constructors; services never read the
// environment at call time.
type Config struct {
	PaymeMerchantID  string
	PaymeMerchantKey string
	// PaymeTransactionTimeout is the provider transaction lifetime, measured
	// from its create_time. Payme documents 12 hours as the maximum.
	PaymeTransactionTimeout time.Duration
	PaymeCheckoutURL        string

	ClickServiceID   int64
	ClickMerchantID  string
	ClickSecretKey   string
	ClickCheckoutURL string

	// TransactionTTL is the ledger-side expiry for a freshly created
	// purchase intent.
	TransactionTTL time.Duration
	SuccessURL     string
}

// LoadConfigFromEnv builds an immutable Config from the process environment.
func LoadConfigFromEnv() Config {
	cfg := Config{
		PaymeMerchantID:         env.GetEnv("PAYME_MERCHANT_ID", ""),
		PaymeMerchantKey:        env.GetEnv("PAYME_MERCHANT_KEY", ""),
		PaymeTransactionTimeout: 12 * time.Hour,
		PaymeCheckoutURL:        env.GetEnv("PAYME_CHECKOUT_URL", defaultPaymeCheckoutURL),
		ClickMerchantID:         env.GetEnv("CLICK_MERCHANT_ID", ""),
		ClickSecretKey:          env.GetEnv("CLICK_SECRET_KEY", ""),
		ClickCheckoutURL:        env.GetEnv("CLICK_CHECKOUT_URL", defaultClickCheckoutURL),
		TransactionTTL:          24 * time.Hour,
		SuccessURL:              env.GetEnv("BILLING_SUCCESS_URL", ""),
	}

	if v, err := strconv.ParseInt(env.GetEnv("CLICK_SERVICE_ID", "0"), 10, 64); err == nil {
		cfg.ClickServiceID = v
	}
	if v, err := strconv.Atoi(env.GetEnv("PAYME_TRANSACTION_TIMEOUT_MINUTES", "")); err == nil && v > 0 {
		cfg.PaymeTransactionTimeout = time.Duration(v) * time.Minute
	}
	if v, err := strconv.Atoi(env.GetEnv("BILLING_EXPIRATION_HOURS", "")); err == nil && v > 0 {
		cfg.TransactionTTL = time.Duration(v) * time.Hour
	}
	if env.GetEnv("PAYME_TEST_MODE", "false") == "true" {
		cfg.PaymeCheckoutURL = env.GetEnv("PAYME_TEST_CHECKOUT_URL", defaultPaymeTestCheckoutURL)
	}
	if env.GetEnv("CLICK_TEST_MODE", "false") == "true" {
		cfg.ClickCheckoutURL = env.GetEnv("CLICK_TEST_CHECKOUT_URL", defaultClickTestCheckoutURL)
	}
	return cfg
}
