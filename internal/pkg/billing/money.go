package billing

import "math"

// ToTiyin converts a so'm amount (major units) to tiyin (minor units,
// 1 so'm = 100 tiyin). Every amount comparison in this package goes through
// this one function so ledger and provider values can never drift apart.
// Amounts are two-decimal prices, so the rounding is always exact.
func ToTiyin(soum float64) int64 {
	return int64(math.Round(soum * 100))
}

// HasSubTiyinPrecision reports whether an amount cannot be represented in
// whole tiyin. Checkout rejects such amounts at creation time.
func HasSubTiyinPrecision(soum float64) bool {
	scaled := soum * 100
	return math.Abs(scaled-math.Round(scaled)) > 1e-6
}

// SameAmount compares a ledger amount against a provider-reported so'm
// amount by converting both sides to tiyin.
func SameAmount(ledgerSoum, providerSoum float64) bool {
	return ToTiyin(ledgerSoum) == ToTiyin(providerSoum)
}
