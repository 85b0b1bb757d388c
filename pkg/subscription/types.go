package subscription

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Resource is a countable quota dimension of a plan.
type Resource string

const (
	ResourceReviews   Resource = "reviews"
	ResourceTickets   Resource = "tickets"
	ResourceWatchlist Resource = "watchlist"
)

// Unlimited marks a resource without a quota.
const Unlimited int64 = -1

// Feature is a plan capability flag.
type Feature string

// Money is an amount in the smallest currency unit.
// 9.99 USD is Money{Amount: 999, Currency: "USD"}.
type Money struct {
	Amount   int64
	Currency string
}

// Currencies whose minor unit equals the major unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MoneyFromDecimal converts a major-unit price such as 9.99 into minor units,
// rounding half away from zero.
func MoneyFromDecimal(value float64, currency string) Money {
	currency = strings.ToUpper(currency)
	factor := 100.0
	if zeroDecimalCurrencies[currency] {
		factor = 1
	}
	return Money{Amount: int64(math.Round(value * factor)), Currency: currency}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() float64 {
	if zeroDecimalCurrencies[strings.ToUpper(m.Currency)] {
		return float64(m.Amount)
	}
	return float64(m.Amount) / 100
}

func (m Money) String() string {
	if zeroDecimalCurrencies[strings.ToUpper(m.Currency)] {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	return fmt.Sprintf("%.2f %s", m.Decimal(), m.Currency)
}

// IsZero reports a zero amount in any currency.
func (m Money) IsZero() bool { return m.Amount == 0 }

// BillingCycle is the renewal interval chosen at checkout.
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

// ParseBillingCycle accepts "monthly" or "yearly", ignoring case and
// surrounding space. Anything else wraps ErrInvalidBillingCycle.
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(strings.ToLower(strings.TrimSpace(s))); c {
	case BillingMonthly, BillingYearly:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBillingCycle, s)
	}
}

// Valid reports whether c is a known cycle.
func (c BillingCycle) Valid() bool {
	return c == BillingMonthly || c == BillingYearly
}

// Days is the fallback period length used when the processor does not
// report a period end.
func (c BillingCycle) Days() int {
	if c == BillingYearly {
		return 365
	}
	return 30
}

// PeriodEnd returns start plus one fallback period.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, c.Days())
}

// StripeInterval maps the cycle onto the processor's recurring interval.
func (c BillingCycle) StripeInterval() string {
	if c == BillingYearly {
		return "year"
	}
	return "month"
}

// PaymentMethod records how a subscription is paid for.
type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodOffered PaymentMethod = "offered"
)

// PaymentStatus is the settlement state of a subscription's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)
