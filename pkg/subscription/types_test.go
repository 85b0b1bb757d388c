package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subledger/paycore/pkg/subscription"
)

func TestMoneyFromDecimal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value    float64
		currency string
		want     subscription.Money
		str      string
	}{
		{9.99, "usd", subscription.Money{Amount: 999, Currency: "USD"}, "9.99 USD"},
		{99.99, "EUR", subscription.Money{Amount: 9999, Currency: "EUR"}, "99.99 EUR"},
		{0.1 + 0.2, "USD", subscription.Money{Amount: 30, Currency: "USD"}, "0.30 USD"},
		{1200, "JPY", subscription.Money{Amount: 1200, Currency: "JPY"}, "1200 JPY"},
	}
	for _, tt := range tests {
		got := subscription.MoneyFromDecimal(tt.value, tt.currency)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.str, got.String())
	}
}

func TestParseBillingCycle(t *testing.T) {
	t.Parallel()

	c, err := subscription.ParseBillingCycle(" Yearly ")
	require.NoError(t, err)
	assert.Equal(t, subscription.BillingYearly, c)
	assert.Equal(t, "year", c.StripeInterval())
	assert.Equal(t, 365, c.Days())

	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start.AddDate(0, 0, 30), subscription.BillingMonthly.PeriodEnd(start))

	_, err = subscription.ParseBillingCycle("weekly")
	assert.ErrorIs(t, err, subscription.ErrInvalidBillingCycle)
}

func TestPlan(t *testing.T) {
	t.Parallel()

	p := testPlans()[0]
	require.NoError(t, p.Validate())

	price, err := p.PriceFor(subscription.BillingYearly)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), price.Amount)

	_, err = p.PriceFor("weekly")
	assert.ErrorIs(t, err, subscription.ErrInvalidBillingCycle)

	assert.True(t, p.HasFeature("ad_free"))
	limit, ok := p.Limit(subscription.ResourceReviews)
	assert.True(t, ok)
	assert.Equal(t, subscription.Unlimited, limit)
	_, ok = p.Limit(subscription.ResourceTickets)
	assert.False(t, ok)

	bad := subscription.Plan{
		ID:             "bad",
		MonthlyPrice:   subscription.Money{Amount: -1, Currency: "USD"},
		Limits:         map[subscription.Resource]int64{subscription.ResourceTickets: -5},
		ProviderPrices: map[subscription.BillingCycle]string{"weekly": "price_1"},
	}
	assert.ErrorIs(t, bad.Validate(), subscription.ErrInvalidPlanConfiguration)
}
