package subscription_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subledger/paycore/pkg/subscription"
	"github.com/subledger/paycore/pkg/subscription/memstore"
)

const catalogYAML = `
plans:
  - id: premium
    name: Premium
    description: Everything unlocked
    currency: usd
    price_monthly: 9.99
    price_yearly: 99.99
    limits:
      reviews: -1
      tickets: 20
    features: [ad_free, early_access]
    provider_prices:
      monthly: price_m
  - id: bonus
    name: Welcome bonus
    currency: usd
    public: false
`

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		plans, err := subscription.LoadCatalog(strings.NewReader(catalogYAML))
		require.NoError(t, err)
		require.Len(t, plans, 2)

		premium := plans[0]
		assert.Equal(t, "premium", premium.ID)
		assert.Equal(t, subscription.Money{Amount: 999, Currency: "USD"}, premium.MonthlyPrice)
		assert.Equal(t, subscription.Money{Amount: 9999, Currency: "USD"}, premium.YearlyPrice)
		assert.True(t, premium.Public)
		assert.Equal(t, int64(20), premium.Limits[subscription.ResourceTickets])
		assert.True(t, premium.HasFeature("early_access"))
		assert.Equal(t, "price_m", premium.ProviderPriceID(subscription.BillingMonthly))
		assert.Empty(t, premium.ProviderPriceID(subscription.BillingYearly))

		assert.False(t, plans[1].Public)
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		plans, err := subscription.LoadCatalog(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, plans)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.LoadCatalog(strings.NewReader("plans:\n  - id: x\n    name: X\n    colour: red\n"))
		assert.ErrorIs(t, err, subscription.ErrFailedToLoadPlans)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.LoadCatalog(strings.NewReader("plans:\n  - {id: x, name: X}\n  - {id: x, name: Y}\n"))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanConfiguration)
	})

	t.Run("invalid plan", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.LoadCatalog(strings.NewReader("plans:\n  - {id: x, name: '', currency: USD}\n"))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlanConfiguration)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := subscription.LoadCatalogFile(t.TempDir() + "/nope.yaml")
		assert.ErrorIs(t, err, subscription.ErrFailedToLoadPlans)
	})
}

func TestSyncCatalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.New()

	plans, err := subscription.LoadCatalog(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.NoError(t, subscription.SyncCatalog(ctx, store, plans))

	got, err := store.GetPlan(ctx, "premium")
	require.NoError(t, err)
	assert.Equal(t, "Premium", got.Name)

	// Re-syncing replaces plans in place.
	plans[0].Name = "Premium+"
	require.NoError(t, subscription.SyncCatalog(ctx, store, plans))
	got, err = store.GetPlan(ctx, "premium")
	require.NoError(t, err)
	assert.Equal(t, "Premium+", got.Name)
}
