package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk plan catalog layout.
//
//	plans:
//	  - id: premium
//	    name: Premium
//	    currency: USD
//	    price_monthly: 9.99
//	    price_yearly: 99
//	    public: true
//	    limits: {reviews: -1}
//	    features: [ad_free]
//	    provider_prices: {monthly: price_123}
type catalogFile struct {
	Plans []catalogPlan `yaml:"plans"`
}

type catalogPlan struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Currency       string            `yaml:"currency"`
	PriceMonthly   float64           `yaml:"price_monthly"`
	PriceYearly    float64           `yaml:"price_yearly"`
	Public         *bool             `yaml:"public"`
	Limits         map[string]int64  `yaml:"limits"`
	Features       []string          `yaml:"features"`
	ProviderPrices map[string]string `yaml:"provider_prices"`
}

// LoadCatalog decodes and validates a YAML plan catalog. Prices are given
// in major units and converted to minor units. Plans are public unless
// stated otherwise.
func LoadCatalog(r io.Reader) ([]Plan, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	seen := make(map[string]bool, len(f.Plans))
	plans := make([]Plan, 0, len(f.Plans))
	for _, cp := range f.Plans {
		if seen[cp.ID] {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan id %q", cp.ID))
		}
		seen[cp.ID] = true

		plan := Plan{
			ID:           cp.ID,
			Name:         cp.Name,
			Description:  cp.Description,
			MonthlyPrice: MoneyFromDecimal(cp.PriceMonthly, cp.Currency),
			YearlyPrice:  MoneyFromDecimal(cp.PriceYearly, cp.Currency),
			Public:       cp.Public == nil || *cp.Public,
		}
		if len(cp.Limits) > 0 {
			plan.Limits = make(map[Resource]int64, len(cp.Limits))
			for k, v := range cp.Limits {
				plan.Limits[Resource(k)] = v
			}
		}
		for _, ft := range cp.Features {
			plan.Features = append(plan.Features, Feature(ft))
		}
		if len(cp.ProviderPrices) > 0 {
			plan.ProviderPrices = make(map[BillingCycle]string, len(cp.ProviderPrices))
			for k, v := range cp.ProviderPrices {
				plan.ProviderPrices[BillingCycle(k)] = v
			}
		}
		if err := plan.Validate(); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func LoadCatalogFile(path string) ([]Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// SyncCatalog upserts plans into the store so intents and subscriptions can
// reference them.
func SyncCatalog(ctx context.Context, store PlanStore, plans []Plan) error {
	if len(plans) == 0 {
		return nil
	}
	if err := store.UpsertPlans(ctx, plans); err != nil {
		return errors.Join(ErrFailedToLoadPlans, err)
	}
	return nil
}
