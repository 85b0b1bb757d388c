package subscription

import (
	"errors"
	"fmt"
	"slices"
)

// Plan is immutable reference data describing what a subscription buys.
type Plan struct {
	ID           string
	Name         string
	Description  string
	MonthlyPrice Money
	YearlyPrice  Money
	Limits       map[Resource]int64 // Unlimited (-1) means no quota
	Features     []Feature
	// ProviderPrices maps a cycle to a catalog price id at the processor.
	// When a cycle has no entry, checkout sends inline price data instead.
	ProviderPrices map[BillingCycle]string
	Public         bool
}

// PriceFor returns the price charged for one period of cycle.
func (p Plan) PriceFor(cycle BillingCycle) (Money, error) {
	switch cycle {
	case BillingMonthly:
		return p.MonthlyPrice, nil
	case BillingYearly:
		return p.YearlyPrice, nil
	default:
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidBillingCycle, cycle)
	}
}

// ProviderPriceID returns the processor catalog price for cycle, if any.
func (p Plan) ProviderPriceID(cycle BillingCycle) string {
	return p.ProviderPrices[cycle]
}

func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// Limit returns the quota for res and whether the plan defines one.
func (p Plan) Limit(res Resource) (int64, bool) {
	v, ok := p.Limits[res]
	return v, ok
}

// Validate checks the invariants a plan must satisfy before it is offered.
func (p Plan) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("plan id is empty"))
	}
	if p.Name == "" {
		errs = append(errs, fmt.Errorf("plan %q: name is empty", p.ID))
	}
	if p.MonthlyPrice.Amount < 0 || p.YearlyPrice.Amount < 0 {
		errs = append(errs, fmt.Errorf("plan %q: negative price", p.ID))
	}
	if !p.MonthlyPrice.IsZero() && !p.YearlyPrice.IsZero() && p.MonthlyPrice.Currency != p.YearlyPrice.Currency {
		errs = append(errs, fmt.Errorf("plan %q: monthly and yearly currencies differ", p.ID))
	}
	for res, limit := range p.Limits {
		if limit < Unlimited {
			errs = append(errs, fmt.Errorf("plan %q: invalid limit %d for %s", p.ID, limit, res))
		}
	}
	for cycle := range p.ProviderPrices {
		if !cycle.Valid() {
			errs = append(errs, fmt.Errorf("plan %q: provider price for unknown cycle %q", p.ID, cycle))
		}
	}
	if len(errs) > 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.Join(errs...))
	}
	return nil
}
