package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/subscription"
)

type planDTO struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Currency     string           `json:"currency"`
	PriceMonthly float64          `json:"price_monthly"`
	PriceYearly  float64          `json:"price_yearly"`
	Limits       map[string]int64 `json:"limits,omitempty"`
	Features     []string         `json:"features,omitempty"`
}

func toPlan(p *subscription.Plan) *planDTO {
	if p == nil {
		return nil
	}
	dto := &planDTO{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Currency:     p.MonthlyPrice.Currency,
		PriceMonthly: p.MonthlyPrice.Decimal(),
		PriceYearly:  p.YearlyPrice.Decimal(),
	}
	if len(p.Limits) > 0 {
		dto.Limits = make(map[string]int64, len(p.Limits))
		for k, v := range p.Limits {
			dto.Limits[string(k)] = v
		}
	}
	for _, f := range p.Features {
		dto.Features = append(dto.Features, string(f))
	}
	return dto
}

type checkoutRequest struct {
	PlanID             string   `json:"plan_id"`
	BillingCycle       string   `json:"billing_cycle"`
	PaymentMethodID    string   `json:"payment_method_id,omitempty"`
	PaymentMethodTypes []string `json:"payment_method_types,omitempty"`
}

func (r checkoutRequest) validate() (subscription.BillingCycle, error) {
	verr := ValidationError{}
	if r.PlanID == "" {
		verr.Add("plan_id", "is required")
	}
	cycle, err := subscription.ParseBillingCycle(r.BillingCycle)
	if err != nil {
		verr.Add("billing_cycle", "must be monthly or yearly")
	}
	if !verr.IsEmpty() {
		return "", verr
	}
	return cycle, nil
}

type checkoutResponse struct {
	IntentID    uuid.UUID `json:"intent_id"`
	RedirectURL string    `json:"redirect_url"`
}

type intentDTO struct {
	ID           uuid.UUID `json:"id"`
	PlanID       string    `json:"plan_id"`
	BillingCycle string    `json:"billing_cycle"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toIntent(in *subscription.Intent) intentDTO {
	return intentDTO{
		ID:           in.ID,
		PlanID:       in.PlanID,
		BillingCycle: string(in.BillingCycle),
		Amount:       in.Amount.Decimal(),
		Currency:     in.Amount.Currency,
		Status:       string(in.Status),
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.UpdatedAt,
	}
}

type subscriptionDTO struct {
	ID                     uuid.UUID  `json:"id"`
	PlanID                 string     `json:"plan_id"`
	PlanName               string     `json:"plan_name,omitempty"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	BillingCycle           string     `json:"billing_cycle"`
	Price                  float64    `json:"price"`
	Currency               string     `json:"currency"`
	PaymentMethod          string     `json:"payment_method"`
	PaymentStatus          string     `json:"payment_status"`
	IsActive               bool       `json:"is_active"`
	IsAutoRenew            bool       `json:"is_auto_renew"`
	StartDate              time.Time  `json:"start_date"`
	EndDate                time.Time  `json:"end_date"`
	CancellationDate       *time.Time `json:"cancellation_date,omitempty"`
	Status                 string     `json:"status"`
	DaysRemaining          int        `json:"days_remaining"`
}

func toSubscription(sub *subscription.Subscription, plan *subscription.Plan, now time.Time) *subscriptionDTO {
	if sub == nil {
		return nil
	}
	dto := &subscriptionDTO{
		ID:                     sub.ID,
		PlanID:                 sub.PlanID,
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		BillingCycle:           string(sub.BillingCycle),
		Price:                  sub.Price.Decimal(),
		Currency:               sub.Price.Currency,
		PaymentMethod:          string(sub.PaymentMethod),
		PaymentStatus:          string(sub.PaymentStatus),
		IsActive:               sub.IsActive,
		IsAutoRenew:            sub.IsAutoRenew,
		StartDate:              sub.StartDate,
		EndDate:                sub.EndDate,
		CancellationDate:       sub.CancellationDate,
		Status:                 string(sub.State(now)),
		DaysRemaining:          sub.DaysRemainingAt(now),
	}
	if plan != nil {
		dto.PlanName = plan.Name
	}
	return dto
}

func toView(v *subscription.SubscriptionView) *subscriptionDTO {
	if v == nil {
		return nil
	}
	dto := &subscriptionDTO{
		ID:                     v.ID,
		PlanID:                 v.PlanID,
		ExternalSubscriptionID: v.ExternalSubscriptionID,
		BillingCycle:           string(v.BillingCycle),
		Price:                  v.Price.Decimal(),
		Currency:               v.Price.Currency,
		PaymentMethod:          string(v.PaymentMethod),
		PaymentStatus:          string(v.PaymentStatus),
		IsActive:               v.IsActive,
		IsAutoRenew:            v.IsAutoRenew,
		StartDate:              v.StartDate,
		EndDate:                v.EndDate,
		CancellationDate:       v.CancellationDate,
		Status:                 string(v.State),
		DaysRemaining:          v.DaysRemaining,
	}
	if v.Plan != nil {
		dto.PlanName = v.Plan.Name
	}
	return dto
}

type verifyResponse struct {
	Completed    bool             `json:"completed"`
	Status       string           `json:"status"`
	Plan         *planDTO         `json:"plan,omitempty"`
	Subscription *subscriptionDTO `json:"subscription,omitempty"`
}

type overviewResponse struct {
	Entitled bool              `json:"entitled"`
	Current  *subscriptionDTO  `json:"current,omitempty"`
	History  []subscriptionDTO `json:"history"`
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

type cancelResponse struct {
	Success          bool             `json:"success"`
	CanceledAt       time.Time        `json:"canceled_at"`
	CurrentPeriodEnd time.Time        `json:"current_period_end"`
	Status           string           `json:"status"`
	Subscription     *subscriptionDTO `json:"subscription,omitempty"`
}

func toCancel(res *subscription.CancelResult, now time.Time) cancelResponse {
	return cancelResponse{
		Success:          res.Success,
		CanceledAt:       res.CanceledAt,
		CurrentPeriodEnd: res.CurrentPeriodEnd,
		Status:           string(res.Status),
		Subscription:     toSubscription(res.Subscription, nil, now),
	}
}
