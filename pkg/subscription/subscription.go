package subscription

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// User is the internal projection of an identity-provider account.
type User struct {
	ID                  uuid.UUID
	ExternalID          string
	Email               string
	ProcessorCustomerID string
}

// Subscription is one purchased or granted entitlement period.
type Subscription struct {
	ID     uuid.UUID
	UserID uuid.UUID
	PlanID string
	// IntentID links a paid subscription to the intent that produced it.
	// Nil for promotional grants.
	IntentID *uuid.UUID
	// ExternalSubscriptionID is empty when the processor does not manage
	// this subscription.
	ExternalSubscriptionID string
	BillingCycle           BillingCycle
	Price                  Money
	PaymentMethod          PaymentMethod
	PaymentStatus          PaymentStatus
	IsActive               bool
	IsAutoRenew            bool
	StartDate              time.Time
	EndDate                time.Time
	CancellationDate       *time.Time
	PromotionCode          string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// State classifies the subscription at now.
func (s *Subscription) State(now time.Time) EntitlementState {
	return Classify(now, s.IsActive, s.EndDate, s.CancellationDate)
}

// IsEntitled reports whether paid features are available at now.
func (s *Subscription) IsEntitled(now time.Time) bool {
	return s.State(now).Entitled()
}

func (s *Subscription) IsCancelled() bool { return s.CancellationDate != nil }

// ProcessorManaged reports whether cancellation must go through the processor.
func (s *Subscription) ProcessorManaged() bool { return s.ExternalSubscriptionID != "" }

func (s *Subscription) IsPromotional() bool { return s.PaymentMethod == PaymentMethodOffered }

// DaysRemainingAt returns whole days of entitlement left at now, rounding
// partial days up. Zero once entitlement has lapsed.
func (s *Subscription) DaysRemainingAt(now time.Time) int {
	if !s.IsEntitled(now) {
		return 0
	}
	remaining := s.EndDate.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// PromotionalGrant records that a promotion was granted to a user. The pair
// (UserID, PromotionCode) is unique.
type PromotionalGrant struct {
	UserID         uuid.UUID
	PromotionCode  string
	SubscriptionID uuid.UUID
	GrantedAt      time.Time
}
