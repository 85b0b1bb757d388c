package subscription

import (
	"time"

	"github.com/google/uuid"
)

// IntentStatus is the lifecycle state of a checkout attempt.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
	IntentCancelled IntentStatus = "cancelled"
)

func (s IntentStatus) Valid() bool {
	switch s {
	case IntentPending, IntentCompleted, IntentFailed, IntentCancelled:
		return true
	}
	return false
}

func (s IntentStatus) IsTerminal() bool {
	return s == IntentCompleted || s == IntentFailed || s == IntentCancelled
}

// CanTransitionTo reports whether s may move to next. Only pending moves,
// and only into a terminal state.
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	return s == IntentPending && next.IsTerminal()
}

// Intent is the durable record of one checkout attempt. Its ID is the
// correlation token carried through the processor redirect.
type Intent struct {
	ID                      uuid.UUID
	UserID                  uuid.UUID
	PlanID                  string
	BillingCycle            BillingCycle
	PaymentMethodID         string
	PaymentMethodTypes      []string
	ExternalSessionID       string
	ExternalPaymentIntentID string
	ExternalCustomerID      string
	Amount                  Money
	Status                  IntentStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (i *Intent) HasSession() bool { return i.ExternalSessionID != "" }

// Age returns how long the intent has existed at now.
func (i *Intent) Age(now time.Time) time.Duration { return now.Sub(i.CreatedAt) }

// SessionLink carries the processor identifiers written onto an intent
// once its checkout session exists.
type SessionLink struct {
	SessionID       string
	CustomerID      string
	PaymentIntentID string
}
