package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Processor is the port to the external payment processor. One
// implementation is selected per deployment.
type Processor interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionState, error)
	// GetSubscription returns an error matching ErrProcessorNotFound when
	// the processor has no such subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error)
	UpdateCustomer(ctx context.Context, customerID string, update CustomerUpdate) error
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*ProcessorCancellation, error)
}

// CheckoutSessionRequest describes a one-line-item recurring checkout.
type CheckoutSessionRequest struct {
	IntentID           uuid.UUID
	CustomerID         string // processor customer, optional
	CustomerEmail      string
	PriceID            string // processor catalog price, optional
	ProductName        string
	Price              Money
	BillingCycle       BillingCycle
	PaymentMethodTypes []string
	SuccessURL         string
	CancelURL          string
}

type CheckoutSession struct {
	ID              string
	URL             string
	CustomerID      string
	PaymentIntentID string
	ExpiresAt       time.Time
}

// SessionStatus is the processor-side state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionComplete || s == SessionExpired
}

type CheckoutSessionState struct {
	ID              string
	Status          SessionStatus
	Paid            bool
	SubscriptionID  string
	CustomerID      string
	PaymentIntentID string
}

type ProcessorSubscription struct {
	ID                 string
	Status             string
	CustomerID         string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

type CustomerUpdate struct {
	DefaultPaymentMethodID string
	Email                  string
}

type ProcessorCancellation struct {
	Status           string
	CanceledAt       time.Time
	CurrentPeriodEnd time.Time
}

// GatewayError carries the processor's own message so it can be shown to
// the user. It matches ErrPaymentGateway, and ErrProcessorNotFound for 404s.
type GatewayError struct {
	Processor  string
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Processor, e.Operation, msg)
}

func (e *GatewayError) Unwrap() []error {
	errs := []error{ErrPaymentGateway}
	if e.StatusCode == http.StatusNotFound {
		errs = append(errs, ErrProcessorNotFound)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// GatewayMessage extracts the processor's message from err, if any.
func GatewayMessage(err error) string {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return ""
}
