package subscription

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPlanNotFound         = errors.New("subscription plan not found")
	ErrIntentNotFound       = errors.New("subscription intent not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotAuthorized        = errors.New("not authorized to act on this subscription")

	ErrPaymentGateway       = errors.New("payment gateway error")
	ErrGatewayInconsistency = errors.New("payment gateway does not recognize referenced subscription")
	ErrProcessorTimeout     = errors.New("payment processor call timed out")
	ErrProcessorNotFound    = errors.New("payment processor object not found")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from processor")
	ErrProcessorManaged     = errors.New("subscription is managed by the payment processor")

	ErrPersistence             = errors.New("persistence error")
	ErrInvalidIntentTransition = errors.New("invalid subscription intent status transition")
	ErrIntentAlreadyFinalized  = errors.New("subscription intent already finalized")

	ErrInvalidBillingCycle      = errors.New("invalid billing cycle")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")

	ErrMissingAPIKey              = errors.New("payment processor API key is required")
	ErrInvalidProviderEnvironment = errors.New("invalid payment processor environment")
)
