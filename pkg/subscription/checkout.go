package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/logger"
)

// CheckoutRequest starts a purchase of PlanID for the identified user.
type CheckoutRequest struct {
	ExternalUserID     string
	PlanID             string
	BillingCycle       BillingCycle
	PaymentMethodID    string   // optional saved payment method
	PaymentMethodTypes []string // defaults to Config.DefaultPaymentMethodTypes
}

// CheckoutResult carries the intent id the client polls with and the
// processor page to redirect the buyer to.
type CheckoutResult struct {
	IntentID    uuid.UUID
	RedirectURL string
	SessionID   string
}

// CreateCheckoutSession records a pending intent, then asks the processor
// for a hosted checkout session and links it to the intent. The intent is
// written first so a correlation token exists even if the processor call
// fails; such intents stay pending and the caller starts a new one.
func (s *Service) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if !req.BillingCycle.Valid() {
		return nil, ErrInvalidBillingCycle
	}

	user, err := s.resolveUser(ctx, req.ExternalUserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, storeErr(err, ErrPlanNotFound)
	}
	price, err := plan.PriceFor(req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if price.Amount <= 0 {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("plan has no price for the selected cycle"))
	}

	types := req.PaymentMethodTypes
	if len(types) == 0 {
		types = s.cfg.DefaultPaymentMethodTypes
	}

	now := s.now()
	intent := &Intent{
		ID:                 uuid.New(),
		UserID:             user.ID,
		PlanID:             plan.ID,
		BillingCycle:       req.BillingCycle,
		PaymentMethodID:    req.PaymentMethodID,
		PaymentMethodTypes: types,
		ExternalCustomerID: user.ProcessorCustomerID,
		Amount:             price,
		Status:             IntentPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		s.rec.CheckoutCreated("persistence_error")
		return nil, storeErr(err)
	}

	log := s.log.With(logger.IntentID(intent.ID), logger.UserID(user.ID), logger.PlanID(plan.ID))

	if req.PaymentMethodID != "" && user.ProcessorCustomerID != "" {
		if err := s.setDefaultPaymentMethod(ctx, user.ProcessorCustomerID, req.PaymentMethodID); err != nil {
			log.WarnContext(ctx, "failed to set default payment method", logger.Error(err))
			s.rec.CheckoutCreated("gateway_error")
			return nil, err
		}
	}

	session, err := callProcessor(ctx, s, "create_checkout_session", func(ctx context.Context) (*CheckoutSession, error) {
		return s.proc.CreateCheckoutSession(ctx, CheckoutSessionRequest{
			IntentID:           intent.ID,
			CustomerID:         user.ProcessorCustomerID,
			CustomerEmail:      user.Email,
			PriceID:            plan.ProviderPriceID(req.BillingCycle),
			ProductName:        plan.Name,
			Price:              price,
			BillingCycle:       req.BillingCycle,
			PaymentMethodTypes: types,
			SuccessURL:         callbackURL(s.cfg.SuccessURL, intent.ID),
			CancelURL:          callbackURL(s.cfg.CancelURL, intent.ID),
		})
	})
	if err != nil {
		log.WarnContext(ctx, "checkout session creation failed, intent left pending", logger.Error(err))
		s.rec.CheckoutCreated("gateway_error")
		return nil, err
	}
	if session.URL == "" {
		s.rec.CheckoutCreated("gateway_error")
		return nil, errors.Join(ErrPaymentGateway, ErrNoCheckoutURL)
	}

	link := SessionLink{
		SessionID:       session.ID,
		CustomerID:      session.CustomerID,
		PaymentIntentID: session.PaymentIntentID,
	}
	if link.CustomerID == "" {
		link.CustomerID = user.ProcessorCustomerID
	}
	if err := s.store.LinkSession(ctx, intent.ID, link); err != nil {
		log.ErrorContext(ctx, "failed to link checkout session to intent",
			logger.SessionID(session.ID),
			logger.Error(err),
		)
		s.rec.CheckoutCreated("persistence_error")
		return nil, storeErr(err, ErrIntentNotFound)
	}

	log.InfoContext(ctx, "checkout session created", logger.SessionID(session.ID))
	s.rec.CheckoutCreated("created")

	return &CheckoutResult{
		IntentID:    intent.ID,
		RedirectURL: session.URL,
		SessionID:   session.ID,
	}, nil
}

func (s *Service) setDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if _, err := callProcessor(ctx, s, "attach_payment_method", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.proc.AttachPaymentMethod(ctx, paymentMethodID, customerID)
	}); err != nil {
		return err
	}
	_, err := callProcessor(ctx, s, "update_customer", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.proc.UpdateCustomer(ctx, customerID, CustomerUpdate{DefaultPaymentMethodID: paymentMethodID})
	})
	return err
}
