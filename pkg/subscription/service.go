package subscription

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/logger"
)

// Config holds the immutable settings of a Service.
type Config struct {
	// SuccessURL and CancelURL are the processor callback targets. A
	// literal {intent_id} is replaced with the intent id, otherwise an
	// intent_id query parameter is added.
	SuccessURL string `env:"CHECKOUT_SUCCESS_URL,required"`
	CancelURL  string `env:"CHECKOUT_CANCEL_URL,required"`

	ProcessorTimeout time.Duration `env:"PROCESSOR_TIMEOUT" envDefault:"10s"`
	// IntentTTL ages out pending intents that never got a checkout session.
	IntentTTL                 time.Duration `env:"INTENT_TTL" envDefault:"24h"`
	DefaultPaymentMethodTypes []string      `env:"CHECKOUT_PAYMENT_METHOD_TYPES" envDefault:"card" envSeparator:","`

	WelcomeBonus WelcomeBonus `envPrefix:"WELCOME_BONUS_"`
}

// WelcomeBonus grants GrantPlanID for Days once per user when an intent for
// TriggerPlanID completes.
type WelcomeBonus struct {
	TriggerPlanID string `env:"TRIGGER_PLAN_ID"`
	GrantPlanID   string `env:"GRANT_PLAN_ID"`
	PromotionCode string `env:"PROMOTION_CODE" envDefault:"welcome_bonus"`
	Days          int    `env:"DAYS" envDefault:"30"`
}

func (w WelcomeBonus) Enabled() bool {
	return w.TriggerPlanID != "" && w.GrantPlanID != "" && w.PromotionCode != "" && w.Days > 0
}

// Recorder receives lifecycle outcomes for metrics.
type Recorder interface {
	CheckoutCreated(outcome string)
	IntentVerified(status string)
	SubscriptionCancelled(mode, outcome string)
	PromotionGranted(created bool)
	ProcessorCall(operation string, d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) CheckoutCreated(string)                     {}
func (nopRecorder) IntentVerified(string)                      {}
func (nopRecorder) SubscriptionCancelled(string, string)       {}
func (nopRecorder) PromotionGranted(bool)                      {}
func (nopRecorder) ProcessorCall(string, time.Duration, error) {}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

// Service coordinates checkout, verification, cancellation and status
// presentation. It holds no per-request state; the intent row is the only
// coordination point between concurrent calls.
type Service struct {
	store Store
	proc  Processor
	cfg   Config
	log   *slog.Logger
	rec   Recorder
	now   func() time.Time
}

// NewService panics on nil dependencies so misconfiguration stops startup.
func NewService(store Store, proc Processor, cfg Config, opts ...ServiceOption) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if proc == nil {
		panic("subscription: Processor is required")
	}
	if cfg.ProcessorTimeout <= 0 {
		cfg.ProcessorTimeout = 10 * time.Second
	}
	if len(cfg.DefaultPaymentMethodTypes) == 0 {
		cfg.DefaultPaymentMethodTypes = []string{"card"}
	}

	s := &Service{
		store: store,
		proc:  proc,
		cfg:   cfg,
		log:   logger.Discard(),
		rec:   nopRecorder{},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"), logger.Processor(proc.Name()))
	return s
}

// callProcessor bounds fn by the processor timeout and records its latency.
// A deadline hit is reported as ErrProcessorTimeout: the processor may still
// have acted, so callers re-poll instead of retrying.
func callProcessor[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	defer cancel()

	start := time.Now()
	res, err := fn(ctx)
	s.rec.ProcessorCall(op, time.Since(start), err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = errors.Join(ErrPaymentGateway, ErrProcessorTimeout, err)
		} else if !errors.Is(err, ErrPaymentGateway) {
			err = errors.Join(ErrPaymentGateway, err)
		}
	}
	return res, err
}

func (s *Service) resolveUser(ctx context.Context, externalUserID string) (*User, error) {
	if strings.TrimSpace(externalUserID) == "" {
		return nil, ErrUserNotFound
	}
	u, err := s.store.GetUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	return u, nil
}

// storeErr passes expected not-found sentinels through and marks anything
// else as a persistence failure.
func storeErr(err error, expected ...error) error {
	for _, e := range expected {
		if errors.Is(err, e) {
			return err
		}
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return errors.Join(ErrPersistence, err)
}

func callbackURL(base string, intentID uuid.UUID) string {
	id := intentID.String()
	if strings.Contains(base, "{intent_id}") {
		return strings.ReplaceAll(base, "{intent_id}", id)
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("intent_id", id)
	u.RawQuery = q.Encode()
	return u.String()
}
