// Package sessioncache caches processor checkout-session lookups in Redis.
//
// Clients poll the verification endpoint after returning from checkout, and
// every poll of a pending intent reads the session from the processor. The
// decorator answers repeated reads from Redis: briefly while the session is
// open, longer once it is complete or expired. Redis failures fall through
// to the processor.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subledger/paycore/pkg/logger"
	"github.com/subledger/paycore/pkg/subscription"
)

type Config struct {
	OpenTTL     time.Duration `env:"SESSION_CACHE_OPEN_TTL" envDefault:"3s"`
	TerminalTTL time.Duration `env:"SESSION_CACHE_TERMINAL_TTL" envDefault:"1h"`
	KeyPrefix   string        `env:"SESSION_CACHE_KEY_PREFIX" envDefault:"paycore:checkout_session:"`
}

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// Processor wraps a subscription.Processor. Every method except
// GetCheckoutSession passes straight through.
type Processor struct {
	subscription.Processor
	client redis.Cmdable
	cfg    Config
	log    *slog.Logger
}

// New caches next's checkout session lookups in client.
func New(next subscription.Processor, client redis.Cmdable, cfg Config, opts ...Option) *Processor {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "paycore:checkout_session:"
	}
	p := &Processor{
		Processor: next,
		client:    client,
		cfg:       cfg,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("sessioncache"))
	return p
}

func (p *Processor) key(sessionID string) string {
	return p.cfg.KeyPrefix + sessionID
}

func (p *Processor) GetCheckoutSession(ctx context.Context, sessionID string) (*subscription.CheckoutSessionState, error) {
	if state, ok := p.lookup(ctx, sessionID); ok {
		return state, nil
	}

	state, err := p.Processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p.store(ctx, sessionID, state)
	return state, nil
}

func (p *Processor) lookup(ctx context.Context, sessionID string) (*subscription.CheckoutSessionState, bool) {
	raw, err := p.client.Get(ctx, p.key(sessionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.log.WarnContext(ctx, "session cache read failed", logger.SessionID(sessionID), logger.Error(err))
		}
		return nil, false
	}
	var state subscription.CheckoutSessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		p.log.WarnContext(ctx, "discarding corrupt session cache entry", logger.SessionID(sessionID), logger.Error(err))
		_ = p.client.Del(ctx, p.key(sessionID)).Err()
		return nil, false
	}
	return &state, true
}

func (p *Processor) store(ctx context.Context, sessionID string, state *subscription.CheckoutSessionState) {
	ttl := p.cfg.OpenTTL
	if state.Status.IsTerminal() {
		ttl = p.cfg.TerminalTTL
	}
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := p.client.Set(ctx, p.key(sessionID), raw, ttl).Err(); err != nil {
		p.log.WarnContext(ctx, "session cache write failed", logger.SessionID(sessionID), logger.Error(err))
	}
}

// Invalidate drops the cached state of sessionID.
func (p *Processor) Invalidate(ctx context.Context, sessionID string) error {
	return p.client.Del(ctx, p.key(sessionID)).Err()
}
