// Package subscription is the payment lifecycle core: it starts hosted
// checkouts, reconciles their outcome with the payment processor, records
// realized subscriptions and cancels them.
//
// # Flow
//
// CreateCheckoutSession writes a pending Intent before talking to the
// processor, so the intent id is a stable correlation token for the browser
// redirect. The success and cancel URLs carry that id. When the client comes
// back, VerifyIntent polls the processor session; a paid, complete session is
// finalized by a single store transaction that moves the intent
// pending -> completed and inserts exactly one linked Subscription. Intents
// only ever leave pending, never re-enter it.
//
// The welcome bonus is a promotional Subscription granted at most once per
// user. The guard is the store's unique (user, promotion code) row, so
// repeated verifications, extra tabs and restarts cannot grant it twice.
//
// CancelSubscription forwards to the processor and then records the
// cancellation locally. Cancelling at period end keeps is_active set, so the
// user stays entitled until EndDate. CancelLocal covers subscriptions the
// processor does not know about.
//
// # Status
//
// Classify is the pure mapping from (now, is_active, end_date,
// cancellation_date) to one of four EntitlementState values. Expiry is lazy:
// nothing flips is_active when a period ends.
//
// # Processors
//
// Processor is the outbound port. StripeProcessor and PaddleProcessor
// implement it; exactly one is selected per deployment. RateLimited bounds
// the outbound rate. Every call runs under Config.ProcessorTimeout and a
// timeout surfaces as ErrProcessorTimeout, because the processor may still
// have acted.
//
// # Errors
//
// Sentinels are joined with their cause using errors.Join, so callers branch
// with errors.Is while the processor's message remains available through
// GatewayMessage.
package subscription
