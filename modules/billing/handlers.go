package billing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/subledger/paycore/pkg/subscription"
)

const (
	defaultIntentLimit = 20
	maxIntentLimit     = 100
)

type handlers struct {
	svc            Service
	log            *slog.Logger
	identityHeader string
	now            func() time.Time
}

func (h *handlers) plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.Plans(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out := make([]*planDTO, 0, len(plans))
	for i := range plans {
		out = append(out, toPlan(&plans[i]))
	}
	ok(w, out)
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	cycle, err := req.validate()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	res, err := h.svc.CreateCheckoutSession(r.Context(), subscription.CheckoutRequest{
		ExternalUserID:     UserIDFromContext(r.Context()),
		PlanID:             req.PlanID,
		BillingCycle:       cycle,
		PaymentMethodID:    req.PaymentMethodID,
		PaymentMethodTypes: req.PaymentMethodTypes,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, JSONResponse{Data: checkoutResponse{
		IntentID:    res.IntentID,
		RedirectURL: res.RedirectURL,
	}})
}

// intentParam parses the intent id; a malformed id is just an unknown one.
func intentParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "intentID"))
	if err != nil {
		return uuid.Nil, subscription.ErrIntentNotFound
	}
	return id, nil
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	id, err := intentParam(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ctx := r.Context()
	if _, err := h.svc.Intent(ctx, UserIDFromContext(ctx), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	res, err := h.svc.VerifyIntent(ctx, id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, verifyResponse{
		Completed:    res.Completed,
		Status:       string(res.Status),
		Plan:         toPlan(res.Plan),
		Subscription: toSubscription(res.Subscription, res.Plan, h.now()),
	})
}

func (h *handlers) abandon(w http.ResponseWriter, r *http.Request) {
	id, err := intentParam(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	intent, err := h.svc.AbandonIntent(r.Context(), id, UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, toIntent(intent))
}

func (h *handlers) intents(w http.ResponseWriter, r *http.Request) {
	limit := defaultIntentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxIntentLimit {
			verr := ValidationError{}
			verr.Add("limit", "must be between 1 and "+strconv.Itoa(maxIntentLimit))
			writeError(w, r, h.log, verr)
			return
		}
		limit = n
	}

	intents, err := h.svc.IntentHistory(r.Context(), UserIDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out := make([]intentDTO, 0, len(intents))
	for i := range intents {
		out = append(out, toIntent(&intents[i]))
	}
	ok(w, out)
}

func (h *handlers) overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.svc.Overview(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	resp := overviewResponse{
		Entitled: ov.Entitled,
		Current:  toView(ov.Current),
		History:  make([]subscriptionDTO, 0, len(ov.History)),
	}
	for i := range ov.History {
		resp.History = append(resp.History, *toView(&ov.History[i]))
	}
	ok(w, resp)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.History(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	out := make([]subscriptionDTO, 0, len(views))
	for i := range views {
		out = append(out, *toView(&views[i]))
	}
	ok(w, out)
}

func cancelOptions(r *http.Request) ([]subscription.CancelOption, error) {
	var req cancelRequest
	if err := decodeJSON(r, &req, true); err != nil {
		return nil, err
	}
	if req.Immediately {
		return []subscription.CancelOption{subscription.Immediately()}, nil
	}
	return nil, nil
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	opts, err := cancelOptions(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	res, err := h.svc.CancelSubscription(r.Context(), UserIDFromContext(r.Context()),
		chi.URLParam(r, "externalSubscriptionID"), opts...)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, toCancel(res, h.now()))
}

func (h *handlers) cancelGrant(w http.ResponseWriter, r *http.Request) {
	opts, err := cancelOptions(r)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "subscriptionID"))
	if err != nil {
		writeError(w, r, h.log, subscription.ErrNotAuthorized)
		return
	}
	res, err := h.svc.CancelLocal(r.Context(), UserIDFromContext(r.Context()), id, opts...)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, toCancel(res, h.now()))
}
