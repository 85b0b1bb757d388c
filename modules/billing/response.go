package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/subledger/paycore/pkg/logger"
	"github.com/subledger/paycore/pkg/subscription"
)

// JSONResponse is the envelope of every response body.
type JSONResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// ValidationError collects field-level input errors.
type ValidationError url.Values

func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e))
	for field, messages := range e {
		if len(messages) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", field, messages[0]))
		}
	}
	return "validation error: " + strings.Join(parts, ", ")
}

func (e ValidationError) Add(field, message string) {
	url.Values(e).Add(field, message)
}

func (e ValidationError) IsEmpty() bool { return len(e) == 0 }

const (
	gatewayFallback     = "The payment processor could not complete the request. Please try again in a moment."
	processingMessage   = "Your request is being processed, try again shortly."
	internalMessage     = "Something went wrong."
	unauthorizedMessage = "Unknown user."
)

func writeJSON(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, JSONResponse{Data: data})
}

// errorStatus maps domain errors to an HTTP status and error detail.
func errorStatus(err error) (int, *ErrorDetail) {
	var verr ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_error",
			Message: verr.Error(),
			Details: verr,
		}
	case errors.Is(err, subscription.ErrInvalidBillingCycle):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "invalid_billing_cycle", Message: "Billing cycle must be monthly or yearly."}
	case errors.Is(err, subscription.ErrInvalidPlanConfiguration):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "plan_unavailable", Message: "This plan cannot be purchased."}
	case errors.Is(err, subscription.ErrUserNotFound):
		return http.StatusUnauthorized, &ErrorDetail{Code: "user_not_found", Message: unauthorizedMessage}
	case errors.Is(err, subscription.ErrNotAuthorized):
		return http.StatusForbidden, &ErrorDetail{Code: "not_authorized", Message: "You are not allowed to access this resource."}
	case errors.Is(err, subscription.ErrIntentNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "intent_not_found", Message: "This checkout reference is invalid or expired. Please start a new checkout."}
	case errors.Is(err, subscription.ErrPlanNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "plan_not_found", Message: "Plan not found."}
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "subscription_not_found", Message: "Subscription not found."}
	case errors.Is(err, subscription.ErrProcessorManaged):
		return http.StatusConflict, &ErrorDetail{Code: "processor_managed", Message: "This subscription is managed by the payment processor."}
	case errors.Is(err, subscription.ErrPaymentGateway):
		code := "payment_gateway_error"
		if errors.Is(err, subscription.ErrProcessorTimeout) {
			code = "payment_gateway_timeout"
		}
		msg := gatewayFallback
		if gm := subscription.GatewayMessage(err); gm != "" {
			msg = strings.TrimSuffix(gm, ".") + ". " + gatewayFallback
		}
		return http.StatusBadGateway, &ErrorDetail{Code: code, Message: msg}
	case errors.Is(err, subscription.ErrPersistence):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "processing", Message: processingMessage}
	default:
		return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: internalMessage}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, detail := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("code", detail.Code),
			slog.Int("status", status),
			logger.Error(err),
		)
	}
	writeJSON(w, status, JSONResponse{Error: detail})
}

// decodeJSON strictly decodes the request body into v. An empty body is
// accepted when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil || (allowEmpty && r.ContentLength == 0) {
		return nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		media := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
		if media != "application/json" {
			verr := ValidationError{}
			verr.Add("body", "expected application/json")
			return verr
		}
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		verr := ValidationError{}
		verr.Add("body", "invalid JSON: "+err.Error())
		return verr
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err == nil {
		verr := ValidationError{}
		verr.Add("body", "unexpected data after JSON object")
		return verr
	}
	return nil
}
