package logger

import (
	"fmt"
	"log/slog"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the internal or external user identifier under "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("user_id", fmt.Sprint(id))
}

// IntentID records the checkout intent correlation token under "intent_id".
func IntentID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("intent_id", fmt.Sprint(id))
}

// SubscriptionID records a local or processor subscription id under "subscription_id".
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("subscription_id", fmt.Sprint(id))
}

// SessionID records the processor checkout session id under "session_id".
func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

// PlanID records the plan identifier under "plan_id".
func PlanID(id string) slog.Attr {
	return slog.String("plan_id", id)
}

// Transition records an attempted state change as "from->to" under "transition".
func Transition(from, to any) slog.Attr {
	return slog.String("transition", fmt.Sprintf("%v->%v", from, to))
}

// Processor records the payment processor name under "processor".
func Processor(name string) slog.Attr {
	return slog.String("processor", name)
}

// RequestID records the request identifier under "request_id".
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
