package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gate semantic convention attributes.
var (
	AttrSessionID = attribute.Key("airlock.session.id")
	AttrIntentID  = attribute.Key("airlock.intent.id")
	AttrAction    = attribute.Key("airlock.action")
	AttrOutcome   = attribute.Key("airlock.outcome")
	AttrActor     = attribute.Key("airlock.actor")
	AttrFromState = attribute.Key("airlock.status.from")
	AttrToState   = attribute.Key("airlock.status.to")

	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPStatus = attribute.Key("http.response.status_code")
)

// ProposeAttrs builds attributes for a proposal.
func ProposeAttrs(sessionID, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrAction.String(action),
	}
}

// TransitionAttrs builds attributes for one intent status transition.
func TransitionAttrs(intentID, from, to, actor string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIntentID.String(intentID),
		AttrFromState.String(from),
		AttrToState.String(to),
		AttrActor.String(actor),
	}
}

// RequestAttrs builds attributes for one HTTP request.
func RequestAttrs(method, route string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(route),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
