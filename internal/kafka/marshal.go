package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

const envelopeVersion = 1

var (
	// ErrMalformed marks messages that can never be processed; consumers
	// log and commit them.
	ErrMalformed = errors.New("malformed event")
	// ErrOtherEvent is returned for envelopes of a different event type.
	ErrOtherEvent = errors.New("unhandled event type")
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// UnwrapPayload decodes a specific payload out of an envelope.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// NewEnvelope wraps payload in a v1 envelope. The trace ID is taken from the
// span in ctx, when there is one.
func NewEnvelope(ctx context.Context, eventType, producer, correlationID string, payload any) orders.Envelope {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

// Headers returns the routing headers every published event carries.
func Headers(eventType string) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	}
}

// Decode unwraps value into an envelope of eventType and its validated
// payload. Errors wrap ErrMalformed or ErrOtherEvent.
func Decode[T any](value []byte, eventType string, v *validator.Validate) (orders.Envelope, T, error) {
	var (
		env orders.Envelope
		p   T
	)
	if err := json.Unmarshal(value, &env); err != nil {
		return env, p, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.EventType != eventType {
		return env, p, fmt.Errorf("%w: %q", ErrOtherEvent, env.EventType)
	}
	if env.EventID == "" {
		return env, p, fmt.Errorf("%w: missing event_id", ErrMalformed)
	}
	p, err := UnwrapPayload[T](env.Payload)
	if err != nil {
		return env, p, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v != nil {
		if err := v.Struct(p); err != nil {
			return env, p, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return env, p, nil
}
