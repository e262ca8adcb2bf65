package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/pos-orders/internal/orders"
)

// MustMarshal is for event structs whose encoding cannot fail.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeEnvelope parses a message value into the v1 envelope. Events without
// an id cannot be deduplicated and are rejected.
func DecodeEnvelope(value []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" {
		return env, errors.New("decode envelope: missing event_id")
	}
	return env, nil
}

// Unwrap memudahkan decode payload spesifik
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
