package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnmappedTopic  = errors.New("unmapped topic")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidReading = errors.New("invalid reading")
)

// Reading is a single sensor sample. Readings are never modified once created.
type Reading struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	Value float64   `json:"value"`
}

// Point is one sample of a labelled series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// NewReading builds a reading stamped at ts, normalised to UTC milliseconds
// (the precision of the store).
func NewReading(ts time.Time, kind Kind, value float64) Reading {
	return Reading{
		Time:  ts.UTC().Truncate(time.Millisecond),
		Kind:  kind,
		Value: value,
	}
}

// Validate checks the invariants every stored reading must satisfy.
func (r Reading) Validate() error {
	if r.Kind == KindUndefined {
		return fmt.Errorf("%w: undefined kind", ErrInvalidReading)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: value %v is not finite", ErrInvalidReading, r.Value)
	}
	if r.Time.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidReading)
	}
	return nil
}

// ParseValue decodes a sensor payload: the UTF-8 text of one finite number.
func ParseValue(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if !isDecimal(s) {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidPayload, s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPayload, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidPayload, s)
	}
	return v, nil
}

// isDecimal rejects the hex and underscore forms strconv would otherwise accept.
func isDecimal(s string) bool {
	if strings.ContainsRune(s, '_') {
		return false
	}
	digits := strings.TrimLeft(s, "+-")
	return !strings.HasPrefix(digits, "0x") && !strings.HasPrefix(digits, "0X")
}

// DecodeError describes an inbound message that could not become a Reading.
type DecodeError struct {
	Topic   string
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message on %q: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
