package authsig

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// NumericDate represents a JSON numeric date value as specified in RFC 7519.
// It is encoded as whole seconds since the Unix epoch.
type NumericDate struct {
	time.Time
}

// NewNumericDate creates a new NumericDate from time.Time, truncated to seconds.
func NewNumericDate(t time.Time) *NumericDate {
	return &NumericDate{Time: t.Truncate(time.Second)}
}

// MarshalJSON implements json.Marshaler interface
func (date NumericDate) MarshalJSON() ([]byte, error) {
	if date.Time.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, date.Unix(), 10), nil
}

// UnmarshalJSON accepts integer or fractional seconds. Fractions are truncated.
func (date *NumericDate) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		date.Time = time.Time{}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid numeric date %s: expected seconds since epoch", b)
	}

	if unix, err := n.Int64(); err == nil {
		return date.set(unix)
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("invalid numeric date %s", b)
	}
	return date.set(int64(f))
}

func (date *NumericDate) set(unix int64) error {
	if unix < 0 || unix > 253402300799 {
		return fmt.Errorf("invalid unix timestamp: %d", unix)
	}
	date.Time = time.Unix(unix, 0).UTC()
	return nil
}
