// Package lenient provides JSON scalar types that never fail to decode.
//
// Upstream market-data APIs disagree on whether numbers are JSON numbers or
// strings, and occasionally send null, "" or garbage. Each type here records
// whether a usable value was present instead of returning an error, so one bad
// field never poisons the surrounding document.
package lenient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Float is a number that may arrive as a JSON number or a numeric string.
type Float struct {
	Value float64
	Valid bool
}

func (f *Float) UnmarshalJSON(b []byte) error {
	*f = Float{}
	v, ok := scalar(b)
	if !ok {
		return nil
	}
	x, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	f.Value, f.Valid = x, true
	return nil
}

// Ptr returns nil when the value was absent or unparseable.
func (f Float) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// Int is an integer that may arrive as a number or a string such as "1".
// Fractional values are rejected.
type Int struct {
	Value int
	Valid bool
}

func (n *Int) UnmarshalJSON(b []byte) error {
	*n = Int{}
	var f Float
	_ = f.UnmarshalJSON(b)
	if !f.Valid || f.Value != math.Trunc(f.Value) || math.Abs(f.Value) > math.MaxInt32 {
		return nil
	}
	n.Value, n.Valid = int(f.Value), true
	return nil
}

func (n Int) Ptr() *int {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// String accepts a JSON string or number. Empty strings are not valid.
type String struct {
	Value string
	Valid bool
}

func (s *String) UnmarshalJSON(b []byte) error {
	*s = String{}
	v, ok := scalar(b)
	if !ok {
		return nil
	}
	str, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}
	s.Value, s.Valid = str, true
	return nil
}

func (s String) Ptr() *string {
	if !s.Valid {
		return nil
	}
	v := s.Value
	return &v
}

// Time accepts RFC 3339 strings (and the other layouts cast understands) or
// epoch numbers. Numbers above 1e11 are read as milliseconds, smaller ones as
// seconds.
type Time struct {
	Value time.Time
	Valid bool
}

func (t *Time) UnmarshalJSON(b []byte) error {
	*t = Time{}
	v, ok := scalar(b)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case float64:
		if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		if x > 1e11 {
			t.Value = time.UnixMilli(int64(x)).UTC()
		} else {
			t.Value = time.Unix(int64(x), 0).UTC()
		}
	case string:
		ts, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			ts, err = cast.ToTimeE(x)
			if err != nil {
				return nil
			}
		}
		t.Value = ts.UTC()
	default:
		return nil
	}
	t.Valid = true
	return nil
}

// scalar decodes b into a float64 or a non-blank string. Anything else
// (null, objects, arrays, booleans) reports false.
func scalar(b []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return nil, false
		}
		return x, true
	default:
		return nil, false
	}
}

// Records splits a JSON array into its raw elements. It fails only when data
// is not an array, which callers report as an unrecognized document.
func Records(data json.RawMessage) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("expected array: %w", err)
	}
	if out == nil {
		return nil, errors.New("expected array, got null")
	}
	return out, nil
}
