package jsontime

import (
	"encoding/json"
	"math"
	"time"
)

// Seconds is a time.Duration that serializes to/from a JSON number of seconds.
// Scene documents express delays and timeline offsets this way: "delay": 2.5
// means two and a half seconds.
type Seconds time.Duration

// MarshalJSON implements json.Marshaler.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(s).Seconds())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = FromSecondsFloat(v)
	return nil
}

// Duration returns the underlying time.Duration value.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// String returns the duration formatted as a string.
func (s Seconds) String() string {
	return time.Duration(s).String()
}

// FromSecondsFloat converts a floating point number of seconds, rounding to
// the nearest nanosecond.
func FromSecondsFloat(v float64) Seconds {
	return Seconds(math.Round(v * float64(time.Second)))
}
