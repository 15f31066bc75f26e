package jsontime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMilli_MarshalJSON(t *testing.T) {
	tm := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	ep := Milli(tm)

	data, err := json.Marshal(ep)
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}

	expected := tm.UnixMilli()
	var got int64
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal result error: %v", err)
	}
	if got != expected {
		t.Errorf("MarshalJSON = %d, want %d", got, expected)
	}
}

func TestMilli_UnmarshalJSON(t *testing.T) {
	ms := int64(1705315800000) // 2024-01-15 10:30:00 UTC
	data, _ := json.Marshal(ms)

	var ep Milli
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatalf("UnmarshalJSON error: %v", err)
	}

	expected := time.UnixMilli(ms)
	if !time.Time(ep).Equal(expected) {
		t.Errorf("UnmarshalJSON = %v, want %v", time.Time(ep), expected)
	}
}

func TestMilli_RoundTrip(t *testing.T) {
	original := NowEpochMilli()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var restored Milli
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	// Milli precision: compare at millisecond level
	if original.Time().UnixMilli() != restored.Time().UnixMilli() {
		t.Errorf("RoundTrip: original=%v, restored=%v", original, restored)
	}
}

func TestMilli_Comparisons(t *testing.T) {
	t1 := Milli(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	t2 := Milli(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	if !t1.Before(t2) {
		t.Error("t1 should be before t2")
	}
	if !t2.After(t1) {
		t.Error("t2 should be after t1")
	}
	if t1.Equal(t2) {
		t.Error("t1 should not equal t2")
	}
	if !t1.Equal(t1) {
		t.Error("t1 should equal itself")
	}

	added := t1.Add(time.Hour)
	if added.Sub(t1) != time.Hour {
		t.Error("Add/Sub should work correctly")
	}

	var zero Milli
	if !zero.IsZero() {
		t.Error("zero Milli should be zero")
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration(90 * time.Minute)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}

	var got string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal result error: %v", err)
	}
	if got != "1h30m0s" {
		t.Errorf("MarshalJSON = %q, want %q", got, "1h30m0s")
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want time.Duration
	}{
		{"string", `"2h30m"`, 2*time.Hour + 30*time.Minute},
		{"nanoseconds", `5000000000`, 5 * time.Second},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			if err := json.Unmarshal([]byte(tt.data), &d); err != nil {
				t.Fatalf("UnmarshalJSON error: %v", err)
			}
			if time.Duration(d) != tt.want {
				t.Errorf("UnmarshalJSON = %v, want %v", time.Duration(d), tt.want)
			}
		})
	}
}

func TestDuration_Nil(t *testing.T) {
	var nilD *Duration
	if nilD.Duration() != 0 {
		t.Error("nil Duration() should return 0")
	}

	ptr := FromDuration(time.Hour)
	if ptr == nil || ptr.Duration() != time.Hour {
		t.Errorf("FromDuration = %v, want 1h", ptr)
	}
}

func TestSeconds_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want time.Duration
	}{
		{"integer", `2`, 2 * time.Second},
		{"fractional", `2.5`, 2500 * time.Millisecond},
		{"zero", `0`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Seconds
			if err := json.Unmarshal([]byte(tt.data), &s); err != nil {
				t.Fatalf("UnmarshalJSON error: %v", err)
			}
			if s.Duration() != tt.want {
				t.Errorf("UnmarshalJSON = %v, want %v", s.Duration(), tt.want)
			}
		})
	}
}

func TestSeconds_RoundTrip(t *testing.T) {
	original := FromSecondsFloat(4.25)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(data) != "4.25" {
		t.Errorf("Marshal = %s, want 4.25", data)
	}

	var restored Seconds
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if restored != original {
		t.Errorf("RoundTrip: original=%v, restored=%v", original, restored)
	}
}

func TestSeconds_InStruct(t *testing.T) {
	type step struct {
		Delay Seconds `json:"delay"`
		At    Seconds `json:"at"`
	}

	var s step
	if err := json.Unmarshal([]byte(`{"delay": 2.5, "at": 10}`), &s); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if s.Delay.Duration() != 2500*time.Millisecond {
		t.Errorf("delay = %v, want 2.5s", s.Delay.Duration())
	}
	if s.At.Duration() != 10*time.Second {
		t.Errorf("at = %v, want 10s", s.At.Duration())
	}
}
