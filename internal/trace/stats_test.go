package trace

import (
	"encoding/json"
	"math"
	"testing"
)

func TestComputeStats(t *testing.T) {
	s := computeStats([]float64{1, 2, 3, 4})
	if s.Min != 1 || s.Max != 4 {
		t.Errorf("min/max = %v/%v, want 1/4", s.Min, s.Max)
	}
	if s.Mean != 2.5 {
		t.Errorf("mean = %v, want 2.5", s.Mean)
	}
	// Population std of 1..4 is sqrt(1.25).
	if want := math.Sqrt(1.25); math.Abs(s.Std-want) > 1e-12 {
		t.Errorf("std = %v, want %v", s.Std, want)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	if s := computeStats(nil); s != (Stats{}) {
		t.Errorf("empty stats = %+v, want zeros", s)
	}
}

func TestStats_JSONRoundTrip(t *testing.T) {
	s := Stats{Min: math.Inf(-1), Max: math.Inf(1), Mean: math.NaN(), Std: 0.5}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if want := `{"min":null,"max":null,"mean":null,"std":0.5}`; string(data) != want {
		t.Errorf("marshalled stats = %s, want %s", data, want)
	}

	var got Stats
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !math.IsNaN(got.Min) || !math.IsNaN(got.Max) || !math.IsNaN(got.Mean) {
		t.Errorf("non-finite fields did not round-trip: %+v", got)
	}
	if got.Std != 0.5 {
		t.Errorf("std = %v, want 0.5", got.Std)
	}
}

func TestHashBytes(t *testing.T) {
	// Well-known SHA-256 of the empty string.
	if got := hashBytes(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("hashBytes(nil) = %s", got)
	}
	if hashBytes([]byte("a")) == hashBytes([]byte("b")) {
		t.Error("distinct inputs hash equal")
	}
}
