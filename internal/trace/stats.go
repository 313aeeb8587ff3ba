package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
)

// computeStats summarises elements in float64. Std is the population
// standard deviation; an empty payload yields all zeros.
func computeStats(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	min, max := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return Stats{
		Min:  min,
		Max:  max,
		Mean: stat.Mean(xs, nil),
		Std:  stat.PopStdDev(xs, nil),
	}
}

type statsJSON struct {
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
	Mean *float64 `json:"mean"`
	Std  *float64 `json:"std"`
}

// MarshalJSON emits null for non-finite values, which have no JSON number
// form. Payloads containing NaN or Inf must still be recordable; the raw
// bytes keep the exact values, the stats are advisory.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(statsJSON{
		Min:  finiteOrNil(s.Min),
		Max:  finiteOrNil(s.Max),
		Mean: finiteOrNil(s.Mean),
		Std:  finiteOrNil(s.Std),
	})
}

// UnmarshalJSON maps null back to NaN.
func (s *Stats) UnmarshalJSON(data []byte) error {
	var aux statsJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Min = nanIfNil(aux.Min)
	s.Max = nanIfNil(aux.Max)
	s.Mean = nanIfNil(aux.Mean)
	s.Std = nanIfNil(aux.Std)
	return nil
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func nanIfNil(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// hashBytes returns the lowercase hex SHA-256 of the canonical payload bytes.
func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
