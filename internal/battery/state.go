package battery

import (
	"encoding/json"
	"fmt"
	"math"
)

// Source records how a percentage was obtained.
type Source int

const (
	SourceUnknown Source = iota
	SourceCounterRatio
	SourceLevelFallback
)

func (s Source) String() string {
	switch s {
	case SourceCounterRatio:
		return "counter_ratio"
	case SourceLevelFallback:
		return "level_fallback"
	default:
		return "unknown"
	}
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is one battery snapshot. The zero value is Unknown.
// Percentage is only meaningful when Known reports true.
type State struct {
	Percentage   float64
	FastCharging bool
	Source       Source
}

// Unknown is returned when no percentage could be determined. It never
// compares equal to a 0% reading.
var Unknown = State{}

func (s State) Known() bool {
	return s.Source != SourceUnknown
}

// Percent returns the percentage and whether it is present.
func (s State) Percent() (float64, bool) {
	if !s.Known() {
		return 0, false
	}

	return s.Percentage, true
}

func (s State) MarshalJSON() ([]byte, error) {
	out := struct {
		Percentage   *float64 `json:"percentage"`
		FastCharging bool     `json:"fast_charging"`
		Source       Source   `json:"source"`
	}{
		FastCharging: s.FastCharging,
		Source:       s.Source,
	}
	if p, ok := s.Percent(); ok {
		out.Percentage = &p
	}

	return json.Marshal(out)
}

// Format renders a state for display: two decimals while fast charging,
// the nearest integer otherwise. Unknown states render nothing.
func Format(s State) (string, bool) {
	p, ok := s.Percent()
	if !ok {
		return "", false
	}

	if s.FastCharging {
		return fmt.Sprintf("%.2f%%", p), true
	}

	return fmt.Sprintf("%.0f%%", math.Round(p)), true
}
