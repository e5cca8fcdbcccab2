// Package safety turns raw station readings into per-project safe or
// unsafe verdicts: the sensor model, the evaluation rules, the
// process-wide registry and the per-project aggregation.
package safety

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// SafetyResponse is the aggregated verdict for a project, and also the
// shape of a single sensor's verdict.
type SafetyResponse struct {
	Safe    bool     `json:"safe"`
	Reasons []string `json:"reasons"`
}

// StationView is the read-only surface a sensor needs from its source
// station. Stations are resolved by name through the Registry so the
// object graph stays acyclic.
type StationView interface {
	Name() string
	Datums() []string
	LatestReadings(datum string, n int) ([]float64, error)
	Interval() time.Duration
}

// Rule is one evaluation mode. Evaluate inspects the source station and
// returns the verdict; it may consult and update the sensor's settling
// state.
type Rule interface {
	Evaluate(s *Sensor, st StationView, now time.Time) (bool, []string)
	// NReadings is how deep a history this rule needs from its station.
	NReadings() int
}

// Sensor is one project-scoped evaluation unit bound to a single
// station datum. Its verdict is recomputed by the owning station's
// acquisition loop after every fetch.
type Sensor struct {
	Name    string
	Project string
	Enabled bool
	Station string
	Datum   string
	Rule    Rule

	mu              sync.RWMutex
	safe            bool
	reasons         []string
	inRange         bool
	startedSettling time.Time
}

// NewSensor builds a sensor; the initial verdict is unsafe until the
// first evaluation.
func NewSensor(name, project, station, datum string, enabled bool, rule Rule) *Sensor {
	return &Sensor{
		Name:    name,
		Project: project,
		Enabled: enabled,
		Station: station,
		Datum:   datum,
		Rule:    rule,
		reasons: []string{fmt.Sprintf("station %s has no readings yet", station)},
	}
}

// Evaluate recomputes the verdict against the sensor's source station.
func (s *Sensor) Evaluate(st StationView, now time.Time) {
	safe, reasons := s.Rule.Evaluate(s, st, now)
	s.mu.Lock()
	s.safe = safe
	s.reasons = reasons
	s.mu.Unlock()
}

// Verdict returns the current verdict.
func (s *Sensor) Verdict() SafetyResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reasons := make([]string, len(s.reasons))
	copy(reasons, s.reasons)
	return SafetyResponse{Safe: s.safe, Reasons: reasons}
}

// Settling reports whether a settling timer is armed and, if so, how
// long until it expires.
func (s *Sensor) Settling(now time.Time) (bool, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mm, ok := s.Rule.(*MinMax)
	if !ok || s.startedSettling.IsZero() {
		return false, 0
	}
	remaining := mm.Settling - now.Sub(s.startedSettling)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

// MinMax is the range rule: a value v is in range iff min <= v < max.
// With a settling duration configured, the sensor stays unsafe for that
// long after values come back into range.
type MinMax struct {
	Min      float64
	Max      float64
	Readings int
	Settling time.Duration
}

func (r *MinMax) NReadings() int { return r.Readings }

func (r *MinMax) Evaluate(s *Sensor, st StationView, now time.Time) (bool, []string) {
	values, err := st.LatestReadings(s.Datum, r.Readings)
	if err != nil {
		s.mu.Lock()
		s.inRange = false
		s.startedSettling = time.Time{}
		s.mu.Unlock()
		return false, []string{err.Error()}
	}

	var bad []float64
	for _, v := range values {
		if v < r.Min || v >= r.Max {
			bad = append(bad, v)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(bad) > 0 {
		s.inRange = false
		s.startedSettling = time.Time{}
		return false, []string{fmt.Sprintf("%d of %d readings out of range [%g..%g): %s",
			len(bad), len(values), r.Min, r.Max, formatValues(bad))}
	}

	if r.Settling > 0 {
		if !s.inRange {
			// out-of-range (or startup) -> in-range transition arms the timer
			s.inRange = true
			s.startedSettling = now
		}
		if !s.startedSettling.IsZero() {
			elapsed := now.Sub(s.startedSettling)
			if elapsed < r.Settling {
				remaining := r.Settling - elapsed
				return false, []string{fmt.Sprintf("settling for %.0f more seconds (of %.0f)",
					remaining.Seconds(), r.Settling.Seconds())}
			}
			s.startedSettling = time.Time{}
		}
	}
	s.inRange = true
	return true, nil
}

// SunElevation is the day/night rule: unsafe when the Sun is above the
// dusk threshold in the afternoon or above the dawn threshold in the
// morning. Thresholds are compared strictly; an elevation exactly equal
// to the threshold is safe.
type SunElevation struct {
	Dawn float64
	Dusk float64
}

func (r *SunElevation) NReadings() int { return 1 }

func (r *SunElevation) Evaluate(s *Sensor, st StationView, now time.Time) (bool, []string) {
	values, err := st.LatestReadings(s.Datum, 1)
	if err != nil {
		return false, []string{err.Error()}
	}
	elevation := values[0]

	if now.Hour() >= 12 { // afternoon and evening
		if elevation > r.Dusk {
			return false, []string{fmt.Sprintf(
				"sun elevation %.2f deg is higher than the dusk setting (%.2f deg)", elevation, r.Dusk)}
		}
	} else { // morning
		if elevation > r.Dawn {
			return false, []string{fmt.Sprintf(
				"sun elevation %.2f deg is higher than the dawn setting (%.2f deg)", elevation, r.Dawn)}
		}
	}
	return true, nil
}

// HumanIntervention is the operator-override rule: the presence of the
// override file forces unsafe.
type HumanIntervention struct {
	File string
}

func (r *HumanIntervention) NReadings() int { return 1 }

func (r *HumanIntervention) Evaluate(s *Sensor, st StationView, now time.Time) (bool, []string) {
	if _, err := os.Stat(r.File); err == nil {
		return false, []string{"human intervention asserted"}
	}
	return true, nil
}

func formatValues(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(parts, ", ")
}
