package safety

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeStation feeds canned histories to sensors under test.
type fakeStation struct {
	name   string
	datums map[string][]float64 // oldest first
}

func (f *fakeStation) Name() string            { return f.name }
func (f *fakeStation) Interval() time.Duration { return time.Minute }

func (f *fakeStation) Datums() []string {
	var names []string
	for d := range f.datums {
		names = append(names, d)
	}
	return names
}

func (f *fakeStation) LatestReadings(datum string, n int) ([]float64, error) {
	vs := f.datums[datum]
	if len(vs) < n {
		return nil, fmt.Errorf("only %d of %d readings available", len(vs), n)
	}
	return vs[len(vs)-n:], nil
}

func (f *fakeStation) push(datum string, vs ...float64) {
	f.datums[datum] = append(f.datums[datum], vs...)
}

func newFake(name string) *fakeStation {
	return &fakeStation{name: name, datums: make(map[string][]float64)}
}

func windSensor(settling time.Duration) *Sensor {
	return NewSensor("wind", "default", "davis", "wind_speed", true, &MinMax{
		Min:      0,
		Max:      40,
		Readings: 3,
		Settling: settling,
	})
}

func TestMinMaxBoundaries(t *testing.T) {
	st := newFake("davis")
	now := time.Now()

	s := NewSensor("wind", "default", "davis", "wind_speed", true, &MinMax{Min: 0, Max: 40, Readings: 1})

	st.push("wind_speed", 0) // v == min is safe
	s.Evaluate(st, now)
	if v := s.Verdict(); !v.Safe {
		t.Errorf("v == min should be safe: %v", v.Reasons)
	}

	st.push("wind_speed", 40) // v == max is unsafe, right endpoint exclusive
	s.Evaluate(st, now)
	if v := s.Verdict(); v.Safe {
		t.Error("v == max should be unsafe")
	}
}

func TestMinMaxCountsBadReadings(t *testing.T) {
	st := newFake("davis")
	st.push("wind_speed", 50, 50, 30)

	s := windSensor(0)
	s.Evaluate(st, time.Now())

	v := s.Verdict()
	if v.Safe {
		t.Fatal("two out-of-range readings should be unsafe")
	}
	if len(v.Reasons) != 1 || !strings.Contains(v.Reasons[0], "2 of 3") {
		t.Errorf("reason should count the bad readings: %v", v.Reasons)
	}
	if !strings.Contains(v.Reasons[0], "[0..40)") {
		t.Errorf("reason should state the range: %v", v.Reasons)
	}
}

func TestMinMaxInsufficientReadings(t *testing.T) {
	st := newFake("davis")
	st.push("wind_speed", 30)

	s := windSensor(0)
	s.Evaluate(st, time.Now())

	v := s.Verdict()
	if v.Safe {
		t.Fatal("short history should be unsafe")
	}
	if !strings.Contains(v.Reasons[0], "only 1 of 3 readings available") {
		t.Errorf("unexpected reason: %v", v.Reasons)
	}
}

func TestSettlingLifecycle(t *testing.T) {
	st := newFake("davis")
	s := windSensor(30 * time.Second)
	t0 := time.Date(2024, 7, 1, 22, 0, 0, 0, time.UTC)

	// Out of range: unsafe, no settling.
	st.push("wind_speed", 50, 50, 30)
	s.Evaluate(st, t0)
	if v := s.Verdict(); v.Safe {
		t.Fatal("out-of-range should be unsafe")
	}
	if armed, _ := s.Settling(t0); armed {
		t.Fatal("settling must not be armed while out of range")
	}

	// Back in range: candidate-safe, settling timer armed.
	st.push("wind_speed", 30, 30, 30)
	s.Evaluate(st, t0.Add(10*time.Second))
	v := s.Verdict()
	if v.Safe {
		t.Fatal("sensor should stay unsafe while settling")
	}
	if !strings.Contains(v.Reasons[0], "settling") {
		t.Errorf("reason should mention settling: %v", v.Reasons)
	}
	if armed, _ := s.Settling(t0.Add(10 * time.Second)); !armed {
		t.Fatal("settling should be armed")
	}

	// Still in range during the window: still unsafe.
	s.Evaluate(st, t0.Add(25*time.Second))
	if v := s.Verdict(); v.Safe {
		t.Fatal("settling window not elapsed yet")
	}

	// Window elapsed without re-entry: safe, reasons empty.
	s.Evaluate(st, t0.Add(41*time.Second))
	if v := s.Verdict(); !v.Safe || len(v.Reasons) != 0 {
		t.Fatalf("expected safe after settling, got %+v", v)
	}

	// Re-entering unsafe clears the timer.
	st.push("wind_speed", 50, 30, 30)
	s.Evaluate(st, t0.Add(60*time.Second))
	if v := s.Verdict(); v.Safe {
		t.Fatal("new bad reading should be unsafe")
	}
	if armed, _ := s.Settling(t0.Add(60 * time.Second)); armed {
		t.Fatal("re-entry must clear the settling timer")
	}

	// And the whole settling window is required again.
	st.push("wind_speed", 30, 30, 30)
	s.Evaluate(st, t0.Add(70*time.Second))
	if v := s.Verdict(); v.Safe {
		t.Fatal("settling must re-run in full after re-entry")
	}
}

func TestSunElevationRule(t *testing.T) {
	st := newFake("internal")
	st.push("sun-elevation", 0.5)

	s := NewSensor("sun", "default", "internal", "sun-elevation", true,
		&SunElevation{Dawn: 0.0, Dusk: -5.0})

	morning := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	s.Evaluate(st, morning)
	if v := s.Verdict(); v.Safe {
		t.Error("elevation 0.5 above dawn 0.0 in the morning should be unsafe")
	}

	evening := time.Date(2024, 7, 1, 20, 0, 0, 0, time.UTC)
	s.Evaluate(st, evening)
	if v := s.Verdict(); v.Safe {
		t.Error("elevation 0.5 above dusk -5.0 in the evening should be unsafe")
	}

	// Exactly at the threshold is safe: strict > on the unsafe side.
	st.datums["sun-elevation"] = []float64{0.0}
	s.Evaluate(st, morning)
	if v := s.Verdict(); !v.Safe {
		t.Errorf("elevation == dawn should be safe: %v", v.Reasons)
	}

	st.datums["sun-elevation"] = []float64{-20.0}
	s.Evaluate(st, evening)
	if v := s.Verdict(); !v.Safe {
		t.Errorf("deep night should be safe: %v", v.Reasons)
	}
}

func TestHumanInterventionRule(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/human_intervention.json"
	h := NewIntervention(path, nil)

	st := newFake("internal")
	s := NewSensor("human-intervention", "default", "internal", "human-intervention", true,
		&HumanIntervention{File: path})

	s.Evaluate(st, time.Now())
	if v := s.Verdict(); !v.Safe {
		t.Errorf("absent file should be safe: %v", v.Reasons)
	}

	if err := h.Create("closing for maintenance"); err != nil {
		t.Fatal(err)
	}
	s.Evaluate(st, time.Now())
	v := s.Verdict()
	if v.Safe {
		t.Fatal("present file should be unsafe")
	}
	if !strings.Contains(v.Reasons[0], "human intervention asserted") {
		t.Errorf("unexpected reason: %v", v.Reasons)
	}

	rec := h.Record()
	if rec.Reason != "closing for maintenance" {
		t.Errorf("record reason = %q", rec.Reason)
	}

	if err := h.Remove(); err != nil {
		t.Fatal(err)
	}
	s.Evaluate(st, time.Now())
	if v := s.Verdict(); !v.Safe {
		t.Error("removed file should be safe again")
	}
}
