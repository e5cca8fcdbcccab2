package safety

import (
	"strings"
	"testing"
	"time"
)

// buildProjects wires the wind sensor for "default" and an overridden
// copy (max=30) for project "last", both bound to the same station.
func buildProjects(st *fakeStation) (*Registry, []*Sensor) {
	reg := NewRegistry()
	reg.AddStation(st)

	def := NewSensor("wind", "default", "davis", "wind_speed", true,
		&MinMax{Min: 0, Max: 40, Readings: 3})
	last := NewSensor("wind", "last", "davis", "wind_speed", true,
		&MinMax{Min: 0, Max: 30, Readings: 3})

	reg.AddSensor(def)
	reg.AddSensor(last)
	return reg, []*Sensor{def, last}
}

func evaluateAll(ss []*Sensor, st StationView) {
	now := time.Now()
	for _, s := range ss {
		s.Evaluate(st, now)
	}
}

func TestProjectOverrideAggregation(t *testing.T) {
	st := newFake("davis")
	reg, sensors := buildProjects(st)

	// Readings of 35: default (max 40) safe, last (max 30) unsafe.
	st.push("wind_speed", 35, 35, 35)
	evaluateAll(sensors, st)

	defResp, err := reg.IsSafe("default")
	if err != nil {
		t.Fatal(err)
	}
	if !defResp.Safe {
		t.Errorf("default should be safe at 35: %v", defResp.Reasons)
	}

	lastResp, err := reg.IsSafe("last")
	if err != nil {
		t.Fatal(err)
	}
	if lastResp.Safe {
		t.Error("last should be unsafe at 35 with max=30")
	}
	if len(lastResp.Reasons) == 0 || !strings.HasPrefix(lastResp.Reasons[0], "wind: ") {
		t.Errorf("reasons should be prefixed with the sensor name: %v", lastResp.Reasons)
	}

	// Readings of 45: both unsafe.
	st.push("wind_speed", 45, 45, 45)
	evaluateAll(sensors, st)

	defResp, _ = reg.IsSafe("default")
	lastResp, _ = reg.IsSafe("last")
	if defResp.Safe || lastResp.Safe {
		t.Error("both projects should be unsafe at 45")
	}
}

func TestDisabledSensorsAreExcluded(t *testing.T) {
	st := newFake("davis")
	reg := NewRegistry()
	reg.AddStation(st)

	s := NewSensor("wind", "default", "davis", "wind_speed", false,
		&MinMax{Min: 0, Max: 40, Readings: 3})
	reg.AddSensor(s)

	// Never evaluated, verdict is the startup unsafe; still the project
	// aggregates safe because the sensor is disabled.
	resp, err := reg.IsSafe("default")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Safe {
		t.Errorf("disabled sensors must not contribute: %v", resp.Reasons)
	}
}

func TestUnknownProject(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.IsSafe("nope"); err == nil {
		t.Error("unknown project should error")
	}
}

func TestStartupVerdictIsFailClosed(t *testing.T) {
	st := newFake("davis")
	reg := NewRegistry()
	reg.AddStation(st)
	reg.AddSensor(NewSensor("wind", "default", "davis", "wind_speed", true,
		&MinMax{Min: 0, Max: 40, Readings: 3}))

	resp, err := reg.IsSafe("default")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Safe {
		t.Error("project must be unsafe before any readings arrive")
	}
	if len(resp.Reasons) == 0 || !strings.Contains(resp.Reasons[0], "no readings yet") {
		t.Errorf("unexpected startup reasons: %v", resp.Reasons)
	}
}

func TestSensorLookup(t *testing.T) {
	st := newFake("davis")
	reg, _ := buildProjects(st)

	if _, err := reg.Sensor("last", "wind"); err != nil {
		t.Errorf("lookup should find the sensor: %v", err)
	}
	if _, err := reg.Sensor("last", "fog"); err == nil {
		t.Error("unknown sensor name should error")
	}

	projects := reg.Projects()
	if projects[0] != "default" || len(projects) != 2 {
		t.Errorf("projects = %v", projects)
	}
}
