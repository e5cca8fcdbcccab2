package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/obswx/safetyd/pkg/config"
)

func writeConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safety.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func sampleConfig(t *testing.T) *config.Config {
	override := filepath.Join(t.TempDir(), "human_intervention.json")
	return writeConfig(t, `
[location]
latitude = 30.597
longitude = 34.763
elevation = 876.0

[server]
host = "127.0.0.1"
port = 0

[stations.davis]
enabled = true
type = "davis"
interval = 60
serial = "/dev/ttyUSB0"
baud = 19200

[stations.internal]
enabled = true
type = "internal"
interval = 30
human-intervention-file = "`+override+`"

[sensors.wind]
enabled = true
source = "davis:wind_speed"
min = 0.0
max = 40.0
nreadings = 3
settling = 30.0

[sensors.sun]
enabled = true
source = "internal:sun-elevation"
dawn = 0.0
dusk = -5.0

[sensors.human-intervention]
enabled = true
source = "internal:human-intervention"

[global]
projects = ["last"]

[last.sensors.wind]
max = 30.0
`)
}

func TestNewWiresStationsAndSensors(t *testing.T) {
	a, err := New(sampleConfig(t))
	if err != nil {
		t.Fatal(err)
	}

	if len(a.stations) != 2 {
		t.Errorf("stations constructed = %d, want davis and internal", len(a.stations))
	}
	if _, ok := a.stations["davis"]; !ok {
		t.Error("davis station missing")
	}
	if a.intervention == nil {
		t.Error("intervention manager should be wired from the internal station")
	}

	projects := a.registry.Projects()
	if len(projects) != 2 || projects[0] != "default" {
		t.Errorf("projects = %v", projects)
	}

	// The override project carries its own wind sensor copy.
	if _, err := a.registry.Sensor("last", "wind"); err != nil {
		t.Errorf("override project sensor missing: %v", err)
	}

	// Startup verdicts fail closed.
	resp, err := a.registry.IsSafe("default")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Safe {
		t.Error("freshly wired app must report unsafe")
	}
}

func TestNewRejectsUnknownDatum(t *testing.T) {
	cfg := writeConfig(t, `
[stations.davis]
enabled = true
type = "davis"
interval = 60
serial = "/dev/ttyUSB0"
baud = 19200

[sensors.fog]
enabled = true
source = "davis:fog_density"
min = 0.0
max = 1.0
`)

	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "does not advertise") {
		t.Errorf("want unknown-datum startup error, got %v", err)
	}
}

func TestNewRejectsInvertedRange(t *testing.T) {
	cfg := writeConfig(t, `
[stations.davis]
enabled = true
type = "davis"
interval = 60
serial = "/dev/ttyUSB0"
baud = 19200

[sensors.wind]
enabled = true
source = "davis:wind_speed"
min = 40.0
max = 0.0
`)

	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "max") {
		t.Errorf("want inverted-range startup error, got %v", err)
	}
}
