package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
[location]
latitude = 30.597
longitude = 34.763
elevation = 876.0

[server]
host = "127.0.0.1"
port = 8001

[logging]
debug = true

[database]
host = "localhost"
name = "safety"
user = "safety"
password = "secret"
schema = "public"

[stations.davis]
enabled = true
type = "davis"
interval = 60
serial = "/dev/ttyUSB0"
baud = 19200
timeout = 2.0

[stations.cyclope]
enabled = true
type = "cyclope"
interval = 30
host = "192.168.1.4"
port = 10001

[stations.stardust]
enabled = false
type = "tessw"
interval = 60
host = "192.168.1.9"
port = 80

[stations.internal]
enabled = true
type = "internal"
interval = 30
human-intervention-file = "/tmp/human_intervention.json"

[sensors.wind]
enabled = true
source = "davis:wind_speed"
min = 0.0
max = 40.0
nreadings = 3
settling = 30.0

[sensors.seeing]
enabled = true
source = "cyclope:seeing_zenith"
min = 0.0
max = 3.5

[sensors.clouds]
enabled = true
source = "stardust:cover"
min = 0.0
max = 50.0

[sensors.sun]
enabled = true
source = "internal:sun-elevation"
dawn = 0.0
dusk = -5.0

[global]
projects = ["last", "mast"]

[last.sensors.wind]
max = 30.0
`

func loadSample(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safety.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLoadSections(t *testing.T) {
	cfg := loadSample(t, sampleConfig)

	if cfg.Location.Latitude != 30.597 {
		t.Errorf("latitude = %v", cfg.Location.Latitude)
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("server port = %v", cfg.Server.Port)
	}
	if cfg.Database == nil || cfg.Database.Name != "safety" {
		t.Errorf("database section not parsed: %+v", cfg.Database)
	}
	if !cfg.Logging.Debug {
		t.Error("logging.debug should be true")
	}

	davis := cfg.Stations["davis"]
	if davis == nil || davis.Transport() != TransportSerial {
		t.Fatalf("davis should be a serial station: %+v", davis)
	}
	if davis.Interval != 60*time.Second || davis.Timeout != 2*time.Second {
		t.Errorf("davis timing = %v/%v", davis.Interval, davis.Timeout)
	}
	if cfg.Stations["cyclope"].Transport() != TransportIP {
		t.Error("cyclope should be an ip station")
	}
	if cfg.Stations["internal"].Transport() != TransportInternal {
		t.Error("internal should have no transport")
	}
}

func TestProjectSeedingAndOverride(t *testing.T) {
	cfg := loadSample(t, sampleConfig)

	if got := cfg.Projects[0]; got != DefaultProject {
		t.Fatalf("first project = %q, want default", got)
	}

	def := cfg.ProjectSensors["default"]["wind"]
	last := cfg.ProjectSensors["last"]["wind"]
	mast := cfg.ProjectSensors["mast"]["wind"]

	if def.Max != 40.0 || mast.Max != 40.0 {
		t.Errorf("default/mast wind max = %v/%v, want 40", def.Max, mast.Max)
	}
	if last.Max != 30.0 {
		t.Errorf("last wind max = %v, want override 30", last.Max)
	}
	// Unmodified fields are inherited.
	if last.Min != 0.0 || last.NReadings != 3 || last.Settling != 30*time.Second {
		t.Errorf("last wind inherited fields wrong: %+v", last)
	}
	if last.Source != "davis:wind_speed" || last.Datum != "wind_speed" {
		t.Errorf("last wind source = %q/%q", last.Source, last.Datum)
	}

	// Seeds are deep copies, not shared pointers.
	if def == last || def == mast {
		t.Error("project sensor sets must be independent copies")
	}
}

func TestSensorOnDisabledStationIsDisabled(t *testing.T) {
	cfg := loadSample(t, sampleConfig)

	clouds := cfg.ProjectSensors["default"]["clouds"]
	if clouds.Enabled {
		t.Error("sensor on a disabled station should be disabled")
	}
	if len(cfg.Warnings) == 0 {
		t.Error("disabling should be diagnosed in Warnings")
	}
}

func TestStationsInUseAndFifoCapacity(t *testing.T) {
	cfg := loadSample(t, sampleConfig)

	inUse := cfg.StationsInUse()
	want := map[string]bool{"davis": true, "cyclope": true, "internal": true}
	if len(inUse) != len(want) {
		t.Fatalf("stations in use = %v", inUse)
	}
	for _, n := range inUse {
		if !want[n] {
			t.Errorf("unexpected station in use: %s", n)
		}
	}

	if got := cfg.FifoCapacity("davis"); got != 3 {
		t.Errorf("davis fifo capacity = %d, want 3 (wind nreadings)", got)
	}
	if got := cfg.FifoCapacity("cyclope"); got != 1 {
		t.Errorf("cyclope fifo capacity = %d, want 1", got)
	}
}

func TestLoadRejectsBrokenConfigs(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "enabled serial station without baud",
			body: `
[stations.davis]
enabled = true
type = "davis"
serial = "/dev/ttyUSB0"
`,
		},
		{
			name: "sensor with malformed source",
			body: `
[stations.internal]
enabled = true
type = "internal"

[sensors.sun]
source = "sun-elevation"
`,
		},
		{
			name: "sensor naming unknown station",
			body: `
[stations.internal]
enabled = true
type = "internal"

[sensors.wind]
source = "davis:wind_speed"
`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "safety.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}
