// Package config loads and validates the daemon's declarative TOML
// configuration: site location, HTTP server, optional database, the
// station roster, the default sensor set and per-project overrides.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
)

// DefaultProject is always present; per-project sensor sets are seeded
// from its sensors.
const DefaultProject = "default"

// TransportKind classifies a station by its configured transport fields.
type TransportKind int

const (
	TransportInternal TransportKind = iota
	TransportSerial
	TransportIP
)

func (t TransportKind) String() string {
	switch t {
	case TransportSerial:
		return "serial"
	case TransportIP:
		return "ip"
	default:
		return "internal"
	}
}

// Location is the observatory site, used by the internal station.
type Location struct {
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`
	Elevation float64 `koanf:"elevation"`
}

// Server is the HTTP listener address.
type Server struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// Logging selects debug level and an optional rotating log file.
type Logging struct {
	Debug bool   `koanf:"debug"`
	File  string `koanf:"file"`
}

// Database describes the optional readings store.
type Database struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Schema   string `koanf:"schema"`
}

// DSN renders the postgres connection string.
func (d *Database) DSN() string {
	port := d.Port
	if port == 0 {
		port = 5432
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		d.Host, port, d.Name, d.User, d.Password)
	if d.Schema != "" {
		dsn += " search_path=" + d.Schema
	}
	return dsn
}

// StationConfig is one entry of the [stations] table.
type StationConfig struct {
	Name     string
	Enabled  bool
	Type     string
	Interval time.Duration

	// serial transport
	Serial  string
	Baud    int
	Timeout time.Duration

	// ip transport
	Host string
	Port int

	// tessw wifi guard
	SSID          string
	WifiInterface string

	// internal station
	HumanInterventionFile string
}

// Transport classifies the station: a serial device or baud rate means
// serial, otherwise a host or port means ip, and no transport field at
// all means internal. validate reports an incomplete field pair.
func (s *StationConfig) Transport() TransportKind {
	if s.Serial != "" || s.Baud != 0 {
		return TransportSerial
	}
	if s.Host != "" || s.Port != 0 {
		return TransportIP
	}
	return TransportInternal
}

// SensorConfig is one sensor's tuning for one project.
type SensorConfig struct {
	Name    string
	Project string
	Enabled bool

	Source  string
	Station string
	Datum   string

	Min       float64
	Max       float64
	NReadings int
	Settling  time.Duration

	Dawn float64
	Dusk float64
}

// clone returns a deep copy suitable for project-level overriding.
func (s *SensorConfig) clone() *SensorConfig {
	c := *s
	return &c
}

// Config is the fully loaded and validated configuration.
type Config struct {
	Path     string
	Location Location
	Server   Server
	Logging  Logging
	Database *Database // nil when persistence is disabled
	StateDir string

	Stations map[string]*StationConfig
	Sensors  map[string]*SensorConfig // the default sensor set

	Projects       []string // always starts with "default"
	ProjectSensors map[string]map[string]*SensorConfig

	// Warnings collects non-fatal findings (unknown override names and
	// the like) for the caller to log.
	Warnings []string
}

// Load reads, parses and validates the TOML configuration at path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return parse(k, path)
}

func parse(k *koanf.Koanf, path string) (*Config, error) {
	cfg := &Config{
		Path:           path,
		Stations:       make(map[string]*StationConfig),
		Sensors:        make(map[string]*SensorConfig),
		ProjectSensors: make(map[string]map[string]*SensorConfig),
	}

	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if err := k.Unmarshal("location", &cfg.Location); err != nil {
		fail("bad [location] section: %v", err)
	}
	if err := k.Unmarshal("server", &cfg.Server); err != nil {
		fail("bad [server] section: %v", err)
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if err := k.Unmarshal("logging", &cfg.Logging); err != nil {
		fail("bad [logging] section: %v", err)
	}
	if k.Exists("database") {
		db := &Database{}
		if err := k.Unmarshal("database", db); err != nil {
			fail("bad [database] section: %v", err)
		} else {
			cfg.Database = db
		}
	}
	cfg.StateDir = k.String("global.state-dir")

	// Stations
	for _, name := range childTables(k, "stations") {
		cfg.Stations[name] = parseStation(k, name, fail)
	}

	// Default sensors
	for _, name := range childTables(k, "sensors") {
		cfg.Sensors[name] = parseSensor(k, "sensors."+name, name, DefaultProject, nil, fail)
	}

	// Projects: "default" first, then the declared list.
	cfg.Projects = []string{DefaultProject}
	for _, p := range k.Strings("global.projects") {
		if p != DefaultProject {
			cfg.Projects = append(cfg.Projects, p)
		}
	}

	// Seed each project with a deep copy of the default sensors, then
	// apply the project's overrides. Unknown override names are
	// diagnostic, not fatal.
	for _, project := range cfg.Projects {
		set := make(map[string]*SensorConfig, len(cfg.Sensors))
		for name, s := range cfg.Sensors {
			c := s.clone()
			c.Project = project
			set[name] = c
		}
		if project != DefaultProject {
			for _, name := range childTables(k, project+".sensors") {
				base, ok := set[name]
				if !ok {
					cfg.Warnings = append(cfg.Warnings,
						fmt.Sprintf("project %q overrides unknown sensor %q; ignored", project, name))
					continue
				}
				set[name] = parseSensor(k, project+".sensors."+name, name, project, base, fail)
			}
		}
		cfg.ProjectSensors[project] = set
	}

	cfg.validate(fail)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s: invalid configuration:\n  - %s",
			path, strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

func parseStation(k *koanf.Koanf, name string, fail func(string, ...interface{})) *StationConfig {
	p := "stations." + name + "."
	s := &StationConfig{
		Name:                  name,
		Enabled:               k.Bool(p + "enabled"),
		Type:                  k.String(p + "type"),
		Interval:              secondsDuration(k, p+"interval", 60*time.Second),
		Serial:                k.String(p + "serial"),
		Baud:                  k.Int(p + "baud"),
		Timeout:               secondsDuration(k, p+"timeout", 2*time.Second),
		Host:                  k.String(p + "host"),
		Port:                  k.Int(p + "port"),
		SSID:                  k.String(p + "ssid"),
		WifiInterface:         k.String(p + "wifi-interface"),
		HumanInterventionFile: k.String(p + "human-intervention-file"),
	}
	if s.Type == "" {
		fail("station %q: missing required key 'type'", name)
	}
	if s.Interval <= 0 {
		fail("station %q: interval must be positive", name)
	}
	return s
}

// parseSensor reads a sensor table. When base is non-nil the table is a
// project override layered over a copy of base: only keys present in
// the file replace the inherited values.
func parseSensor(k *koanf.Koanf, path, name, project string, base *SensorConfig, fail func(string, ...interface{})) *SensorConfig {
	var s *SensorConfig
	if base != nil {
		s = base.clone()
	} else {
		s = &SensorConfig{Enabled: true, NReadings: 1}
	}
	s.Name = name
	s.Project = project

	p := path + "."
	if k.Exists(p + "enabled") {
		s.Enabled = k.Bool(p + "enabled")
	}
	if k.Exists(p + "source") {
		s.Source = k.String(p + "source")
	}
	if k.Exists(p + "min") {
		s.Min = k.Float64(p + "min")
	}
	if k.Exists(p + "max") {
		s.Max = k.Float64(p + "max")
	}
	if k.Exists(p + "nreadings") {
		s.NReadings = k.Int(p + "nreadings")
	}
	if k.Exists(p + "settling") {
		s.Settling = time.Duration(k.Float64(p+"settling") * float64(time.Second))
	}
	if k.Exists(p + "dawn") {
		s.Dawn = k.Float64(p + "dawn")
	}
	if k.Exists(p + "dusk") {
		s.Dusk = k.Float64(p + "dusk")
	}

	if s.Source == "" {
		fail("sensor %q (project %q): missing required key 'source'", name, project)
		return s
	}
	parts := strings.SplitN(s.Source, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		fail("sensor %q (project %q): source %q is not station:datum", name, project, s.Source)
		return s
	}
	s.Station, s.Datum = parts[0], parts[1]
	if s.NReadings < 1 {
		fail("sensor %q (project %q): nreadings must be >= 1", name, project)
	}
	return s
}

// validate applies the cross-section rules: sensors must name known
// stations, enabled serial/ip stations must carry their transport
// fields, and sensors on disabled stations are themselves disabled.
func (c *Config) validate(fail func(string, ...interface{})) {
	for name, st := range c.Stations {
		if !st.Enabled {
			continue
		}
		switch st.Transport() {
		case TransportSerial:
			if st.Serial == "" && st.Baud == 0 {
				fail("station %q: serial transport needs 'serial' and 'baud'", name)
			} else if st.Baud == 0 {
				fail("station %q: missing 'baud'", name)
			}
		case TransportIP:
			if st.Host == "" || st.Port == 0 {
				fail("station %q: ip transport needs 'host' and 'port'", name)
			}
		}
	}

	for _, project := range c.Projects {
		for name, s := range c.ProjectSensors[project] {
			if s.Station == "" {
				continue // source errors already reported
			}
			st, ok := c.Stations[s.Station]
			if !ok {
				fail("sensor %q (project %q): unknown station %q", name, project, s.Station)
				continue
			}
			if !st.Enabled && s.Enabled {
				c.Warnings = append(c.Warnings,
					fmt.Sprintf("sensor %q (project %q) uses disabled station %q; sensor disabled", name, project, s.Station))
				s.Enabled = false
			}
		}
	}
}

// StationsInUse returns the names of stations referenced by at least
// one enabled sensor of any project, sorted.
func (c *Config) StationsInUse() []string {
	used := make(map[string]bool)
	for _, set := range c.ProjectSensors {
		for _, s := range set {
			if s.Enabled && s.Station != "" {
				used[s.Station] = true
			}
		}
	}
	names := make([]string, 0, len(used))
	for n := range used {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FifoCapacity returns the history depth station needs: the maximum
// nreadings over the enabled sensors bound to it, at least 1.
func (c *Config) FifoCapacity(station string) int {
	depth := 1
	for _, set := range c.ProjectSensors {
		for _, s := range set {
			if s.Enabled && s.Station == station && s.NReadings > depth {
				depth = s.NReadings
			}
		}
	}
	return depth
}

// childTables lists the immediate child table names under prefix.
func childTables(k *koanf.Koanf, prefix string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, key := range k.Keys() {
		if !strings.HasPrefix(key, prefix+".") {
			continue
		}
		rest := strings.TrimPrefix(key, prefix+".")
		name := strings.SplitN(rest, ".", 2)[0]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// secondsDuration reads a float seconds value with a default.
func secondsDuration(k *koanf.Koanf, key string, def time.Duration) time.Duration {
	if !k.Exists(key) {
		return def
	}
	return time.Duration(k.Float64(key) * float64(time.Second))
}
