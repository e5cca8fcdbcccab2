package safety

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the process-wide lookup of stations by name and sensors
// by project. It is populated during startup wiring and read-only
// afterwards; stations own their sensors, the registry only holds
// lookup maps.
type Registry struct {
	mu       sync.RWMutex
	stations map[string]StationView
	sensors  map[string][]*Sensor // by project
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stations: make(map[string]StationView),
		sensors:  make(map[string][]*Sensor),
	}
}

// AddStation registers a constructed station under its name.
func (r *Registry) AddStation(st StationView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations[st.Name()] = st
}

// Station resolves a station by name.
func (r *Registry) Station(name string) (StationView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stations[name]
	return st, ok
}

// StationNames returns the registered station names, sorted.
func (r *Registry) StationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stations))
	for n := range r.stations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddSensor registers a sensor under its project.
func (r *Registry) AddSensor(s *Sensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensors[s.Project] = append(r.sensors[s.Project], s)
}

// Projects returns the declared project names, sorted with "default"
// first.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sensors))
	for p := range r.sensors {
		if p != "default" {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	return append([]string{"default"}, names...)
}

// Sensors returns the sensors of one project.
func (r *Registry) Sensors(project string) ([]*Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss, ok := r.sensors[project]
	if !ok {
		return nil, fmt.Errorf("unknown project %q", project)
	}
	return ss, nil
}

// Sensor resolves one sensor of one project by name.
func (r *Registry) Sensor(project, name string) (*Sensor, error) {
	ss, err := r.Sensors(project)
	if err != nil {
		return nil, err
	}
	for _, s := range ss {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown sensor %q in project %q", name, project)
}

// IsSafe aggregates the project's enabled sensors: the project is safe
// iff every one of them is safe; otherwise all their reasons are
// collected, each prefixed with the sensor name.
func (r *Registry) IsSafe(project string) (SafetyResponse, error) {
	ss, err := r.Sensors(project)
	if err != nil {
		return SafetyResponse{}, err
	}

	resp := SafetyResponse{Safe: true, Reasons: []string{}}
	for _, s := range ss {
		if !s.Enabled {
			continue
		}
		v := s.Verdict()
		if !v.Safe {
			resp.Safe = false
			for _, reason := range v.Reasons {
				resp.Reasons = append(resp.Reasons, fmt.Sprintf("%s: %s", s.Name, reason))
			}
		}
	}
	return resp, nil
}
