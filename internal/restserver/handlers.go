package restserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/stat"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// tstamp renders a timestamp the way every endpoint does: ISO-8601 UTC
// with a trailing Z.
func tstamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

type stationSettingsView struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Enabled         bool     `json:"enabled"`
	Transport       string   `json:"transport"`
	IntervalSeconds float64  `json:"interval_seconds"`
	Serial          string   `json:"serial,omitempty"`
	Baud            int      `json:"baud,omitempty"`
	Host            string   `json:"host,omitempty"`
	Port            int      `json:"port,omitempty"`
	Datums          []string `json:"datums,omitempty"`
}

func stationSettings(cfg *config.StationConfig, datums []string) stationSettingsView {
	return stationSettingsView{
		Name:            cfg.Name,
		Type:            cfg.Type,
		Enabled:         cfg.Enabled,
		Transport:       cfg.Transport().String(),
		IntervalSeconds: cfg.Interval.Seconds(),
		Serial:          cfg.Serial,
		Baud:            cfg.Baud,
		Host:            cfg.Host,
		Port:            cfg.Port,
		Datums:          datums,
	}
}

type readingView struct {
	Tstamp string             `json:"tstamp"`
	Datums map[string]float64 `json:"datums"`
}

func readingViews(rs []readings.Reading) []readingView {
	out := make([]readingView, len(rs))
	for i, r := range rs {
		out[i] = readingView{Tstamp: tstamp(r.Tstamp), Datums: r.Datums}
	}
	return out
}

func (s *Server) handleConfig(w http.ResponseWriter, req *http.Request) {
	stations := make(map[string]stationSettingsView, len(s.cfg.Stations))
	for name, st := range s.cfg.Stations {
		var datums []string
		if live, ok := s.stations[name]; ok {
			datums = live.Datums()
		}
		stations[name] = stationSettings(st, datums)
	}

	view := map[string]interface{}{
		"file":     s.cfg.Path,
		"location": s.cfg.Location,
		"server":   s.cfg.Server,
		"projects": s.cfg.Projects,
		"stations": stations,
		"database": s.cfg.Database != nil, // presence only, never credentials
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStations(w http.ResponseWriter, req *http.Request) {
	known := make([]string, 0, len(s.cfg.Stations))
	enabled := make([]string, 0, len(s.cfg.Stations))
	for name, st := range s.cfg.Stations {
		known = append(known, name)
		if st.Enabled {
			enabled = append(enabled, name)
		}
	}

	writeJSON(w, http.StatusOK, map[string][]string{
		"known":   known,
		"enabled": enabled,
		"in_use":  s.cfg.StationsInUse(),
	})
}

func (s *Server) handleStationDetail(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]

	cfg, ok := s.cfg.Stations[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown station "+name)
		return
	}

	view := map[string]interface{}{}
	if live, ok := s.stations[name]; ok {
		view["settings"] = stationSettings(cfg, live.Datums())
		view["readings"] = readingViews(live.SnapshotReadings())
	} else {
		view["settings"] = stationSettings(cfg, nil)
		view["readings"] = []readingView{}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleProjects(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Projects())
}

type sensorView struct {
	Name         string                 `json:"name"`
	Project      string                 `json:"project"`
	Enabled      bool                   `json:"enabled"`
	Source       string                 `json:"source"`
	Safe         bool                   `json:"safe"`
	Reasons      []string               `json:"reasons"`
	Settings     map[string]interface{} `json:"settings"`
	LatestValues []float64              `json:"latest_values,omitempty"`
}

func (s *Server) sensorView(sensor *safety.Sensor) sensorView {
	v := sensor.Verdict()
	view := sensorView{
		Name:     sensor.Name,
		Project:  sensor.Project,
		Enabled:  sensor.Enabled,
		Source:   sensor.Station + ":" + sensor.Datum,
		Safe:     v.Safe,
		Reasons:  v.Reasons,
		Settings: ruleSettings(sensor),
	}

	if st, ok := s.registry.Station(sensor.Station); ok {
		if values, err := st.LatestReadings(sensor.Datum, sensor.Rule.NReadings()); err == nil {
			view.LatestValues = values
		}
	}
	return view
}

func ruleSettings(sensor *safety.Sensor) map[string]interface{} {
	switch r := sensor.Rule.(type) {
	case *safety.MinMax:
		return map[string]interface{}{
			"mode":             "minmax",
			"min":              r.Min,
			"max":              r.Max,
			"nreadings":        r.Readings,
			"settling_seconds": r.Settling.Seconds(),
		}
	case *safety.SunElevation:
		return map[string]interface{}{
			"mode": "sun-elevation",
			"dawn": r.Dawn,
			"dusk": r.Dusk,
		}
	case *safety.HumanIntervention:
		return map[string]interface{}{
			"mode": "human-intervention",
			"file": r.File,
		}
	default:
		return map[string]interface{}{"mode": "unknown"}
	}
}

func (s *Server) handleProjectSensors(w http.ResponseWriter, req *http.Request) {
	project := mux.Vars(req)["project"]

	sensors, err := s.registry.Sensors(project)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	views := make([]sensorView, 0, len(sensors))
	for _, sensor := range sensors {
		views = append(views, s.sensorView(sensor))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSensorDetail(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	project, name := vars["project"], vars["name"]

	sensor, err := s.registry.Sensor(project, name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	view := map[string]interface{}{
		"sensor": s.sensorView(sensor),
	}

	if settling, remaining := sensor.Settling(time.Now()); settling {
		view["settling_remaining_seconds"] = remaining.Seconds()
	}

	if st, ok := s.registry.Station(sensor.Station); ok {
		view["station_interval_seconds"] = st.Interval().Seconds()
		if live, ok := s.stations[sensor.Station]; ok {
			snapshot := live.SnapshotReadings()
			times := make([]string, 0, len(snapshot))
			var values []float64
			for _, r := range snapshot {
				times = append(times, tstamp(r.Tstamp))
				if v, ok := r.Datums[sensor.Datum]; ok {
					values = append(values, v)
				}
			}
			view["reading_times"] = times
			if len(values) > 0 {
				view["mean_value"] = stat.Mean(values, nil)
			}
		}
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) isSafe(w http.ResponseWriter, project string) {
	resp, err := s.registry.IsSafe(project)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProjectIsSafe(w http.ResponseWriter, req *http.Request) {
	s.isSafe(w, mux.Vars(req)["project"])
}

func (s *Server) handleDefaultIsSafe(w http.ResponseWriter, req *http.Request) {
	s.isSafe(w, config.DefaultProject)
}

func (s *Server) handleInterventionCreate(w http.ResponseWriter, req *http.Request) {
	if s.intervention == nil {
		writeError(w, http.StatusNotFound, "no internal station configured")
		return
	}
	reason := req.URL.Query().Get("reason")
	if reason == "" {
		writeError(w, http.StatusBadRequest, "missing reason query parameter")
		return
	}
	if err := s.intervention.Create(reason); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Infow("human intervention asserted", "reason", reason)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"file":   s.intervention.Path(),
		"reason": reason,
	})
}

func (s *Server) handleInterventionRemove(w http.ResponseWriter, req *http.Request) {
	if s.intervention == nil {
		writeError(w, http.StatusNotFound, "no internal station configured")
		return
	}
	if err := s.intervention.Remove(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("human intervention cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
