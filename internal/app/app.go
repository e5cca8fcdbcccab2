// Package app assembles the daemon from its parts: configuration,
// sensor registry, stations, persistence, the override watcher and the
// HTTP server, with a context plus WaitGroup lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/obswx/safetyd/internal/database"
	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/restserver"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/internal/station"
	"github.com/obswx/safetyd/pkg/config"
)

// App is the explicitly constructed root value: every component hangs
// off it, nothing hides in package globals.
type App struct {
	cfg          *config.Config
	registry     *safety.Registry
	stations     map[string]station.Station
	db           *database.Client
	intervention *safety.Intervention
	server       *restserver.Server
	wg           sync.WaitGroup
}

// New wires the application. Configuration and wiring errors are
// returned here and abort startup; nothing acquires yet.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: safety.NewRegistry(),
		stations: make(map[string]station.Station),
	}

	for _, warning := range cfg.Warnings {
		log.Warn(warning)
	}

	// The override manager re-evaluates the internal station's sensors
	// the moment the file appears or disappears, so is_safe reflects an
	// operator action without waiting out the polling interval.
	if internalCfg := a.internalStationConfig(); internalCfg != nil && internalCfg.HumanInterventionFile != "" {
		a.intervention = safety.NewIntervention(internalCfg.HumanInterventionFile, func() {
			if st, ok := a.stations[internalCfg.Name]; ok {
				if internal, ok := st.(*station.Internal); ok {
					internal.EvaluateSensors()
				}
			}
		})
	}

	if cfg.Database != nil {
		db, err := database.NewClient(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
	}

	if err := a.buildStations(); err != nil {
		return nil, err
	}

	a.server = restserver.New(cfg, a.registry, a.stations, a.intervention)
	return a, nil
}

// internalStationConfig finds the (single) internal station entry.
func (a *App) internalStationConfig() *config.StationConfig {
	for _, st := range a.cfg.Stations {
		if st.Type == "internal" && st.Enabled {
			return st
		}
	}
	return nil
}

// buildStations validates every sensor source, builds the sensors of
// each project, and constructs only the stations actually in use.
func (a *App) buildStations() error {
	// sensors grouped by owning station, across all projects
	bound := make(map[string][]*safety.Sensor)

	for _, project := range a.cfg.Projects {
		for name, sc := range a.cfg.ProjectSensors[project] {
			stationCfg := a.cfg.Stations[sc.Station]
			if stationCfg == nil {
				return fmt.Errorf("sensor %q (project %q): unknown station %q", name, project, sc.Station)
			}

			datums, err := station.DatumsForType(stationCfg.Type)
			if err != nil {
				return fmt.Errorf("station %q: %w", sc.Station, err)
			}
			if !contains(datums, sc.Datum) {
				return fmt.Errorf("sensor %q (project %q): station %q does not advertise datum %q",
					name, project, sc.Station, sc.Datum)
			}

			rule, err := a.buildRule(sc, stationCfg)
			if err != nil {
				return err
			}

			sensor := safety.NewSensor(name, project, sc.Station, sc.Datum, sc.Enabled, rule)
			a.registry.AddSensor(sensor)
			if sc.Enabled {
				bound[sc.Station] = append(bound[sc.Station], sensor)
			}
		}
	}

	var saver station.Saver
	if a.db != nil {
		saver = a.db.SaveReading
	}

	for _, name := range a.cfg.StationsInUse() {
		stationCfg := a.cfg.Stations[name]
		datums, _ := station.DatumsForType(stationCfg.Type)

		if a.db != nil {
			if err := a.db.EnsureStationTable(name, datums); err != nil {
				return err
			}
		}

		st, err := station.New(stationCfg, a.cfg.FifoCapacity(name), bound[name], station.Deps{
			Location:     a.cfg.Location,
			Intervention: a.intervention,
			Saver:        saver,
			WaitGroup:    &a.wg,
		})
		if err != nil {
			return err
		}
		a.stations[name] = st
		a.registry.AddStation(st)
	}

	log.Infof("constructed %d stations: %v", len(a.stations), a.cfg.StationsInUse())
	return nil
}

// buildRule selects the evaluation mode from the sensor's datum.
func (a *App) buildRule(sc *config.SensorConfig, stationCfg *config.StationConfig) (safety.Rule, error) {
	switch sc.Datum {
	case station.DatumSunElevation:
		return &safety.SunElevation{Dawn: sc.Dawn, Dusk: sc.Dusk}, nil
	case station.DatumHumanIntervention:
		if stationCfg.HumanInterventionFile == "" {
			return nil, fmt.Errorf("sensor %q: station %q has no human-intervention-file", sc.Name, stationCfg.Name)
		}
		return &safety.HumanIntervention{File: stationCfg.HumanInterventionFile}, nil
	default:
		if sc.Enabled && sc.Max <= sc.Min {
			return nil, fmt.Errorf("sensor %q (project %q): max (%g) must be greater than min (%g)",
				sc.Name, sc.Project, sc.Max, sc.Min)
		}
		return &safety.MinMax{
			Min:      sc.Min,
			Max:      sc.Max,
			Readings: sc.NReadings,
			Settling: sc.Settling,
		}, nil
	}
}

// Run starts acquisition and serving, then blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Pair serial ports with stations before any loop starts.
	var serialStations []station.Station
	for _, st := range a.stations {
		serialStations = append(serialStations, st)
	}
	station.DetectSerialPorts(serialStations)

	// Warm the fifos from the last shutdown's checkpoints.
	if a.cfg.StateDir != "" {
		for name, st := range a.stations {
			if err := readings.LoadCheckpoint(a.cfg.StateDir, name, st.Fifo()); err != nil {
				log.Warnf("checkpoint for %s not restored: %v", name, err)
			}
		}
	}

	stop := make(chan struct{})
	if a.intervention != nil {
		if err := a.intervention.Watch(stop); err != nil {
			log.Warnf("intervention watcher not running: %v", err)
		}
	}

	for _, st := range a.stations {
		st.Start()
	}
	a.server.Start()
	log.Info("application started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	close(stop)
	for _, st := range a.stations {
		st.Stop()
	}

	log.Info("waiting for acquisition loops to terminate...")
	a.wg.Wait()

	if a.cfg.StateDir != "" {
		for name, st := range a.stations {
			if err := readings.SaveCheckpoint(a.cfg.StateDir, name, st.Fifo()); err != nil {
				log.Warnf("checkpoint for %s not saved: %v", name, err)
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warnf("closing database: %v", err)
		}
	}

	log.Info("shutdown complete")
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
