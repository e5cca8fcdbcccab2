package station

import (
	"fmt"
	"sync"

	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
)

// Deps carries the collaborators a station may need at construction.
type Deps struct {
	Location     config.Location
	Intervention *safety.Intervention
	Saver        Saver
	WaitGroup    *sync.WaitGroup
}

// New constructs the station matching cfg.Type. capacity is the fifo
// depth, sensors are the ones whose source names this station.
func New(cfg *config.StationConfig, capacity int, sensors []*safety.Sensor, deps Deps) (Station, error) {
	switch cfg.Type {
	case "davis":
		return NewVantagePro(cfg, capacity, sensors, deps.Saver, deps.WaitGroup), nil
	case "arduino-in":
		return NewInsideArduino(cfg, capacity, sensors, deps.Saver, deps.WaitGroup), nil
	case "arduino-out":
		return NewOutsideArduino(cfg, capacity, sensors, deps.Saver, deps.WaitGroup), nil
	case "cyclope":
		return NewCyclope(cfg, capacity, sensors, deps.Saver, deps.WaitGroup), nil
	case "tessw":
		return NewTessw(cfg, capacity, sensors, deps.Saver, deps.WaitGroup), nil
	case "internal":
		return NewInternal(cfg, deps.Location, deps.Intervention, capacity, sensors, deps.Saver, deps.WaitGroup), nil
	default:
		return nil, fmt.Errorf("station %q: unknown type %q", cfg.Name, cfg.Type)
	}
}

// DatumsForType lists the datums a station type advertises, for
// configuration-time validation of sensor sources.
func DatumsForType(stationType string) ([]string, error) {
	switch stationType {
	case "davis":
		return vantageProDatums, nil
	case "arduino-in":
		return queryDatums(insideQueries), nil
	case "arduino-out":
		return queryDatums(outsideQueries), nil
	case "cyclope":
		return cyclopeDatums, nil
	case "tessw":
		return tesswDatums, nil
	case "internal":
		return internalDatums, nil
	default:
		return nil, fmt.Errorf("unknown station type %q", stationType)
	}
}
