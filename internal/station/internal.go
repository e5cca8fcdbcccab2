package station

import (
	"sync"
	"time"

	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
	"github.com/obswx/safetyd/pkg/solar"
)

// Internal station datum names.
const (
	DatumSunElevation      = "sun-elevation"
	DatumHumanIntervention = "human-intervention"
)

var internalDatums = []string{DatumSunElevation, DatumHumanIntervention}

// Internal is the transportless station: its datums are computed
// locally from the site location and the operator-override file.
type Internal struct {
	*Base
	location     config.Location
	intervention *safety.Intervention
}

// NewInternal builds the internal station.
func NewInternal(cfg *config.StationConfig, loc config.Location, intervention *safety.Intervention, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Internal {
	i := &Internal{
		location:     loc,
		intervention: intervention,
	}
	i.Base = newBase(cfg, internalDatums, capacity, sensors, saver, wg)
	i.Base.fetch = i.fetcher
	return i
}

// Intervention exposes the override manager for the HTTP endpoints.
func (i *Internal) Intervention() *safety.Intervention {
	return i.intervention
}

func (i *Internal) fetcher() (*readings.Reading, error) {
	r := readings.NewReading()
	r.Datums[DatumSunElevation] = solar.ElevationDeg(i.location.Latitude, i.location.Longitude, time.Now())

	present := 0.0
	if i.intervention != nil && i.intervention.Present() {
		present = 1.0
	}
	r.Datums[DatumHumanIntervention] = present
	return &r, nil
}
