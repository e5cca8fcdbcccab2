package station

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/parser"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
)

// arduinoQuery is one datum-group exchange: a query keyword, the
// device's per-query settle delay, the reply template and the datum
// name each template field maps to ("" discards the field).
type arduinoQuery struct {
	name     string
	settle   time.Duration
	template *parser.Template
	datums   []string
}

// The indoor and outdoor sketches answer a fixed set of keyword
// queries, one reply line each.
var insideQueries = []arduinoQuery{
	{"pressure", 100 * time.Millisecond, parser.MustCompile("Pressure: {f} hPa"), []string{"pressure_in"}},
	{"temp", 100 * time.Millisecond, parser.MustCompile("Temperature: {f}°C"), []string{"temperature_in"}},
	{"light", 80 * time.Millisecond, parser.MustCompile("light (Lux): {f}"), []string{"visible_lux_in"}},
	{"gas", 70 * time.Millisecond, parser.MustCompile("CO2: {i} ppm\tTVOC: {i} ppb\tRaw H2: {i} \tRaw Ethanol: {i}"),
		[]string{"co2", "voc", "raw_h2", "raw_ethanol"}},
	{"flame", 50 * time.Millisecond, parser.MustCompile("IR reading: {i}"), []string{"flame"}},
	{"presence", 50 * time.Millisecond, parser.MustCompile("Presence: {i}"), []string{"presence"}},
}

var outsideQueries = []arduinoQuery{
	{"wind", 50 * time.Millisecond, parser.MustCompile("v={f} m/s  dir. {f}°"), []string{"wind_speed", "wind_direction"}},
	{"light", 80 * time.Millisecond, parser.MustCompile("TSL vis(Lux) IR(luminosity): {i} {i}"),
		[]string{"visible_lux_out", "ir_luminosity"}},
	{"pht", 80 * time.Millisecond, parser.MustCompile("P:{f}hPa T:{f}°C RH:{f}% comp RH:{f}% dew point:{f}°C"),
		[]string{"pressure_out", "temperature_out", "humidity_out", "", "dew_point"}},
}

// sketch id strings returned by the "id?" probe.
const (
	insideSketch  = "Indoor_multiQuery"
	outsideSketch = "Outdoor_multiQuery"
)

// Arduino polls one of the observatory's query-driven weather
// Arduinos. The inside and outside units share the protocol and differ
// only in their query tables and sketch id.
type Arduino struct {
	*Base
	open    portOpener
	queries []arduinoQuery
	sketch  string

	connMu sync.Mutex
	conn   io.ReadWriteCloser
}

func newArduino(cfg *config.StationConfig, queries []arduinoQuery, sketch string, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Arduino {
	a := &Arduino{
		queries: queries,
		sketch:  sketch,
	}
	a.Base = newBase(cfg, queryDatums(queries), capacity, sensors, saver, wg)
	a.open = serialOpener(cfg)
	a.Base.fetch = a.fetcher
	a.Base.onStop = a.closeConn
	return a
}

// NewInsideArduino builds the dome-interior station.
func NewInsideArduino(cfg *config.StationConfig, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Arduino {
	return newArduino(cfg, insideQueries, insideSketch, capacity, sensors, saver, wg)
}

// NewOutsideArduino builds the mast station.
func NewOutsideArduino(cfg *config.StationConfig, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Arduino {
	return newArduino(cfg, outsideQueries, outsideSketch, capacity, sensors, saver, wg)
}

func queryDatums(queries []arduinoQuery) []string {
	var names []string
	for _, q := range queries {
		for _, d := range q.datums {
			if d != "" {
				names = append(names, d)
			}
		}
	}
	return names
}

// AssignPort fixes the device path chosen by the detector.
func (a *Arduino) AssignPort(device string) {
	a.cfg.Serial = device
}

func (a *Arduino) setConn(c io.ReadWriteCloser) {
	a.connMu.Lock()
	a.conn = c
	a.connMu.Unlock()
}

func (a *Arduino) closeConn() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// fetcher runs every query group in sequence; a single failed group
// fails the whole tick so a reading never carries a partial datum set.
func (a *Arduino) fetcher() (*readings.Reading, error) {
	rw, err := a.open()
	if err != nil {
		return nil, err
	}
	a.setConn(rw)
	defer a.closeConn()

	r := readings.NewReading()
	for _, q := range a.queries {
		if err := a.runQuery(rw, q, r.Datums); err != nil {
			return nil, fmt.Errorf("query %q: %w", q.name, err)
		}
	}
	r.Tstamp = time.Now().UTC()
	return &r, nil
}

func (a *Arduino) runQuery(rw io.ReadWriter, q arduinoQuery, datums map[string]float64) error {
	request := q.name + "?"
	if _, err := rw.Write([]byte(request + "\r\n")); err != nil {
		return err
	}
	settle(q.settle)

	line, err := readLine(rw)
	if err != nil {
		return err
	}
	// The sketch echoes the request before answering; skip the echo.
	if strings.Contains(line, request) {
		line, err = readLine(rw)
		if err != nil {
			return err
		}
	}

	values, err := q.template.ParseFloats(line)
	if err != nil {
		return err
	}
	for i, name := range q.datums {
		if name == "" {
			continue
		}
		datums[name] = values[i]
	}
	return nil
}

// Probe asks the sketch for its id: the reply line carries the sketch
// filename.
func (a *Arduino) Probe(rw io.ReadWriteCloser) bool {
	if _, err := rw.Write([]byte("id?\r")); err != nil {
		return false
	}
	settle(100 * time.Millisecond)

	for tries := 0; tries < 3; tries++ {
		line, err := readLine(rw)
		if err != nil {
			return false
		}
		if strings.Contains(line, a.sketch) {
			return true
		}
		// keep draining the echo
	}
	log.Debugf("station %s: probe did not find sketch id %q", a.cfg.Name, a.sketch)
	return false
}

var _ SerialProber = (*Arduino)(nil)
