// Package station implements the data-acquisition side of the daemon:
// the Station abstraction with its periodic polling loop, the concrete
// serial, networked and internal stations, and the serial-port
// auto-detection that pairs unclaimed ports with stations at startup.
package station

import (
	"sync"
	"time"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
)

// Saver hands one reading to persistence. Failures are the saver's to
// log; they never reach the acquisition loop.
type Saver func(station string, r readings.Reading)

// Station is one periodically polled data source.
type Station interface {
	safety.StationView

	// Start begins the acquisition loop. Idempotent.
	Start()
	// Stop requests loop termination and unblocks in-flight I/O.
	Stop()

	SnapshotReadings() []readings.Reading
	Settings() *config.StationConfig
	Fifo() *readings.Fifo
}

// fetchFunc produces one Reading or reports a transient failure. A nil
// Reading with nil error means the tick produced nothing to record.
type fetchFunc func() (*readings.Reading, error)

// Base carries the machinery shared by all stations: the bounded
// reading history, the sensors bound to this station, the saver hook
// and the polling loop with its cooperative stop flag.
type Base struct {
	cfg     *config.StationConfig
	datums  []string
	fifo    *readings.Fifo
	sensors []*safety.Sensor
	saver   Saver
	fetch   fetchFunc

	wg        *sync.WaitGroup
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// onStop lets a concrete station close its transport so an
	// in-flight read fails promptly.
	onStop func()
}

// newBase wires the shared station state. capacity is the fifo depth
// computed from the sensors bound to this station.
func newBase(cfg *config.StationConfig, datums []string, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Base {
	return &Base{
		cfg:     cfg,
		datums:  datums,
		fifo:    readings.NewFifo(capacity),
		sensors: sensors,
		saver:   saver,
		wg:      wg,
		stop:    make(chan struct{}),
	}
}

func (b *Base) Name() string                         { return b.cfg.Name }
func (b *Base) Interval() time.Duration              { return b.cfg.Interval }
func (b *Base) Datums() []string                     { return b.datums }
func (b *Base) Settings() *config.StationConfig      { return b.cfg }
func (b *Base) Fifo() *readings.Fifo                 { return b.fifo }
func (b *Base) SnapshotReadings() []readings.Reading { return b.fifo.Snapshot() }

// LatestReadings forwards to the fifo.
func (b *Base) LatestReadings(datum string, n int) ([]float64, error) {
	return b.fifo.Latest(datum, n)
}

// Start launches the acquisition goroutine. Calling Start again is a
// no-op.
func (b *Base) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
}

// Stop sets the stop flag and closes the transport, if any.
func (b *Base) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		if b.onStop != nil {
			b.onStop()
		}
	})
}

// run is the acquisition loop: fetch, evaluate, sleep out the rest of
// the interval. Errors are logged and the next tick retries from
// scratch; nothing aborts the loop but Stop.
func (b *Base) run() {
	defer b.wg.Done()
	log.Infof("station %s: starting acquisition loop (interval %v)", b.cfg.Name, b.cfg.Interval)

	for {
		select {
		case <-b.stop:
			log.Infof("station %s: acquisition loop stopped", b.cfg.Name)
			return
		default:
		}

		t0 := time.Now()

		b.tick()
		b.EvaluateSensors()

		sleep := b.cfg.Interval - time.Since(t0)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-b.stop:
			log.Infof("station %s: acquisition loop stopped", b.cfg.Name)
			return
		case <-time.After(sleep):
		}
	}
}

// tick runs one fetch, pushing and saving the reading on success.
func (b *Base) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("station %s: panic in fetcher: %v", b.cfg.Name, r)
		}
	}()

	r, err := b.fetch()
	if err != nil {
		log.Warnf("station %s: fetch failed: %v", b.cfg.Name, err)
		return
	}
	if r == nil {
		return
	}

	b.fifo.Push(*r)
	if b.saver != nil {
		b.saver(b.cfg.Name, *r)
	}
}

// EvaluateSensors recomputes the verdict of every sensor bound to this
// station. It runs in the acquisition goroutine after each fetch, and
// may additionally be invoked for an immediate re-evaluation (the
// human-intervention watcher does).
func (b *Base) EvaluateSensors() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("station %s: panic evaluating sensors: %v", b.cfg.Name, r)
		}
	}()

	now := time.Now()
	for _, s := range b.sensors {
		if !s.Enabled {
			continue
		}
		s.Evaluate(b, now)
	}
}

// Sensors returns the sensors bound to this station.
func (b *Base) Sensors() []*safety.Sensor {
	return b.sensors
}
