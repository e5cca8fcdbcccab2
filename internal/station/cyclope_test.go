package station

import (
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obswx/safetyd/pkg/config"
)

func newTestCyclope(conn net.Conn) *Cyclope {
	cfg := &config.StationConfig{
		Name:     "cyclope",
		Enabled:  true,
		Type:     "cyclope",
		Interval: 30 * time.Second,
		Host:     "127.0.0.1",
		Port:     10001,
		Timeout:  time.Second,
	}
	var wg sync.WaitGroup
	c := NewCyclope(cfg, 1, nil, nil, &wg)
	c.dial = func() (net.Conn, error) { return conn, nil }
	return c
}

// serveCyclope runs the instrument side of one fetch on a pipe.
func serveCyclope(t *testing.T, conn net.Conn, getData string) {
	t.Helper()
	go func() {
		defer conn.Close()
		if _, err := conn.Write([]byte("200\n")); err != nil {
			return
		}
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			cmd := string(buf[:n])
			switch {
			case strings.Contains(cmd, "<GetData>"):
				conn.Write([]byte("201\n" + getData))
			case strings.Contains(cmd, "<SysStatus>"):
				conn.Write([]byte("201\n<State=Measuring|4>"))
			default:
				conn.Write([]byte("400\n"))
			}
		}
	}()
}

const cyclopeGetData = `<IS_Valid=True>
<UTC_DateMeasurement=60123.5000000>
<Last_ZenithArcsec=1.42>
<Last_R0Arcsed=8.10>`

func TestCyclopeFetcher(t *testing.T) {
	client, server := net.Pipe()
	serveCyclope(t, server, cyclopeGetData)

	c := newTestCyclope(client)
	r, err := c.fetcher()
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("fetcher returned no reading")
	}
	if math.Abs(r.Datums[DatumSeeingZenith]-1.42) > 1e-9 {
		t.Errorf("seeing_zenith = %v", r.Datums[DatumSeeingZenith])
	}
	if math.Abs(r.Datums[DatumR0]-8.10) > 1e-9 {
		t.Errorf("r0 = %v", r.Datums[DatumR0])
	}
}

func TestCyclopeInvalidMeasurementProducesNoReading(t *testing.T) {
	client, server := net.Pipe()
	serveCyclope(t, server, "<IS_Valid=False>")

	c := newTestCyclope(client)
	r, err := c.fetcher()
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Error("IS_Valid=False must not produce a reading")
	}
}

func TestCyclopeRejectsBadGreeting(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		server.Write([]byte("500\n"))
		server.Close()
	}()

	c := newTestCyclope(client)
	if _, err := c.fetcher(); err == nil {
		t.Error("bad greeting must fail the tick")
	}
}
