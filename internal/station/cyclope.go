package station

import (
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
)

// Cyclope datum names.
const (
	DatumSeeingZenith = "seeing_zenith"
	DatumR0           = "r0"
)

var cyclopeDatums = []string{DatumSeeingZenith, DatumR0}

var (
	cyclopeValidRe  = regexp.MustCompile(`<IS_Valid=(True|False)>`)
	cyclopeZenithRe = regexp.MustCompile(`<Last_ZenithArcsec=([-+]?[0-9]*\.?[0-9]+)>`)
	// The instrument spells it "R0Arcsed" on the wire.
	cyclopeR0Re = regexp.MustCompile(`<Last_R0Arcsed=([-+]?[0-9]*\.?[0-9]+)>`)
)

// Cyclope polls the seeing monitor's TCP text protocol: a numeric
// greeting, then SysRequest commands answered with a status-code line.
type Cyclope struct {
	*Base
	dial func() (net.Conn, error)

	connMu sync.Mutex
	conn   net.Conn
}

// NewCyclope builds the station.
func NewCyclope(cfg *config.StationConfig, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Cyclope {
	c := &Cyclope{}
	c.Base = newBase(cfg, cyclopeDatums, capacity, sensors, saver, wg)
	c.dial = func() (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.Timeout}
		return d.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	}
	c.Base.fetch = c.fetcher
	c.Base.onStop = c.closeConn
	return c
}

func (c *Cyclope) setConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Cyclope) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// fetcher connects (retrying briefly inside the tick), validates the
// greeting and runs the GetData and SysStatus exchanges.
func (c *Cyclope) fetcher() (*readings.Reading, error) {
	var conn net.Conn
	connect := func() error {
		var err error
		conn, err = c.dial()
		return err
	}
	if err := backoff.Retry(connect, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)); err != nil {
		return nil, fmt.Errorf("connecting to %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	c.setConn(conn)
	defer c.closeConn()

	deadline := c.cfg.Timeout
	if deadline <= 0 {
		deadline = 2 * time.Second
	}

	greeting, err := c.recv(conn, deadline)
	if err != nil {
		return nil, fmt.Errorf("reading greeting: %w", err)
	}
	if len(greeting) < 3 || greeting[:3] != "200" {
		return nil, fmt.Errorf("expected greeting 200, got %q", firstLine(greeting))
	}

	data, err := c.exchange(conn, "SysRequest <GetData>", deadline)
	if err != nil {
		return nil, err
	}

	if _, err := c.exchange(conn, "SysRequest <SysStatus>", deadline); err != nil {
		log.Warnf("station %s: SysStatus failed: %v", c.cfg.Name, err)
	}

	if m := cyclopeValidRe.FindStringSubmatch(data); m != nil && m[1] == "False" {
		log.Infof("station %s: monitor reports no valid measurement", c.cfg.Name)
		return nil, nil
	}

	zenith, err := matchFloat(cyclopeZenithRe, data)
	if err != nil {
		return nil, fmt.Errorf("no zenith seeing in reply: %w", err)
	}
	r0, err := matchFloat(cyclopeR0Re, data)
	if err != nil {
		return nil, fmt.Errorf("no r0 in reply: %w", err)
	}

	r := readings.NewReading()
	r.Datums[DatumSeeingZenith] = zenith
	r.Datums[DatumR0] = r0
	return &r, nil
}

// exchange sends one command and returns the payload after the
// mandatory "201\n" status line.
func (c *Cyclope) exchange(conn net.Conn, command string, deadline time.Duration) (string, error) {
	conn.SetWriteDeadline(time.Now().Add(deadline))
	if _, err := conn.Write([]byte(command)); err != nil {
		return "", fmt.Errorf("sending %q: %w", command, err)
	}

	resp, err := c.recv(conn, deadline)
	if err != nil {
		return "", fmt.Errorf("reply to %q: %w", command, err)
	}
	if len(resp) < 4 || resp[:4] != "201\n" {
		return "", fmt.Errorf("sent %q, expected reply 201, got %q", command, firstLine(resp))
	}
	return resp[4:], nil
}

func (c *Cyclope) recv(conn net.Conn, deadline time.Duration) (string, error) {
	conn.SetReadDeadline(time.Now().Add(deadline))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}

func matchFloat(re *regexp.Regexp, s string) (float64, error) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("pattern %v not found", re)
	}
	return strconv.ParseFloat(m[1], 64)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
