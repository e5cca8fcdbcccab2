package station

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/tarm/serial"

	"github.com/obswx/safetyd/pkg/config"
)

// portOpener abstracts the serial transport so the drivers can be
// exercised against an in-memory peer.
type portOpener func() (io.ReadWriteCloser, error)

// serialOpener opens the configured device for one tick. ReadTimeout
// bounds every read so a dead console fails the tick instead of
// wedging the loop.
func serialOpener(cfg *config.StationConfig) portOpener {
	return func() (io.ReadWriteCloser, error) {
		c := &serial.Config{
			Name:        cfg.Serial,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.Timeout,
		}
		port, err := serial.OpenPort(c)
		if err != nil {
			return nil, fmt.Errorf("opening %s at %d baud: %w", cfg.Serial, cfg.Baud, err)
		}
		return port, nil
	}
}

// deadlineConn bounds every read and write on a TCP transport with the
// station's per-operation timeout.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c deadlineConn) Read(b []byte) (int, error) {
	c.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

func (c deadlineConn) Write(b []byte) (int, error) {
	c.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(b)
}

// tcpOpener dials the configured console address for one tick. Used by
// consoles reachable through a serial-to-network bridge.
func tcpOpener(cfg *config.StationConfig) portOpener {
	return func() (io.ReadWriteCloser, error) {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		d := net.Dialer{Timeout: timeout}
		conn, err := d.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
		if err != nil {
			return nil, fmt.Errorf("connecting to %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		return deadlineConn{Conn: conn, timeout: timeout}, nil
	}
}

// SerialProber is implemented by stations that can identify their
// device over the wire, for startup port auto-detection.
type SerialProber interface {
	Station
	// Probe performs the station's id handshake against an open port.
	Probe(rw io.ReadWriteCloser) bool
	// AssignPort fixes the detected device path.
	AssignPort(device string)
}

// readFull fills buf, treating a zero-byte read (a serial timeout) as
// an error so callers never spin.
func readFull(r io.Reader, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("read timed out after %d of %d bytes", total, len(buf))
		}
		total += n
	}
	return nil
}

// readLine reads up to and including a newline, or until the port
// times out. The line is returned without trailing CR/LF.
func readLine(r io.Reader) (string, error) {
	var line []byte
	one := make([]byte, 1)
	for {
		n, err := r.Read(one)
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				break
			}
			return "", err
		}
		if n == 0 {
			if len(line) > 0 {
				break
			}
			return "", fmt.Errorf("read timed out waiting for a line")
		}
		if one[0] == '\n' {
			break
		}
		line = append(line, one[0])
	}
	for len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return string(line), nil
}

// settle pauses between a query write and the device's reply.
func settle(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
