package station

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
	"github.com/obswx/safetyd/pkg/crc16"
)

const (
	// davisACK precedes the LOOP payload.
	davisACK = 0x06

	// loopFrameLen is the fixed size of a LOOP telemetry frame,
	// CRC trailer included.
	loopFrameLen = 99

	wakeupTries = 3
)

// VantagePro datum names.
const (
	DatumBarometer      = "barometer"
	DatumInsideTemp     = "inside_temperature"
	DatumInsideHumidity = "inside_humidity"
	DatumOutsideTemp    = "outside_temperature"
	DatumWindSpeed      = "wind_speed"
	DatumWindDirection  = "wind_direction"
	DatumOutsideHum     = "outside_humidity"
	DatumRainRate       = "rain_rate"
	DatumUV             = "uv"
	DatumSolarRadiation = "solar_radiation"
)

var vantageProDatums = []string{
	DatumBarometer,
	DatumInsideTemp,
	DatumInsideHumidity,
	DatumOutsideTemp,
	DatumWindSpeed,
	DatumWindDirection,
	DatumOutsideHum,
	DatumRainRate,
	DatumUV,
	DatumSolarRadiation,
}

// VantagePro polls a Davis VantagePro console over a serial port, or
// over TCP when host and port are configured: wakeup handshake, LOOP 1
// command, one CRC-verified 99-byte frame per tick.
type VantagePro struct {
	*Base
	open portOpener

	connMu sync.Mutex
	conn   io.ReadWriteCloser
}

// NewVantagePro builds the station. capacity is the fifo depth derived
// from the sensors bound to it.
func NewVantagePro(cfg *config.StationConfig, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *VantagePro {
	v := &VantagePro{}
	v.Base = newBase(cfg, vantageProDatums, capacity, sensors, saver, wg)
	if cfg.Transport() == config.TransportIP {
		v.open = tcpOpener(cfg)
	} else {
		v.open = serialOpener(cfg)
	}
	v.Base.fetch = v.fetcher
	v.Base.onStop = v.closeConn
	return v
}

// AssignPort fixes the device path chosen by the detector.
func (v *VantagePro) AssignPort(device string) {
	v.cfg.Serial = device
}

func (v *VantagePro) setConn(c io.ReadWriteCloser) {
	v.connMu.Lock()
	v.conn = c
	v.connMu.Unlock()
}

func (v *VantagePro) closeConn() {
	v.connMu.Lock()
	defer v.connMu.Unlock()
	if v.conn != nil {
		v.conn.Close()
		v.conn = nil
	}
}

// fetcher acquires one LOOP frame. The port is opened and closed every
// tick so a wedged adapter recovers on the next interval.
func (v *VantagePro) fetcher() (*readings.Reading, error) {
	rw, err := v.open()
	if err != nil {
		return nil, err
	}
	v.setConn(rw)
	defer func() {
		v.closeConn()
	}()

	if err := davisWake(rw); err != nil {
		return nil, err
	}

	if _, err := rw.Write([]byte("LOOP 1\n")); err != nil {
		return nil, fmt.Errorf("sending LOOP: %w", err)
	}

	one := make([]byte, 1)
	if err := readFull(rw, one); err != nil {
		return nil, fmt.Errorf("reading LOOP ack: %w", err)
	}
	if one[0] != davisACK {
		return nil, fmt.Errorf("no <ACK> received from console, got %#02x", one[0])
	}

	frame := make([]byte, loopFrameLen)
	if err := readFull(rw, frame); err != nil {
		return nil, fmt.Errorf("reading LOOP frame: %w", err)
	}

	datums, err := ParseLoopFrame(frame)
	if err != nil {
		return nil, err
	}

	r := readings.NewReading()
	r.Datums = datums
	return &r, nil
}

// davisWake sends the wakeup newline and expects the console's
// LF CR reply, retrying a few times for a drowsy console.
func davisWake(rw io.ReadWriter) error {
	for try := 1; try <= wakeupTries; try++ {
		if _, err := rw.Write([]byte("\n")); err != nil {
			return fmt.Errorf("sending wakeup: %w", err)
		}

		resp := make([]byte, 2)
		if err := readFull(rw, resp); err != nil {
			log.Debugf("wakeup try %d: %v", try, err)
			continue
		}
		if resp[0] == 0x0a && resp[1] == 0x0d {
			return nil
		}
		log.Debugf("wakeup try %d: unexpected reply %#02x %#02x", try, resp[0], resp[1])
	}
	return fmt.Errorf("console did not wake after %d tries", wakeupTries)
}

// Probe implements the Davis auto-detect handshake: a woken console
// echoes TEST back framed in CR/LF.
func (v *VantagePro) Probe(rw io.ReadWriteCloser) bool {
	if err := davisWake(rw); err != nil {
		return false
	}
	if _, err := rw.Write([]byte("TEST\n")); err != nil {
		return false
	}

	buf := make([]byte, 16)
	total := 0
	for total < len(buf) {
		n, err := rw.Read(buf[total:])
		if err != nil || n == 0 {
			break
		}
		total += n
		if strings.Contains(string(buf[:total]), "\rTEST\n") {
			return true
		}
	}
	return strings.Contains(string(buf[:total]), "\rTEST\n")
}

// ParseLoopFrame decodes one 99-byte LOOP frame into datum values. The
// frame must pass the CRC-16/XMODEM check: a valid frame, trailer
// included, sums to zero.
func ParseLoopFrame(frame []byte) (map[string]float64, error) {
	if len(frame) != loopFrameLen {
		return nil, fmt.Errorf("LOOP frame is %d bytes, want %d", len(frame), loopFrameLen)
	}
	if crc16.Crc16(frame) != 0 {
		return nil, fmt.Errorf("LOOP frame failed CRC check")
	}

	barometerRaw := binary.LittleEndian.Uint16(frame[7:9])            // 0.001 inHg
	insideTempRaw := int16(binary.LittleEndian.Uint16(frame[9:11]))   // 0.1 F
	outsideTempRaw := int16(binary.LittleEndian.Uint16(frame[12:14])) // 0.1 F
	windDir := binary.LittleEndian.Uint16(frame[16:18])
	solarRad := binary.LittleEndian.Uint16(frame[44:46])

	return map[string]float64{
		DatumBarometer:      float64(barometerRaw) * 0.0338639, // -> millibar
		DatumInsideTemp:     fahrenheitToCelsius(float64(insideTempRaw) / 10),
		DatumInsideHumidity: float64(frame[11]),
		DatumOutsideTemp:    fahrenheitToCelsius(float64(outsideTempRaw) / 10),
		DatumWindSpeed:      mphToKph(float64(frame[14])),
		DatumWindDirection:  float64(windDir),
		DatumOutsideHum:     float64(frame[33]),
		DatumRainRate:       float64(frame[41]) * 0.254, // 0.01 in/h -> mm/h
		DatumUV:             float64(frame[43]),
		DatumSolarRadiation: float64(solarRad),
	}, nil
}

func fahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}

func mphToKph(mph float64) float64 {
	return mph * 1.60934
}

// BuildLoopFrame synthesizes a CRC-correct LOOP frame from datum
// values, for emulators and tests. Values are encoded with the same
// offsets and raw units ParseLoopFrame expects.
func BuildLoopFrame(barometerRaw uint16, insideTempTenthsF, outsideTempTenthsF int16,
	insideHumidity, windMph byte, windDir uint16, outsideHumidity, rainRateRaw, uv byte,
	solarRad uint16) []byte {

	frame := make([]byte, loopFrameLen)
	copy(frame, "LOO")
	frame[3] = 'P'
	binary.LittleEndian.PutUint16(frame[7:9], barometerRaw)
	binary.LittleEndian.PutUint16(frame[9:11], uint16(insideTempTenthsF))
	frame[11] = insideHumidity
	binary.LittleEndian.PutUint16(frame[12:14], uint16(outsideTempTenthsF))
	frame[14] = windMph
	binary.LittleEndian.PutUint16(frame[16:18], windDir)
	frame[33] = outsideHumidity
	frame[41] = rainRateRaw
	frame[43] = uv
	binary.LittleEndian.PutUint16(frame[44:46], solarRad)
	frame[95] = 0x0a
	frame[96] = 0x0d
	binary.BigEndian.PutUint16(frame[97:99], crc16.Crc16(frame[:97]))
	return frame
}

var _ SerialProber = (*VantagePro)(nil)
