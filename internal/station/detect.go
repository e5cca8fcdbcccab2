package station

import (
	"path/filepath"

	"github.com/tarm/serial"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/pkg/config"
)

// serialPortGlobs are the device patterns scanned for candidate ports
// beyond those named in the configuration.
var serialPortGlobs = []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"}

// DetectSerialPorts pairs serial stations with serial ports before any
// acquisition loop starts. Every candidate port is probed against each
// still-unclaimed station's id handshake; the first station that
// answers claims the port. Stations whose configured port answers keep
// it; stations left unclaimed run on their configured port and fail
// their ticks until the device appears.
func DetectSerialPorts(stations []Station) {
	var probers []SerialProber
	for _, st := range stations {
		p, ok := st.(SerialProber)
		if !ok || p.Settings().Transport() != config.TransportSerial {
			continue
		}
		probers = append(probers, p)
	}
	if len(probers) == 0 {
		return
	}

	claimed := make(map[string]bool) // station name -> claimed
	used := make(map[string]bool)    // port -> taken

	for _, port := range candidatePorts(probers) {
		if used[port] {
			continue
		}
		for _, p := range probers {
			if claimed[p.Name()] {
				continue
			}
			if probePort(p, port) {
				log.Infof("detector: port %s answers as station %s", port, p.Name())
				p.AssignPort(port)
				claimed[p.Name()] = true
				used[port] = true
				break
			}
		}
	}

	for _, p := range probers {
		if !claimed[p.Name()] {
			log.Warnf("detector: no port answered for station %s (configured %s)",
				p.Name(), p.Settings().Serial)
		}
	}
}

// candidatePorts lists ports to probe: configured ports first so a
// correct configuration is confirmed cheaply, then the system scan.
func candidatePorts(probers []SerialProber) []string {
	var ports []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	for _, p := range probers {
		add(p.Settings().Serial)
	}
	for _, glob := range serialPortGlobs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}
	return ports
}

func probePort(p SerialProber, port string) bool {
	cfg := p.Settings()
	sc := &serial.Config{Name: port, Baud: cfg.Baud, ReadTimeout: cfg.Timeout}
	rw, err := serial.OpenPort(sc)
	if err != nil {
		log.Debugf("detector: cannot open %s: %v", port, err)
		return false
	}
	defer rw.Close()
	return p.Probe(rw)
}
