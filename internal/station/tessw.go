package station

import (
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/internal/parser"
	"github.com/obswx/safetyd/internal/readings"
	"github.com/obswx/safetyd/internal/safety"
	"github.com/obswx/safetyd/pkg/config"
)

// Tessw datum names.
const (
	DatumCover       = "cover"
	DatumSkyTemp     = "sky_temperature"
	DatumAmbientTemp = "ambient_temperature"
	DatumMagnitude   = "magnitude"
	DatumFrequency   = "frequency"
)

var tesswDatums = []string{DatumCover, DatumSkyTemp, DatumAmbientTemp, DatumMagnitude, DatumFrequency}

// Tessw polls the sky-quality photometer's embedded web page. The
// sensor hangs off its own access point, so each tick first verifies
// the WiFi association before issuing the HTTP GET.
type Tessw struct {
	*Base
	client *http.Client
	url    string

	// wifi association guard; both may be empty to disable the check
	iface string
	ssid  string

	// ensureWifi is swapped out in tests
	ensureWifi func(iface, ssid string) error
}

// NewTessw builds the station.
func NewTessw(cfg *config.StationConfig, capacity int, sensors []*safety.Sensor, saver Saver, wg *sync.WaitGroup) *Tessw {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	t := &Tessw{
		client:     &http.Client{Timeout: timeout},
		url:        fmt.Sprintf("http://%s/", joinHostPort(cfg.Host, cfg.Port)),
		iface:      cfg.WifiInterface,
		ssid:       cfg.SSID,
		ensureWifi: ensureWifiAssociation,
	}
	t.Base = newBase(cfg, tesswDatums, capacity, sensors, saver, wg)
	t.Base.fetch = t.fetcher
	t.Base.onStop = t.client.CloseIdleConnections
	return t
}

func (t *Tessw) fetcher() (*readings.Reading, error) {
	if t.iface != "" && t.ssid != "" {
		if err := t.ensureWifi(t.iface, t.ssid); err != nil {
			return nil, fmt.Errorf("wifi guard: %w", err)
		}
	}

	resp, err := t.client.Get(t.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %s", t.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	report, err := parser.ParseTessw(string(body))
	if err != nil {
		return nil, err
	}

	r := readings.NewReading()
	r.Datums[DatumCover] = report.Cover
	r.Datums[DatumSkyTemp] = report.SkyTemp
	r.Datums[DatumAmbientTemp] = report.AmbientTemp
	r.Datums[DatumMagnitude] = report.Magnitude
	r.Datums[DatumFrequency] = report.Frequency
	return &r, nil
}

// ensureWifiAssociation brings the wireless interface up and joins the
// sensor's SSID when the association has been lost. Any failure aborts
// the tick; the next interval retries from scratch.
func ensureWifiAssociation(iface, ssid string) error {
	out, err := exec.Command("ip", "link", "show", iface).Output()
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", iface, err)
	}
	if !strings.Contains(string(out), "state UP") {
		log.Infof("wifi interface %s is down, bringing it up", iface)
		if err := exec.Command("ip", "link", "set", iface, "up").Run(); err != nil {
			return fmt.Errorf("bringing %s up: %w", iface, err)
		}
	}

	// iwgetid exits non-zero when unassociated; treat that as "wrong
	// network" and attempt to join.
	current := ""
	if out, err := exec.Command("iwgetid", "-r", iface).Output(); err == nil {
		current = strings.TrimSpace(string(out))
	}
	if current != ssid {
		log.Infof("wifi interface %s on %q, associating with %q", iface, current, ssid)
		if err := exec.Command("nmcli", "device", "wifi", "connect", ssid, "ifname", iface).Run(); err != nil {
			return fmt.Errorf("associating %s with %q: %w", iface, ssid, err)
		}
	}
	return nil
}

func joinHostPort(host string, port int) string {
	if port == 0 || port == 80 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}
