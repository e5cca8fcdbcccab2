package parser

import (
	"fmt"
	"regexp"
	"strconv"
)

// The Tessw photometer serves a small status page whose <h4> block
// carries the sky IR temperature, the sensor (ambient) temperature, the
// sky magnitude and the sensor frequency.
var tesswRe = regexp.MustCompile(
	`(?s)T\.\s*IR\s*:\s*([-+]?[0-9]*\.?[0-9]+).*?` +
		`T\.\s*Sens\s*:\s*([-+]?[0-9]*\.?[0-9]+).*?` +
		`Mag\.\s*:\s*([-+]?[0-9]*\.?[0-9]+).*?` +
		`f\s*:\s*([-+]?[0-9]*\.?[0-9]+)`)

// TesswReport is the decoded Tessw status page.
type TesswReport struct {
	SkyTemp     float64 // T. IR, degrees C
	AmbientTemp float64 // T. Sens, degrees C
	Magnitude   float64 // mag/arcsec^2
	Frequency   float64 // Hz
	Cover       float64 // derived cloud cover, percent
}

// ParseTessw extracts the four floats from the device's status page
// body and derives the cloud-cover estimate
// cover = max(0, 100 - 3*(tAmb - tSky)).
func ParseTessw(body string) (*TesswReport, error) {
	m := tesswRe.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("parser: Tessw status page did not match")
	}

	fields := make([]float64, 4)
	for i := range fields {
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("parser: Tessw field %d: %w", i, err)
		}
		fields[i] = f
	}

	r := &TesswReport{
		SkyTemp:     fields[0],
		AmbientTemp: fields[1],
		Magnitude:   fields[2],
		Frequency:   fields[3],
	}
	r.Cover = 100 - 3*(r.AmbientTemp-r.SkyTemp)
	if r.Cover < 0 {
		r.Cover = 0
	}
	return r, nil
}
