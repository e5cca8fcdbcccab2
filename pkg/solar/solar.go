// Package solar computes the apparent position of the Sun for the
// observatory's site. The math follows the NOAA solar position
// equations, with the Julian date supplied by the meeus library.
package solar

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// Position holds the computed solar parameters for one instant.
type Position struct {
	ElevationDeg   float64 // degrees above the horizon, refraction-corrected
	AzimuthDeg     float64 // degrees, 0° north, clockwise
	DeclinationDeg float64 // degrees
	EqOfTimeMin    float64 // minutes
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// fixAngle normalizes an angle to [0, 360).
func fixAngle(a float64) float64 { return a - 360.0*math.Floor(a/360.0) }

// PositionAt computes the Sun's position at time t for an observer at
// lat (degrees north) and lon (degrees east).
func PositionAt(lat, lon float64, t time.Time) Position {
	jd := julian.TimeToJD(t.UTC())
	T := (jd - 2451545.0) / 36525.0 // Julian centuries since J2000

	L0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032)) // mean longitude
	M := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))  // mean anomaly
	e := 0.016708634 - T*(0.000042037+T*0.0000001267)       // eccentricity
	C := math.Sin(degToRad(M))*(1.914602-T*(0.004817+T*0.000014)) +
		math.Sin(degToRad(2*M))*(0.019993-T*0.000101) +
		math.Sin(degToRad(3*M))*0.000289
	sunLong := L0 + C
	node := 125.04 - 1934.136*T
	lambda := sunLong - 0.00569 - 0.00478*math.Sin(degToRad(node))
	eps0 := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60
	decRad := math.Asin(math.Sin(degToRad(eps0)) * math.Sin(degToRad(lambda)))

	// Equation of time, in minutes
	y := math.Tan(degToRad(eps0)/2) * math.Tan(degToRad(eps0)/2)
	eqTimeMin := radToDeg(y*math.Sin(degToRad(2*L0))-
		2*e*math.Sin(degToRad(M))+
		4*e*y*math.Sin(degToRad(M))*math.Cos(degToRad(2*L0))-
		0.5*y*y*math.Sin(degToRad(4*L0))-
		1.25*e*e*math.Sin(degToRad(2*M))) * 4

	// True solar time and hour angle. Longitude is degrees east here,
	// hence the sign differs from sources that use degrees west.
	utc := t.UTC()
	utcMin := float64(utc.Hour()*60+utc.Minute()) + float64(utc.Second())/60.0
	tst := utcMin + 4*lon + eqTimeMin
	ha := tst/4 - 180
	haRad := degToRad(ha)

	latRad := degToRad(lat)
	cosZen := math.Sin(latRad)*math.Sin(decRad) + math.Cos(latRad)*math.Cos(decRad)*math.Cos(haRad)
	if cosZen > 1 {
		cosZen = 1
	} else if cosZen < -1 {
		cosZen = -1
	}
	zenRad := math.Acos(cosZen)
	elDeg := 90 - radToDeg(zenRad) + 0.5667 // refraction correction

	azDeg := 0.0
	azDen := math.Cos(latRad) * math.Sin(zenRad)
	if azDen != 0 {
		azArg := (math.Sin(decRad) - math.Sin(latRad)*cosZen) / azDen
		if azArg > 1 {
			azArg = 1
		} else if azArg < -1 {
			azArg = -1
		}
		azDeg = radToDeg(math.Acos(azArg))
		if ha > 0 {
			azDeg = 360 - azDeg
		}
	}

	return Position{
		ElevationDeg:   elDeg,
		AzimuthDeg:     azDeg,
		DeclinationDeg: radToDeg(decRad),
		EqOfTimeMin:    eqTimeMin,
	}
}

// ElevationDeg returns the refraction-corrected solar elevation in
// degrees at time t for an observer at lat/lon (degrees north/east).
func ElevationDeg(lat, lon float64, t time.Time) float64 {
	return PositionAt(lat, lon, t).ElevationDeg
}
