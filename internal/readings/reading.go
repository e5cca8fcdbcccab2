// Package readings holds the per-station acquisition history: the
// Reading record and the bounded fifo that stores the most recent ones.
package readings

import "time"

// Reading is one acquisition snapshot: a bundle of named numeric datums
// stamped with the UTC time at which acquisition completed.
type Reading struct {
	Tstamp time.Time          `json:"tstamp" msgpack:"tstamp"`
	Datums map[string]float64 `json:"datums" msgpack:"datums"`
}

// NewReading returns a Reading stamped with the current UTC time.
func NewReading() Reading {
	return Reading{
		Tstamp: time.Now().UTC(),
		Datums: make(map[string]float64),
	}
}
