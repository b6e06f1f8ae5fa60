package location

import (
	"fmt"
	"math"
	"time"
)

// Source identifies what a position belongs to.
type Source interface {
	// Key is unique per tracked object and used as the map key.
	Key() string

	// Kind names the identification scheme, e.g. "icao" or "hfdl".
	Kind() string
}

// Location is a geographic fix in decimal degrees.
type Location interface {
	LatLon() (lat, lon float64)
}

// Flighted is implemented by locations that carry a flight number.
type Flighted interface {
	FlightID() string
}

// Update is one position report.
type Update struct {
	Source   Source
	Location Location

	// Tag names the decoding subsystem, e.g. "HFDL".
	Tag string

	// Timestamp is when the position was reported. Zero means "now".
	Timestamp time.Time
}

// Updater accepts position reports.
type Updater interface {
	UpdateLocation(u Update) error
}

// UpdaterFunc adapts a function to the Updater interface.
type UpdaterFunc func(u Update) error

// UpdateLocation calls f.
func (f UpdaterFunc) UpdateLocation(u Update) error { return f(u) }

// Entry is the latest known position of a source.
type Entry struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Source    Source    `json:"source"`
	Location  Location  `json:"location"`
	Tag       string    `json:"tag"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one row of the position history.
type Record struct {
	ID         int64     `json:"id"`
	SourceKey  string    `json:"source_key"`
	SourceKind string    `json:"source_kind"`
	Tag        string    `json:"tag"`
	Flight     string    `json:"flight,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	ReportedAt time.Time `json:"reported_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// ValidatePosition checks that lat and lon are finite and within range.
func ValidatePosition(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return fmt.Errorf("%w: coordinates are NaN", ErrInvalidPosition)
	}
	if math.Abs(lat) > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPosition, lat)
	}
	if math.Abs(lon) > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPosition, lon)
	}
	return nil
}

func flightOf(l Location) string {
	if f, ok := l.(Flighted); ok {
		return f.FlightID()
	}
	return ""
}
