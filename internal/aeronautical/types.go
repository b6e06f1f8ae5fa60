package aeronautical

import "strings"

// AirplaneLocation is a decoded aircraft position.
type AirplaneLocation struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Flight string  `json:"flight,omitempty"`

	// Altitude in feet, when reported.
	Altitude *float64 `json:"altitude,omitempty"`
}

// LatLon implements location.Location.
func (l AirplaneLocation) LatLon() (float64, float64) {
	return l.Lat, l.Lon
}

// FlightID implements location.Flighted.
func (l AirplaneLocation) FlightID() string {
	return l.Flight
}

// IcaoSource identifies an aircraft by its 24-bit ICAO address.
type IcaoSource struct {
	Icao   string `json:"icao"`
	Flight string `json:"flight,omitempty"`
}

// Key implements location.Source.
func (s IcaoSource) Key() string {
	return "icao:" + strings.ToUpper(s.Icao)
}

// Kind implements location.Source.
func (s IcaoSource) Kind() string {
	return "icao"
}

// AcarsSource identifies an aircraft by the flight or registration in its
// ACARS messages when no ICAO address is known.
type AcarsSource struct {
	Flight string `json:"flight"`
}

// Key implements location.Source.
func (s AcarsSource) Key() string {
	return "acars:" + s.Flight
}

// Kind implements location.Source.
func (s AcarsSource) Kind() string {
	return "acars"
}
