package aeronautical

import (
	"regexp"
	"strings"
)

// flightPattern splits a flight number into its two-character airline
// designator and the flight, dropping padding zeros in between.
var flightPattern = regexp.MustCompile(`^([0-9A-Z]{2})0*([0-9A-Z]+)$`)

// NormalizeFlight trims whitespace and removes the leading zeros of the
// numeric part, so "AB0123" and "AB123" refer to the same flight.
func NormalizeFlight(raw string) string {
	flight := strings.TrimSpace(raw)
	return flightPattern.ReplaceAllString(flight, "${1}${2}")
}
