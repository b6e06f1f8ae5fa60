package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLocation = "location"
	measurementDecoder  = "decoder_event"
)

// LocationPoint is one decoded position report.
type LocationPoint struct {
	SourceKey  string
	SourceKind string
	Tag        string // decoding subsystem, e.g. "HFDL"
	Flight     string
	Lat        float64
	Lon        float64

	// Time is the report time. Zero means "now".
	Time time.Time
}

// WriteLocation records a decoded position. The write is non-blocking.
func (c *Client) WriteLocation(p LocationPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newLocationPoint(p))
}

// WriteDecoderEvent records a supervised decoder lifecycle event such as
// "started", "restarted" or "connect_failed".
func (c *Client) WriteDecoderEvent(decoder, event string, attempts int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newDecoderEventPoint(decoder, event, attempts, time.Now()))
}

func newLocationPoint(p LocationPoint) *write.Point {
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"source_key":  p.SourceKey,
		"source_kind": p.SourceKind,
		"tag":         p.Tag,
	}
	fields := map[string]interface{}{
		"lat": p.Lat,
		"lon": p.Lon,
	}
	if p.Flight != "" {
		fields["flight"] = p.Flight
	}

	return write.NewPoint(measurementLocation, tags, fields, ts)
}

func newDecoderEventPoint(decoder, event string, attempts int, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementDecoder,
		map[string]string{
			"decoder": decoder,
			"event":   event,
		},
		map[string]interface{}{
			"attempts": attempts,
		},
		ts,
	)
}
