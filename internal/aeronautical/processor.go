package aeronautical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/graywave-core/internal/location"
)

// Logger defines the logging interface used by message processors.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Processor decodes JSON message lines and reports the positions found in
// them to a location.Updater under its tag.
type Processor struct {
	tag     string
	updater location.Updater
	logger  Logger
}

// NewProcessor creates a processor reporting positions tagged with tag.
func NewProcessor(tag string, updater location.Updater) *Processor {
	return &Processor{
		tag:     tag,
		updater: updater,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the processor.
func (p *Processor) SetLogger(logger Logger) {
	p.logger = logger
}

// Logger returns the processor's logger.
func (p *Processor) Logger() Logger {
	return p.logger
}

// Tag returns the subsystem name positions are reported under.
func (p *Processor) Tag() string {
	return p.tag
}

// Decode parses one line into a Message. Blank lines and lines that are
// not a JSON object yield nil.
func (p *Processor) Decode(line []byte) Message {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		p.logger.Debug("ignoring non-JSON decoder output", "tag", p.tag, "error", err)
		return nil
	}
	if msg == nil {
		return nil
	}
	msg["mode"] = p.tag
	return msg
}

// ProcessFlight normalises a flight number.
func (p *Processor) ProcessFlight(raw string) string {
	return NormalizeFlight(raw)
}

// Report sends one position to the updater.
func (p *Processor) Report(source location.Source, loc AirplaneLocation, ts time.Time) error {
	return p.updater.UpdateLocation(location.Update{
		Source:    source,
		Location:  loc,
		Tag:       p.tag,
		Timestamp: ts,
	})
}

// ProcessAcars reports the ADS-C basic reports carried in an ACARS message.
//
// The aircraft is identified by icao when known, otherwise by the flight
// or registration in the message. Messages without either are ignored.
func (p *Processor) ProcessAcars(acars Message, icao string) error {
	var flight string
	switch {
	case acars.Has("flight"):
		raw, err := acars.String("flight")
		if err != nil {
			return err
		}
		flight = p.ProcessFlight(raw)
	case acars.Has("reg"):
		reg, err := acars.String("reg")
		if err != nil {
			return err
		}
		flight = strings.TrimLeft(strings.TrimSpace(reg), ".")
	default:
		return nil
	}

	if !acars.Has("arinc622") {
		return nil
	}
	arinc622, err := acars.Object("arinc622")
	if err != nil {
		return err
	}
	if !arinc622.Has("adsc") {
		return nil
	}
	adsc, err := arinc622.Object("adsc")
	if err != nil {
		return err
	}
	if failed, _ := adsc.Bool("err"); failed {
		return nil
	}
	if !adsc.Has("tags") {
		return nil
	}
	tags, err := adsc.Objects("tags")
	if err != nil {
		return err
	}

	var source location.Source = AcarsSource{Flight: flight}
	if icao != "" {
		source = IcaoSource{Icao: icao, Flight: flight}
	}

	for _, tag := range tags {
		if !tag.Has("basic_report") {
			continue
		}
		report, err := tag.Object("basic_report")
		if err != nil {
			return err
		}
		loc, err := basicReportLocation(report, flight)
		if err != nil {
			return fmt.Errorf("ads-c basic report: %w", err)
		}
		if location.ValidatePosition(loc.Lat, loc.Lon) != nil {
			p.logger.Debug("dropping out of range ads-c position", "flight", flight, "lat", loc.Lat, "lon", loc.Lon)
			continue
		}
		if err := p.Report(source, loc, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

func basicReportLocation(report Message, flight string) (AirplaneLocation, error) {
	lat, err := report.Number("lat")
	if err != nil {
		return AirplaneLocation{}, err
	}
	lon, err := report.Number("lon")
	if err != nil {
		return AirplaneLocation{}, err
	}

	loc := AirplaneLocation{Lat: lat, Lon: lon, Flight: flight}
	if alt, err := report.Number("alt"); err == nil {
		loc.Altitude = &alt
	}
	return loc, nil
}
