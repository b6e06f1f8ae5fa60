package hfdl

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/graywave-core/internal/aeronautical"
	"github.com/nerrad567/graywave-core/internal/location"
)

// Tag is the map tag of HFDL positions.
const Tag = "HFDL"

// LPDU and HFNPDU type codes as printed by dumphfdl.
const (
	lpduUnnumberedData      = 13  // 0x0D
	lpduUnnumberedAckedData = 29  // 0x1D
	lpduLogonResume         = 79  // 0x4F
	lpduLogonRequestCare    = 143 // 0x8F
	lpduLogonRequestNormal  = 191 // 0xBF

	hfnpduPerformanceData = 209 // 0xD1
	hfnpduEnvelopedData   = 255 // 0xFF
)

type lpduClass int

const (
	lpduOther lpduClass = iota
	lpduData            // carries an HFNPDU addressed by type
	lpduLogon           // carries a position directly
)

// lpduClasses maps LPDU type codes to how their payload is inspected.
var lpduClasses = map[int]lpduClass{
	lpduUnnumberedData:      lpduData,
	lpduUnnumberedAckedData: lpduData,
	lpduLogonResume:         lpduLogon,
	lpduLogonRequestCare:    lpduLogon,
	lpduLogonRequestNormal:  lpduLogon,
}

// ParserStats counts what the parser has seen.
type ParserStats struct {
	Lines     uint64 `json:"lines"`
	Messages  uint64 `json:"messages"`
	Positions uint64 `json:"positions"`
	Errors    uint64 `json:"errors"`
}

// Parser turns dumphfdl JSON lines into map updates.
//
// Parsing problems are returned from Inspect as errors and logged by
// Process; they never stop the stream. Parser implements io.Writer so it
// can receive the decoder's stdout directly, one line per Write.
type Parser struct {
	*aeronautical.Processor

	now func() time.Time

	lines     atomic.Uint64
	messages  atomic.Uint64
	positions atomic.Uint64
	failures  atomic.Uint64
}

// NewParser creates a parser reporting to updater.
func NewParser(updater location.Updater) *Parser {
	p := &Parser{now: time.Now}
	counting := location.UpdaterFunc(func(u location.Update) error {
		if err := updater.UpdateLocation(u); err != nil {
			return err
		}
		p.positions.Add(1)
		return nil
	})
	p.Processor = aeronautical.NewProcessor(Tag, counting)
	return p
}

// Write implements io.Writer. It never fails.
func (p *Parser) Write(line []byte) (int, error) {
	p.Process(line)
	return len(line), nil
}

// Process decodes one line and reports the positions it carries. It
// returns the decoded message, or nil for lines that are not messages.
func (p *Parser) Process(line []byte) aeronautical.Message {
	p.lines.Add(1)

	msg := p.Decode(line)
	if msg == nil {
		return nil
	}
	p.messages.Add(1)

	if err := p.Inspect(msg); err != nil {
		p.failures.Add(1)
		p.Logger().Error("error processing HFDL data", "error", err)
	}
	return msg
}

// Inspect extracts positions from a decoded message.
func (p *Parser) Inspect(msg aeronautical.Message) error {
	payload, err := msg.Object("hfdl")
	if err != nil {
		return err
	}
	if !payload.Has("lpdu") {
		return nil
	}
	lpdu, err := payload.Object("lpdu")
	if err != nil {
		return err
	}

	icao, err := sourceIcao(lpdu)
	if err != nil {
		return err
	}

	lpduType, err := lpdu.TypeID("type")
	if err != nil {
		return fmt.Errorf("lpdu: %w", err)
	}

	switch lpduClasses[lpduType] {
	case lpduData:
		hfnpdu, err := lpdu.Object("hfnpdu")
		if err != nil {
			return fmt.Errorf("lpdu: %w", err)
		}
		hfnpduType, err := hfnpdu.TypeID("type")
		if err != nil {
			return fmt.Errorf("hfnpdu: %w", err)
		}
		switch hfnpduType {
		case hfnpduPerformanceData:
			return p.processPosition(hfnpdu, icao)
		case hfnpduEnvelopedData:
			if hfnpdu.Has("acars") {
				acars, err := hfnpdu.Object("acars")
				if err != nil {
					return err
				}
				return p.ProcessAcars(acars, icao)
			}
		}

	case lpduLogon:
		if lpdu.Has("ac_info") {
			info, err := lpdu.Object("ac_info")
			if err != nil {
				return err
			}
			if icao, err = info.String("icao"); err != nil {
				return fmt.Errorf("ac_info: %w", err)
			}
		}
		hfnpdu, err := lpdu.Object("hfnpdu")
		if err != nil {
			return fmt.Errorf("lpdu: %w", err)
		}
		return p.processPosition(hfnpdu, icao)
	}

	return nil
}

// sourceIcao returns lpdu.src.ac_info.icao, or "" when the sender's
// airframe is not identified.
func sourceIcao(lpdu aeronautical.Message) (string, error) {
	src, err := lpdu.Object("src")
	if err != nil {
		return "", fmt.Errorf("lpdu: %w", err)
	}
	if !src.Has("ac_info") {
		return "", nil
	}
	info, err := src.Object("ac_info")
	if err != nil {
		return "", err
	}
	icao, err := info.String("icao")
	if err != nil {
		return "", fmt.Errorf("src.ac_info: %w", err)
	}
	return icao, nil
}

func (p *Parser) processPosition(hfnpdu aeronautical.Message, icao string) error {
	if !hfnpdu.Has("pos") {
		return nil
	}
	pos, err := hfnpdu.Object("pos")
	if err != nil {
		return err
	}
	lat, err := pos.Number("lat")
	if err != nil {
		return fmt.Errorf("pos: %w", err)
	}
	lon, err := pos.Number("lon")
	if err != nil {
		return fmt.Errorf("pos: %w", err)
	}

	if location.ValidatePosition(lat, lon) != nil {
		p.Logger().Debug("dropping out of range HFDL position", "lat", lat, "lon", lon)
		return nil
	}

	rawFlight, err := hfnpdu.String("flight_id")
	if err != nil {
		return err
	}
	flight := p.ProcessFlight(rawFlight)

	var source location.Source = Source{Flight: flight}
	if icao != "" {
		source = aeronautical.IcaoSource{Icao: icao, Flight: flight}
	}

	var ts time.Time
	for _, key := range []string{"utc_time", "time"} {
		if !hfnpdu.Has(key) {
			continue
		}
		clock, err := hfnpdu.Object(key)
		if err != nil {
			return err
		}
		if ts, err = p.processTimestamp(clock); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		break
	}

	loc := aeronautical.AirplaneLocation{Lat: lat, Lon: lon, Flight: flight}
	return p.Report(source, loc, ts)
}

// processTimestamp places a time of day on the current UTC date. A time
// in the future refers to yesterday: the report was sent shortly before
// midnight and received after it.
func (p *Parser) processTimestamp(clock aeronautical.Message) (time.Time, error) {
	hour, err := clock.Int("hour")
	if err != nil {
		return time.Time{}, err
	}
	minute, err := clock.Int("min")
	if err != nil {
		return time.Time{}, err
	}
	sec, err := clock.Int("sec")
	if err != nil {
		return time.Time{}, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || sec < 0 || sec > 59 {
		return time.Time{}, fmt.Errorf("%w: time of day %02d:%02d:%02d", aeronautical.ErrFieldType, hour, minute, sec)
	}

	now := p.now().UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, sec, 0, time.UTC)
	if t.After(now) {
		t = t.AddDate(0, 0, -1)
	}
	return t, nil
}

// Stats returns the parser counters.
func (p *Parser) Stats() ParserStats {
	return ParserStats{
		Lines:     p.lines.Load(),
		Messages:  p.messages.Load(),
		Positions: p.positions.Load(),
		Errors:    p.failures.Load(),
	}
}
