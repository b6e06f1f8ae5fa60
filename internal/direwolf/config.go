package direwolf

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// feetPerMeter converts the configured antenna height for PBEACON.
const feetPerMeter = 3.28084

// Settings keys that affect the rendered configuration.
const (
	KeyCallsign      = "aprs_callsign"
	KeyIgateEnabled  = "aprs_igate_enabled"
	KeyIgateServer   = "aprs_igate_server"
	KeyIgatePassword = "aprs_igate_password"
	KeyReceiverGPS   = "receiver_gps"
	KeyIgateSymbol   = "aprs_igate_symbol"
	KeyIgateBeacon   = "aprs_igate_beacon"
	KeyIgateGain     = "aprs_igate_gain"
	KeyIgateDir      = "aprs_igate_dir"
	KeyIgateComment  = "aprs_igate_comment"
	KeyIgateHeight   = "aprs_igate_height"
)

// ConfigKeys lists every setting the configuration is rendered from.
// A change to any of them restarts direwolf.
var ConfigKeys = []string{
	KeyCallsign,
	KeyIgateEnabled,
	KeyIgateServer,
	KeyIgatePassword,
	KeyReceiverGPS,
	KeyIgateSymbol,
	KeyIgateBeacon,
	KeyIgateGain,
	KeyIgateDir,
	KeyIgateComment,
	KeyIgateHeight,
}

// Reader is read access to the settings store.
type Reader interface {
	Get(key string) (any, bool)
	String(key string) (string, bool)
	Bool(key string) (bool, bool)
}

// GPS is a receiver position in decimal degrees.
type GPS struct {
	Lat float64
	Lon float64
}

// Snapshot is the set of settings a configuration is rendered from.
// Optional values are nil when not configured.
type Snapshot struct {
	Callsign      string
	IgateEnabled  bool
	IgateServer   string
	IgatePassword string
	IgateBeacon   bool
	Symbol        string
	Comment       string
	GPS           *GPS

	Gain   any
	Dir    any
	Height any
}

// SnapshotFrom reads a Snapshot from the settings store.
// Values of the wrong type are treated as missing.
func SnapshotFrom(r Reader) Snapshot {
	s := Snapshot{}
	s.Callsign, _ = r.String(KeyCallsign)
	s.IgateEnabled, _ = r.Bool(KeyIgateEnabled)
	s.IgateServer, _ = r.String(KeyIgateServer)
	s.IgatePassword, _ = r.String(KeyIgatePassword)
	s.IgateBeacon, _ = r.Bool(KeyIgateBeacon)
	s.Symbol, _ = r.String(KeyIgateSymbol)
	s.Comment, _ = r.String(KeyIgateComment)
	if v, ok := r.Get(KeyReceiverGPS); ok {
		s.GPS = gpsValue(v)
	}
	if v, ok := r.Get(KeyIgateGain); ok {
		s.Gain = v
	}
	if v, ok := r.Get(KeyIgateDir); ok {
		s.Dir = v
	}
	if v, ok := r.Get(KeyIgateHeight); ok {
		s.Height = v
	}
	return s
}

func gpsValue(v any) *GPS {
	switch g := v.(type) {
	case GPS:
		return &g
	case *GPS:
		return g
	case map[string]any:
		lat, latOK := g["lat"].(float64)
		lon, lonOK := g["lon"].(float64)
		if latOK && lonOK {
			return &GPS{Lat: lat, Lon: lon}
		}
	}
	return nil
}

// Render returns the direwolf configuration for snap with the KISS
// listener on port.
//
// The igate block is only rendered in service mode with the igate enabled.
// Problems with optional beacon values are logged and the affected clause
// is left out; they never fail the render.
func Render(snap Snapshot, port int, serviceMode bool, logger Logger) string {
	if logger == nil {
		logger = noopLogger{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ACHANNELS 1\n")
	fmt.Fprintf(&b, "ADEVICE stdin null\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "CHANNEL 0\n")
	fmt.Fprintf(&b, "MYCALL %s\n", snap.Callsign)
	fmt.Fprintf(&b, "MODEM 1200\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "KISSPORT %d\n", port)
	fmt.Fprintf(&b, "AGWPORT off\n")

	if !serviceMode || !snap.IgateEnabled {
		return b.String()
	}

	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "IGSERVER %s\n", snap.IgateServer)
	fmt.Fprintf(&b, "IGLOGIN %s %s\n", snap.Callsign, snap.IgatePassword)

	if snap.IgateBeacon {
		if snap.GPS == nil {
			logger.Warn("aprs beacon enabled without receiver position, not beaconing")
		} else {
			pbeacon := beaconLine(snap, logger)
			logger.Info("aprs pbeacon", "line", pbeacon)
			fmt.Fprintf(&b, "%s\n", pbeacon)
		}
	}

	return b.String()
}

func beaconLine(snap Snapshot, logger Logger) string {
	fields := []string{
		"PBEACON",
		"sendto=IG",
		"delay=0:30",
		"every=60:00",
	}
	if snap.Symbol != "" {
		fields = append(fields, "symbol="+snap.Symbol)
	}
	fields = append(fields,
		"lat="+FormatLatitude(snap.GPS.Lat),
		"long="+FormatLongitude(snap.GPS.Lon),
	)

	if snap.Height != nil {
		meters, err := parseHeight(snap.Height)
		if err != nil {
			logger.Error("cannot parse aprs_igate_height, expected float", "value", snap.Height, "error", err)
		} else {
			fields = append(fields, "HEIGHT="+strconv.Itoa(int(math.Round(meters*feetPerMeter))))
		}
	}
	if snap.Gain != nil {
		fields = append(fields, "GAIN="+formatValue(snap.Gain))
	}
	if snap.Dir != nil {
		fields = append(fields, "DIR="+formatValue(snap.Dir))
	}

	fields = append(fields, fmt.Sprintf("comment=%q", snap.Comment))
	return strings.Join(fields, " ")
}

func parseHeight(v any) (float64, error) {
	switch h := v.(type) {
	case float64:
		return h, nil
	case int:
		return float64(h), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(h), 64)
	default:
		return 0, fmt.Errorf("unsupported height type %T", v)
	}
}

// formatValue prints integral numbers without a decimal point.
func formatValue(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// FormatLatitude formats a latitude as DD^MM.mmH for PBEACON.
func FormatLatitude(lat float64) string {
	return formatCoordinate(lat, 2, "N", "S")
}

// FormatLongitude formats a longitude as DDD^MM.mmH for PBEACON.
func FormatLongitude(lon float64) string {
	return formatCoordinate(lon, 3, "E", "W")
}

func formatCoordinate(v float64, width int, pos, neg string) string {
	// Zero counts as south/west.
	hemisphere := neg
	if v > 0 {
		hemisphere = pos
	}
	v = math.Abs(v)

	degrees := math.Floor(v)
	minutes := math.Round((v-degrees)*60*100) / 100
	if minutes >= 60 {
		degrees++
		minutes -= 60
	}

	return fmt.Sprintf("%0*d^%05.2f%s", width, int(degrees), minutes, hemisphere)
}
