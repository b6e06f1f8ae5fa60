package direwolf

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/nerrad567/graywave-core/internal/settings"
)

// recordingLogger captures messages per level.
type recordingLogger struct {
	noopLogger
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func igateSnapshot() Snapshot {
	return Snapshot{
		Callsign:      "N0CALL-10",
		IgateEnabled:  true,
		IgateServer:   "noam.aprs2.net",
		IgatePassword: "12345",
		IgateBeacon:   true,
		Symbol:        "R&",
		Comment:       "Gray Wave igate",
		GPS:           &GPS{Lat: 45.5, Lon: -93.25},
	}
}

func TestRenderBaseConfig(t *testing.T) {
	got := Render(Snapshot{Callsign: "N0CALL"}, 8001, false, nil)

	want := "ACHANNELS 1\n" +
		"ADEVICE stdin null\n" +
		"\n" +
		"CHANNEL 0\n" +
		"MYCALL N0CALL\n" +
		"MODEM 1200\n" +
		"\n" +
		"KISSPORT 8001\n" +
		"AGWPORT off\n"

	if got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderIgateRequiresServiceMode(t *testing.T) {
	snap := igateSnapshot()

	tests := []struct {
		name      string
		service   bool
		enabled   bool
		wantIgate bool
	}{
		{"foreground with igate enabled", false, true, false},
		{"service with igate disabled", true, false, false},
		{"foreground with igate disabled", false, false, false},
		{"service with igate enabled", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap.IgateEnabled = tt.enabled
			got := Render(snap, 8001, tt.service, nil)

			for _, directive := range []string{"IGSERVER", "IGLOGIN", "PBEACON"} {
				if strings.Contains(got, directive) != tt.wantIgate {
					t.Errorf("contains %s = %v, want %v\n%s", directive, !tt.wantIgate, tt.wantIgate, got)
				}
			}
		})
	}
}

func TestRenderIgateBlock(t *testing.T) {
	snap := igateSnapshot()
	snap.Height = "30"
	snap.Gain = float64(3)
	snap.Dir = "NE"

	got := Render(snap, 8001, true, nil)

	for _, line := range []string{
		"IGSERVER noam.aprs2.net\n",
		"IGLOGIN N0CALL-10 12345\n",
		`PBEACON sendto=IG delay=0:30 every=60:00 symbol=R& lat=45^30.00N long=093^15.00W HEIGHT=98 GAIN=3 DIR=NE comment="Gray Wave igate"` + "\n",
	} {
		if !strings.Contains(got, line) {
			t.Errorf("Render() missing %q\n%s", line, got)
		}
	}
}

func TestRenderBeaconOptionalClauses(t *testing.T) {
	snap := igateSnapshot()
	snap.Comment = ""

	got := Render(snap, 8001, true, nil)

	want := `PBEACON sendto=IG delay=0:30 every=60:00 symbol=R& lat=45^30.00N long=093^15.00W comment=""`
	if !strings.Contains(got, want+"\n") {
		t.Errorf("Render() missing %q\n%s", want, got)
	}
}

func TestRenderBeaconNeedsFlagAndPosition(t *testing.T) {
	logger := &recordingLogger{}

	noBeacon := igateSnapshot()
	noBeacon.IgateBeacon = false
	if got := Render(noBeacon, 8001, true, logger); strings.Contains(got, "PBEACON") {
		t.Errorf("PBEACON rendered with beacon disabled:\n%s", got)
	}

	noGPS := igateSnapshot()
	noGPS.GPS = nil
	got := Render(noGPS, 8001, true, logger)
	if strings.Contains(got, "PBEACON") {
		t.Errorf("PBEACON rendered without receiver position:\n%s", got)
	}
	if !strings.Contains(got, "IGLOGIN") {
		t.Error("igate login must still be rendered without a position")
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want one", logger.warns)
	}
}

func TestRenderMalformedHeight(t *testing.T) {
	logger := &recordingLogger{}
	snap := igateSnapshot()
	snap.Height = "not-a-number"
	snap.Gain = float64(6)

	got := Render(snap, 8001, true, logger)

	if strings.Contains(got, "HEIGHT=") {
		t.Errorf("height clause rendered for malformed height:\n%s", got)
	}
	if !strings.Contains(got, "GAIN=6") {
		t.Errorf("render did not continue past the malformed height:\n%s", got)
	}
	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one", logger.errors)
	}
}

func TestRenderHeightConversion(t *testing.T) {
	tests := []struct {
		height any
		want   string
	}{
		{"0", "HEIGHT=0"},
		{"10", "HEIGHT=33"},
		{" 30.5 ", "HEIGHT=100"},
		{float64(100), "HEIGHT=328"},
		{"-5", "HEIGHT=-16"},
	}

	for _, tt := range tests {
		snap := igateSnapshot()
		snap.Height = tt.height
		got := Render(snap, 8001, true, nil)
		if !strings.Contains(got, " "+tt.want+" ") {
			t.Errorf("height %v: render missing %q\n%s", tt.height, tt.want, got)
		}
	}
}

func TestFormatCoordinates(t *testing.T) {
	tests := []struct {
		lat, lon         float64
		wantLat, wantLon string
	}{
		{45.5, -93.25, "45^30.00N", "093^15.00W"},
		{-33.8688, 151.2093, "33^52.13S", "151^12.56E"},
		{0, 0, "00^00.00S", "000^00.00W"},
		{0.0001, 0.0001, "00^00.01N", "000^00.01E"},
		{-0.5, -179.999999, "00^30.00S", "180^00.00W"},
		{89.99999, 179.5, "90^00.00N", "179^30.00E"},
	}

	for _, tt := range tests {
		if got := FormatLatitude(tt.lat); got != tt.wantLat {
			t.Errorf("FormatLatitude(%v) = %q, want %q", tt.lat, got, tt.wantLat)
		}
		if got := FormatLongitude(tt.lon); got != tt.wantLon {
			t.Errorf("FormatLongitude(%v) = %q, want %q", tt.lon, got, tt.wantLon)
		}
	}
}

// parseCoordinate reverses formatCoordinate.
func parseCoordinate(t *testing.T, s string) float64 {
	t.Helper()
	deg, rest, ok := strings.Cut(s, "^")
	if !ok {
		t.Fatalf("no degree separator in %q", s)
	}
	hemisphere := rest[len(rest)-1:]
	d, err := strconv.Atoi(deg)
	if err != nil {
		t.Fatalf("degrees in %q: %v", s, err)
	}
	m, err := strconv.ParseFloat(rest[:len(rest)-1], 64)
	if err != nil {
		t.Fatalf("minutes in %q: %v", s, err)
	}
	v := float64(d) + m/60
	if hemisphere == "S" || hemisphere == "W" {
		v = -v
	}
	return v
}

func TestCoordinateRoundTrip(t *testing.T) {
	for lat := -89.95; lat < 90; lat += 1.37 {
		for lon := -179.95; lon < 180; lon += 2.71 {
			gotLat := parseCoordinate(t, FormatLatitude(lat))
			gotLon := parseCoordinate(t, FormatLongitude(lon))

			// Within 0.01 minute after rounding to hundredths.
			if diff := math.Abs(gotLat-lat) * 60; diff > 0.01 {
				t.Fatalf("latitude %v round-trips to %v (%.4f minutes off)", lat, gotLat, diff)
			}
			if diff := math.Abs(gotLon-lon) * 60; diff > 0.01 {
				t.Fatalf("longitude %v round-trips to %v (%.4f minutes off)", lon, gotLon, diff)
			}

			latHemi := FormatLatitude(lat)[len(FormatLatitude(lat))-1:]
			if (lat > 0) != (latHemi == "N") {
				t.Fatalf("latitude %v has hemisphere %s", lat, latHemi)
			}
			lonHemi := FormatLongitude(lon)[len(FormatLongitude(lon))-1:]
			if (lon > 0) != (lonHemi == "E") {
				t.Fatalf("longitude %v has hemisphere %s", lon, lonHemi)
			}
		}
	}
}

func TestSnapshotFromStore(t *testing.T) {
	store := settings.NewStore(nil)
	ctx := t.Context()
	err := store.Update(ctx, map[string]any{
		KeyCallsign:      "G0ABC",
		KeyIgateEnabled:  true,
		KeyIgateServer:   "euro.aprs2.net",
		KeyIgatePassword: "999",
		KeyIgateBeacon:   true,
		KeyIgateSymbol:   "R&",
		KeyIgateComment:  "hello",
		KeyReceiverGPS:   map[string]any{"lat": 51.5, "lon": -0.125},
		KeyIgateGain:     3,
		KeyIgateHeight:   "12",
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap := SnapshotFrom(store)

	if snap.Callsign != "G0ABC" || !snap.IgateEnabled || snap.IgateServer != "euro.aprs2.net" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.GPS == nil || snap.GPS.Lat != 51.5 || snap.GPS.Lon != -0.125 {
		t.Errorf("GPS = %+v, want 51.5/-0.125", snap.GPS)
	}
	if snap.Dir != nil {
		t.Errorf("Dir = %v, want nil for unset key", snap.Dir)
	}

	got := Render(snap, 9000, true, nil)
	if !strings.Contains(got, "lat=51^30.00N long=000^07.50W HEIGHT=39 GAIN=3 comment=\"hello\"") {
		t.Errorf("Render() from store =\n%s", got)
	}
}

func TestSnapshotIgnoresMalformedGPS(t *testing.T) {
	store := settings.NewStore(nil)
	if err := store.Set(t.Context(), KeyReceiverGPS, map[string]any{"lat": "north"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if snap := SnapshotFrom(store); snap.GPS != nil {
		t.Errorf("GPS = %+v, want nil", snap.GPS)
	}
}
