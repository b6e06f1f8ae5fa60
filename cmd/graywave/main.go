// Gray Wave Core - receiver decoder supervisor
//
// This is the main entry point for the Gray Wave Core application. It
// supervises the external signal decoders of a software-defined-radio
// receiver and turns what they decode into positions on a shared map:
//   - direwolf for APRS packet radio, bridged over its KISS TCP port
//   - dumphfdl for HF aeronautical data link, parsed from JSON lines
//
// Runtime settings live in SQLite and can be changed over MQTT; a change
// to any APRS setting regenerates the direwolf configuration and restarts
// it without losing the downstream writer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/graywave-core/migrations"

	"github.com/nerrad567/graywave-core/internal/direwolf"
	"github.com/nerrad567/graywave-core/internal/hfdl"
	"github.com/nerrad567/graywave-core/internal/infrastructure/config"
	"github.com/nerrad567/graywave-core/internal/infrastructure/database"
	"github.com/nerrad567/graywave-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/graywave-core/internal/infrastructure/logging"
	"github.com/nerrad567/graywave-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/graywave-core/internal/location"
	"github.com/nerrad567/graywave-core/internal/settings"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// defaultKISSPort is direwolf's own default KISS TCP port.
	defaultKISSPort = 8001

	// maxParseLine bounds one line of captured dumphfdl output.
	maxParseLine = 1024 * 1024
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command line interface. Running without a command
// starts the core.
func newApp() *cli.App {
	return &cli.App{
		Name:    "graywave",
		Usage:   "supervise receiver decoders and publish what they decode",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"GRAYWAVE_CONFIG"},
				Value:   defaultConfigPath,
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the decoders and the map service",
				Action: runAction,
			},
			{
				Name:  "render-direwolf",
				Usage: "print the direwolf configuration rendered from the current settings",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "service",
						Usage: "render for background (igate) mode",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "KISS TCP port to render",
						Value: defaultKISSPort,
					},
				},
				Action: renderDirewolfAction,
			},
			{
				Name:      "parse-hfdl",
				Usage:     "parse captured dumphfdl JSON output and print the positions found",
				ArgsUsage: "<file>",
				Action:    parseHFDLAction,
			},
		},
	}
}

func runAction(cCtx *cli.Context) error {
	return run(cCtx.Context, cCtx.String("config"))
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Wave Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	// Runtime settings: persisted values win over the file's seed values
	store := settings.NewStore(settings.NewSQLiteRepository(db.DB))
	store.SetLogger(log)
	if loadErr := store.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading settings: %w", loadErr)
	}
	seeded, err := store.Seed(ctx, seedSettings(cfg))
	if err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}
	log.Info("settings loaded", "seeded", seeded)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		if bindErr := settings.BindMQTT(store, mqttClient, direwolf.ConfigKeys...); bindErr != nil {
			return fmt.Errorf("binding settings to MQTT: %w", bindErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	locations := location.NewService(cfg.Map.LocationTTL)
	locations.SetLogger(log.With("component", "map"))
	locations.SetRepository(location.NewSQLiteRepository(db.DB), cfg.Map.HistoryRetention)
	if mqttClient != nil {
		locations.SetPublisher(mqttClient)
	}
	if influxClient != nil {
		locations.SetPointWriter(influxClient)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		locations.Run(gctx, cfg.Map.PruneInterval)
		return nil
	})

	if cfg.Decoders.Direwolf.Enabled {
		g.Go(func() error {
			return runDirewolf(gctx, cfg, store, log, decoderEvents("direwolf", log, mqttClient, influxClient))
		})
	} else {
		log.Info("direwolf disabled")
	}

	if cfg.Decoders.DumpHFDL.Enabled {
		g.Go(func() error {
			return runDumpHFDL(gctx, cfg, locations, log, decoderEvents("dumphfdl", log, mqttClient, influxClient))
		})
	} else {
		log.Info("dumphfdl disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	err = g.Wait()

	log.Info("Gray Wave Core stopped", "locations", locations.Count())
	return err
}

// openDatabase opens the configured database and applies migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// runDirewolf supervises direwolf until ctx is cancelled. Failing to reach
// its KISS port is fatal.
func runDirewolf(ctx context.Context, cfg *config.Config, store *settings.Store, log *logging.Logger, onEvent func(string, int)) error {
	dwLog := log.Decoder("direwolf")

	audio, err := openInput(cfg.Decoders.Direwolf.Input)
	if err != nil {
		return fmt.Errorf("opening direwolf input: %w", err)
	}
	defer audio.Close() //nolint:errcheck // read-only

	output := logging.NewLineWriter(dwLog.Logger, slog.LevelDebug, "direwolf output")
	defer output.Close() //nolint:errcheck // flushes the last partial line

	dw := direwolf.NewManager(direwolf.Config{
		Binary:          cfg.Decoders.Direwolf.Binary,
		Service:         cfg.Decoders.Direwolf.Service,
		TempDir:         cfg.Decoders.TempDir,
		ConnectAttempts: cfg.Decoders.Direwolf.ConnectAttempts,
		ConnectDelay:    cfg.Decoders.Direwolf.ConnectDelay,
		GracefulTimeout: cfg.Decoders.Direwolf.GracefulTimeout,
		Audio:           audio,
		Output:          output,
		OnEvent:         onEvent,
	}, store)
	dw.SetLogger(dwLog)
	dw.SetWriter(&kissSink{log: dwLog})

	if err := dw.Start(ctx); err != nil {
		dw.Stop() //nolint:errcheck // releases the config file and subscriptions
		return fmt.Errorf("starting direwolf: %w", err)
	}
	dwLog.Info("direwolf running", "port", dw.Port(), "config", dw.ConfigPath())

	<-ctx.Done()

	dwLog.Info("stopping direwolf")
	return dw.Stop()
}

// runDumpHFDL supervises dumphfdl until its input runs out or ctx is
// cancelled.
func runDumpHFDL(ctx context.Context, cfg *config.Config, updater location.Updater, log *logging.Logger, onEvent func(string, int)) error {
	hfLog := log.Decoder("dumphfdl")

	iq, err := openInput(cfg.Decoders.DumpHFDL.Input)
	if err != nil {
		return fmt.Errorf("opening dumphfdl input: %w", err)
	}
	defer iq.Close() //nolint:errcheck // read-only

	stderr := logging.NewLineWriter(hfLog.Logger, slog.LevelDebug, "dumphfdl output")
	defer stderr.Close() //nolint:errcheck // flushes the last partial line

	parser := hfdl.NewParser(updater)
	module := hfdl.NewModule(hfdl.Config{
		Binary:             cfg.Decoders.DumpHFDL.Binary,
		IQ:                 iq,
		Stderr:             stderr,
		RestartOnFailure:   cfg.Decoders.DumpHFDL.RestartOnFailure,
		RestartDelay:       cfg.Decoders.DumpHFDL.RestartDelay,
		MaxRestartAttempts: cfg.Decoders.DumpHFDL.MaxRestartAttempts,
		OnEvent:            onEvent,
	}, parser)
	module.SetLogger(hfLog)

	if err := module.Start(ctx); err != nil {
		return err
	}

	waitErr := module.Wait(ctx)
	if stopErr := module.Stop(); stopErr != nil {
		hfLog.Error("error stopping dumphfdl", "error", stopErr)
	}

	stats := module.Stats()
	hfLog.Info("dumphfdl finished",
		"lines", stats.Parser.Lines,
		"positions", stats.Parser.Positions,
		"errors", stats.Parser.Errors,
		"restarts", stats.Process.RestartCount,
	)

	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("dumphfdl: %w", waitErr)
	}
	return nil
}

// openInput opens a sample stream. "-" is standard input.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path) //nolint:gosec // path comes from the operator's config
}

// decoderStatus is the retained payload on graywave/decoder/{name}/status.
type decoderStatus struct {
	Decoder   string    `json:"decoder"`
	Event     string    `json:"event"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// decoderEvents returns a lifecycle callback that logs the event and
// records it in InfluxDB and MQTT when those are connected.
func decoderEvents(name string, log *logging.Logger, mqttClient *mqtt.Client, influxClient *influxdb.Client) func(string, int) {
	return func(event string, attempts int) {
		log.Info("decoder event", "decoder", name, "event", event, "attempts", attempts)

		if influxClient != nil {
			influxClient.WriteDecoderEvent(name, event, attempts)
		}
		if mqttClient != nil {
			payload, err := json.Marshal(decoderStatus{
				Decoder:   name,
				Event:     event,
				Attempts:  attempts,
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				return
			}
			if err := mqttClient.PublishRetained(mqtt.Topics{}.DecoderStatus(name), payload); err != nil {
				log.Warn("failed to publish decoder status", "decoder", name, "error", err)
			}
		}
	}
}

// kissSink receives the KISS stream from direwolf. Frame decoding happens
// downstream of the core; here the stream is only accounted for.
type kissSink struct {
	log   *logging.Logger
	bytes int
}

func (k *kissSink) Write(p []byte) (int, error) {
	k.bytes += len(p)
	k.log.Debug("kiss data", "bytes", len(p), "total", k.bytes)
	return len(p), nil
}

// seedSettings maps the file's APRS and receiver sections onto setting keys.
func seedSettings(cfg *config.Config) map[string]any {
	igate := cfg.APRS.Igate
	seed := map[string]any{
		direwolf.KeyCallsign:     cfg.APRS.Callsign,
		direwolf.KeyIgateEnabled: igate.Enabled,
		direwolf.KeyIgateServer:  igate.Server,
		direwolf.KeyIgateBeacon:  igate.Beacon,
		direwolf.KeyIgateSymbol:  igate.Symbol,
		direwolf.KeyIgateComment: igate.Comment,
	}
	if igate.Password != "" {
		seed[direwolf.KeyIgatePassword] = igate.Password
	}
	if igate.Gain != nil {
		seed[direwolf.KeyIgateGain] = *igate.Gain
	}
	if igate.Dir != nil {
		seed[direwolf.KeyIgateDir] = *igate.Dir
	}
	if igate.Height != nil {
		seed[direwolf.KeyIgateHeight] = *igate.Height
	}
	if gps := cfg.Receiver.GPS; gps != nil {
		seed[direwolf.KeyReceiverGPS] = map[string]any{"lat": gps.Lat, "lon": gps.Lon}
	}
	return seed
}

// overlaySettings returns an in-memory store holding defaults overridden
// by every value already in store. Nothing is written back.
func overlaySettings(ctx context.Context, store *settings.Store, defaults map[string]any) (*settings.Store, error) {
	overlay := settings.NewStore(nil)
	if err := overlay.Update(ctx, defaults); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := overlay.Update(ctx, store.Snapshot()); err != nil {
		return nil, fmt.Errorf("applying stored settings: %w", err)
	}
	return overlay, nil
}

func renderDirewolfAction(cCtx *cli.Context) error {
	ctx := cCtx.Context
	log := logging.Default()

	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only use

	store := settings.NewStore(settings.NewSQLiteRepository(db.DB))
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	overlay, err := overlaySettings(ctx, store, seedSettings(cfg))
	if err != nil {
		return err
	}
	snap := direwolf.SnapshotFrom(overlay)
	rendered := direwolf.Render(snap, cCtx.Int("port"), cCtx.Bool("service"), log)
	_, err = io.WriteString(cCtx.App.Writer, rendered)
	return err
}

func parseHFDLAction(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return fmt.Errorf("parse-hfdl takes exactly one file, got %d", cCtx.NArg())
	}

	f, err := os.Open(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	parser, err := parseCapture(f, cCtx.App.Writer, logging.Default())
	if err != nil {
		return err
	}

	stats := parser.Stats()
	fmt.Fprintf(cCtx.App.ErrWriter, "lines=%d messages=%d positions=%d errors=%d\n",
		stats.Lines, stats.Messages, stats.Positions, stats.Errors)
	return nil
}

// parseCapture runs every line of r through an HFDL parser and writes each
// position found to w as a JSON line.
func parseCapture(r io.Reader, w io.Writer, log *logging.Logger) (*hfdl.Parser, error) {
	enc := json.NewEncoder(w)
	parser := hfdl.NewParser(location.UpdaterFunc(func(u location.Update) error {
		if u.Timestamp.IsZero() {
			u.Timestamp = time.Now().UTC()
		}
		return enc.Encode(location.Entry{
			Key:       u.Source.Key(),
			Kind:      u.Source.Kind(),
			Source:    u.Source,
			Location:  u.Location,
			Tag:       u.Tag,
			Timestamp: u.Timestamp,
		})
	}))
	parser.SetLogger(log)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxParseLine)
	for scanner.Scan() {
		parser.Process(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return parser, fmt.Errorf("reading capture: %w", err)
	}
	return parser, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
