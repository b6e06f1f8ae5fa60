package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Wave Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Receiver ReceiverConfig `yaml:"receiver"`
	APRS     APRSConfig     `yaml:"aprs"`
	Decoders DecodersConfig `yaml:"decoders"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Map      MapConfig      `yaml:"map"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ReceiverConfig contains receiver-specific information.
type ReceiverConfig struct {
	Name string `yaml:"name"`

	// GPS is the receiver position. Used for the APRS position beacon.
	GPS *GPSConfig `yaml:"gps,omitempty"`
}

// GPSConfig contains geographic coordinates in decimal degrees.
type GPSConfig struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// APRSConfig holds the initial values of the APRS settings.
//
// These only seed the settings store. Once a key has been persisted, the
// stored value wins and changes arrive through the store, not this file.
type APRSConfig struct {
	Callsign string      `yaml:"callsign"`
	Igate    IgateConfig `yaml:"igate"`
}

// IgateConfig contains the APRS internet gateway settings.
// Pointer fields are optional; nil means "not configured".
type IgateConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Server   string  `yaml:"server"`
	Password string  `yaml:"password"`
	Beacon   bool    `yaml:"beacon"`
	Symbol   string  `yaml:"symbol"`
	Comment  string  `yaml:"comment"`
	Gain     *int    `yaml:"gain,omitempty"`
	Dir      *string `yaml:"dir,omitempty"`
	Height   *string `yaml:"height,omitempty"`
}

// DecodersConfig contains settings for the supervised decoder processes.
type DecodersConfig struct {
	// TempDir holds generated decoder configuration files.
	// Default: os.TempDir()
	TempDir string `yaml:"temp_dir"`

	Direwolf DirewolfConfig `yaml:"direwolf"`
	DumpHFDL DumpHFDLConfig `yaml:"dumphfdl"`
}

// DirewolfConfig contains settings for managing the direwolf APRS decoder.
type DirewolfConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`

	// Input is the file of 16-bit signed little-endian mono audio at
	// 48 kHz fed to direwolf. "-" reads standard input.
	Input string `yaml:"input"`

	// Service enables background (igate) mode. The igate block is only
	// rendered into the direwolf configuration when this is true.
	Service bool `yaml:"service"`

	// ConnectAttempts is how many times to dial the KISS port after start.
	// Default: 21
	ConnectAttempts int `yaml:"connect_attempts"`

	// ConnectDelay is the pause between connection attempts.
	// Default: 500ms
	ConnectDelay time.Duration `yaml:"connect_delay"`

	// GracefulTimeout is how long to wait for direwolf to exit before SIGKILL.
	// Default: 10s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// DumpHFDLConfig contains settings for managing the dumphfdl decoder.
type DumpHFDLConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`

	// Input is the file of CF32 IQ samples at 12 kHz fed to dumphfdl.
	// "-" reads standard input.
	Input string `yaml:"input"`

	RestartOnFailure   bool          `yaml:"restart_on_failure"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MapConfig contains settings for the shared location map.
type MapConfig struct {
	// LocationTTL is how long a position stays on the map without updates.
	LocationTTL time.Duration `yaml:"location_ttl"`

	// PruneInterval is how often expired positions are removed.
	PruneInterval time.Duration `yaml:"prune_interval"`

	// HistoryRetention is how long position history is kept in the
	// database. 0 keeps it forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYWAVE_SECTION_KEY
// For example: GRAYWAVE_DATABASE_PATH, GRAYWAVE_APRS_CALLSIGN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Receiver: ReceiverConfig{
			Name: "Gray Wave",
		},
		APRS: APRSConfig{
			Callsign: "N0CALL",
			Igate: IgateConfig{
				Server: "noam.aprs2.net",
				Symbol: "R&",
			},
		},
		Decoders: DecodersConfig{
			TempDir: os.TempDir(),
			Direwolf: DirewolfConfig{
				Binary:          "direwolf",
				ConnectAttempts: 21,
				ConnectDelay:    500 * time.Millisecond,
				GracefulTimeout: 10 * time.Second,
			},
			DumpHFDL: DumpHFDLConfig{
				Binary:             "dumphfdl",
				RestartOnFailure:   true,
				RestartDelay:       5 * time.Second,
				MaxRestartAttempts: 10,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/graywave.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graywave-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Map: MapConfig{
			LocationTTL:      time.Hour,
			PruneInterval:    time.Minute,
			HistoryRetention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYWAVE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYWAVE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Decoders
	if v := os.Getenv("GRAYWAVE_TEMP_DIR"); v != "" {
		cfg.Decoders.TempDir = v
	}
	if v := os.Getenv("GRAYWAVE_DIREWOLF_BINARY"); v != "" {
		cfg.Decoders.Direwolf.Binary = v
	}
	if v := os.Getenv("GRAYWAVE_DUMPHFDL_BINARY"); v != "" {
		cfg.Decoders.DumpHFDL.Binary = v
	}
	if v := os.Getenv("GRAYWAVE_DIREWOLF_INPUT"); v != "" {
		cfg.Decoders.Direwolf.Input = v
	}
	if v := os.Getenv("GRAYWAVE_DUMPHFDL_INPUT"); v != "" {
		cfg.Decoders.DumpHFDL.Input = v
	}

	// APRS - the igate password is a credential and should not live in the file
	if v := os.Getenv("GRAYWAVE_APRS_CALLSIGN"); v != "" {
		cfg.APRS.Callsign = v
	}
	if v := os.Getenv("GRAYWAVE_APRS_IGATE_PASSWORD"); v != "" {
		cfg.APRS.Igate.Password = v
	}

	// MQTT
	if v := os.Getenv("GRAYWAVE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYWAVE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYWAVE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYWAVE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYWAVE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Decoders.TempDir == "" {
		errs = append(errs, "decoders.temp_dir is required")
	}

	if c.Decoders.Direwolf.Enabled {
		if c.Decoders.Direwolf.Binary == "" {
			errs = append(errs, "decoders.direwolf.binary is required")
		}
		if c.Decoders.Direwolf.ConnectAttempts < 1 {
			errs = append(errs, "decoders.direwolf.connect_attempts must be at least 1")
		}
		if c.Decoders.Direwolf.ConnectDelay < 0 {
			errs = append(errs, "decoders.direwolf.connect_delay must not be negative")
		}
		if c.Decoders.Direwolf.Input == "" {
			errs = append(errs, "decoders.direwolf.input is required")
		}
		if strings.TrimSpace(c.APRS.Callsign) == "" {
			errs = append(errs, "aprs.callsign is required when direwolf is enabled")
		}
	}

	if c.Decoders.DumpHFDL.Enabled {
		if c.Decoders.DumpHFDL.Binary == "" {
			errs = append(errs, "decoders.dumphfdl.binary is required")
		}
		if c.Decoders.DumpHFDL.Input == "" {
			errs = append(errs, "decoders.dumphfdl.input is required")
		}
	}

	if c.Decoders.Direwolf.Input == "-" && c.Decoders.DumpHFDL.Input == "-" &&
		c.Decoders.Direwolf.Enabled && c.Decoders.DumpHFDL.Enabled {
		errs = append(errs, "only one decoder can read standard input")
	}

	if gps := c.Receiver.GPS; gps != nil {
		if gps.Lat < -90 || gps.Lat > 90 {
			errs = append(errs, "receiver.gps.lat must be between -90 and 90")
		}
		if gps.Lon < -180 || gps.Lon > 180 {
			errs = append(errs, "receiver.gps.lon must be between -180 and 180")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Map.LocationTTL < 0 {
		errs = append(errs, "map.location_ttl must not be negative")
	}
	if c.Map.HistoryRetention < 0 {
		errs = append(errs, "map.history_retention must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
