// Package config handles loading and validating Gray Wave Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Two kinds of values live here. Infrastructure settings (database, MQTT,
// decoder binaries, retry constants) are read once at startup. APRS settings
// only seed the runtime settings store; after the first start they are owned
// by the store and may change while decoders are running.
//
// Security Considerations:
//   - Sensitive values (igate password, MQTT password, InfluxDB token) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.APRS.Callsign)
package config
