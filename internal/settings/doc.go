// Package settings holds the runtime configuration of the receiver.
//
// Unlike the YAML configuration, which is read once at startup, settings
// may change while decoders are running: an operator changes the APRS
// callsign over MQTT and the direwolf supervisor regenerates its config
// file and restarts the decoder.
//
// The package provides:
//   - Store: an in-memory cache over a persistent Repository, with
//     key-filtered change subscriptions (Filter(...).Wire(cb)).
//   - SQLiteRepository: persistence in the settings table.
//   - Notifier: shares one filtered store subscription between any number
//     of subscribers, fanning each change out to all of them.
//   - BindMQTT: applies changes published to graywave/settings/set/{key}.
//
// Values are JSON-encoded in the repository and held decoded in the cache,
// so numbers are float64, objects are map[string]any and so on.
package settings
