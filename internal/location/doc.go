// Package location provides the shared map of decoded positions.
//
// Decoders report positions through the Updater interface. The Service keeps
// the latest position per source, records every report in the positions
// history table, publishes each update as a retained MQTT message on
// graywave/map/location/{key} and writes it to InfluxDB. Positions that have
// not been refreshed within the configured TTL are pruned from the map.
//
// # Thread Safety
//
// Service is safe for concurrent use from multiple goroutines.
// SQLiteRepository relies on database/sql for its concurrency guarantees.
package location
