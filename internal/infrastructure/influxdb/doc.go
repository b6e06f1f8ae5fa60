// Package influxdb provides InfluxDB connectivity for Gray Wave Core.
//
// It wraps the official influxdb-client-go v2 library. Decoded positions are
// written as time-series points so tracks can be replayed and charted long
// after the in-memory map has expired them; decoder lifecycle events
// (starts, restarts, connect attempts) are recorded alongside.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteLocation(influxdb.LocationPoint{
//	    SourceKey: "icao:3c6444", SourceKind: "icao", Tag: "HFDL",
//	    Lat: 45.0, Lon: -93.0, Time: ts,
//	})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; asynchronous write errors are delivered to the callback
// registered with SetOnError.
package influxdb
