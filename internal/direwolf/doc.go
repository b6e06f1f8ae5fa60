// Package direwolf supervises the direwolf APRS decoder.
//
// direwolf reads 48 kHz audio samples on stdin and serves decoded packets
// as KISS frames on a TCP port. This package:
//
//   - Renders the direwolf configuration file from the settings store
//   - Picks a free loopback port for the KISS listener once per instance
//   - Launches direwolf and connects to its KISS port with bounded retries
//   - Bridges the KISS stream into a caller-supplied writer across restarts
//   - Restarts direwolf whenever one of the APRS settings changes
//
// Each Manager is an actor: start, restart and stop requests are handled one
// at a time by a single goroutine, so restarts never overlap.
//
// Example configuration (in config.yaml):
//
//	decoders:
//	  temp_dir: "/tmp"
//	  direwolf:
//	    enabled: true
//	    binary: "direwolf"
//	    input: "-"
//	    service: true
//	    connect_attempts: 21
//	    connect_delay: 500ms
package direwolf
