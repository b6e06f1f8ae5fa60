// Package hfdl runs the dumphfdl decoder and maps its output.
//
// Module supervises dumphfdl, feeding it complex float IQ samples at
// 12 kHz on stdin and passing every JSON line it prints to a Parser.
// Parser extracts aircraft positions from performance data, logon and
// enveloped ADS-C messages and reports them to the shared map tagged
// "HFDL".
package hfdl
