// Package aeronautical turns decoded aircraft datalink messages into map
// positions.
//
// Decoders such as dumphfdl print one JSON document per line. Processor
// decodes those lines into a Message, normalises flight numbers and
// extracts ADS-C basic reports from enveloped ACARS. Link-specific parsers
// (see package hfdl) embed a Processor and add their own inspection.
package aeronautical
