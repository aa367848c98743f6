// Package endpoint feeds datagrams and stream messages through decode,
// conformance checks, TP reassembly and SD payload decoding.
package endpoint
