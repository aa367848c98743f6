// Package tp owns SOME/IP-TP segmentation and reassembly.
//
// Ownership boundary:
// - 4-byte TP header encode/decode
// - sender side segmentation of oversized payloads
// - receiver side reassembly buffers, timeout sweep and reset
package tp
