// Package sd owns the Service Discovery payload carried on 0xFFFF/0x8100.
//
// Ownership boundary:
// - entry and option records
// - payload encode/decode with option index bounds
// - sender session/reboot flag state and receiver reboot tracking
package sd
