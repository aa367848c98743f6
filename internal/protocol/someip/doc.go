// Package someip owns the fixed SOME/IP header contract.
//
// Ownership boundary:
// - 16-byte header encode/decode
// - message/return code enumerations
// - stream framing for TCP bindings
package someip
