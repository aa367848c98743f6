// Package conformance checks decoded SOME/IP messages against the protocol's
// value rules and reports every violation found.
package conformance
