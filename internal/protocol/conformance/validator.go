package conformance

import (
	"fmt"

	"github.com/danmuck/someip/internal/observability"
	"github.com/danmuck/someip/internal/protocol/sd"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ProtocolVersion uint8
	// Unit is the TP offset alignment checked on segment headers.
	Unit uint32
}

func DefaultConfig() Config {
	return Config{
		ProtocolVersion: someip.DefaultProtocolVersion,
		Unit:            tp.WireUnit,
	}
}

// Context carries what the caller knows about the message's sender.
type Context struct {
	// FirstSD is set when this is the first SD message seen from the peer.
	FirstSD bool
}

// Validator is stateless and safe for concurrent use.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	if cfg.Unit == 0 {
		cfg.Unit = tp.WireUnit
	}
	return &Validator{cfg: cfg}
}

func (v *Validator) Config() Config {
	return v.cfg
}

// Report is the outcome of Check.
type Report struct {
	Violations Violations
	// SD is the decoded service discovery payload when it is well formed.
	SD *sd.Payload
}

// Validate runs every rule against msg and returns all violations.
func (v *Validator) Validate(msg *someip.Message, ctx Context) Violations {
	return v.Check(msg, ctx).Violations
}

// Check is Validate that also hands back the SD payload decoded while
// checking its structure.
func (v *Validator) Check(msg *someip.Message, ctx Context) Report {
	if msg == nil {
		return Report{Violations: Violations{{Rule: RuleLength, Reason: "no message"}}}
	}
	h := msg.Header
	log.Debug().
		Uint32("message_id", h.MessageID()).
		Str("type", h.MessageType.String()).
		Int("payload", len(msg.Payload)).
		Msg("conformance.Validate")

	var (
		out     Violations
		payload *sd.Payload
	)
	out = v.checkHeader(out, msg)
	if h.IsSD() {
		out, payload = v.checkSD(out, msg, ctx)
	}
	if h.MessageType.UsesTP() {
		out = v.checkTP(out, msg)
	}

	for _, violation := range out {
		observability.RecordViolation(string(violation.Rule))
		log.Debug().
			Str("rule", string(violation.Rule)).
			Str("field", violation.Field).
			Str("reason", violation.Reason).
			Msg("conformance.Validate violation")
	}
	return Report{Violations: out, SD: payload}
}

func (v *Validator) checkHeader(out Violations, msg *someip.Message) Violations {
	h := msg.Header
	if h.Length < someip.LengthCovered {
		out = append(out, Violation{
			Rule:   RuleLength,
			Field:  "length",
			Reason: fmt.Sprintf("%d is below the minimum %d", h.Length, someip.LengthCovered),
		})
	} else if want := uint32(someip.LengthCovered + len(msg.Payload)); h.Length != want {
		out = append(out, Violation{
			Rule:   RuleLengthMismatch,
			Field:  "length",
			Reason: fmt.Sprintf("%d does not match payload, want %d", h.Length, want),
		})
	}
	if h.ProtocolVersion != v.cfg.ProtocolVersion {
		out = append(out, Violation{
			Rule:   RuleProtocolVersion,
			Field:  "protocol_version",
			Reason: fmt.Sprintf("got %d, expected %d", h.ProtocolVersion, v.cfg.ProtocolVersion),
		})
	}
	if !h.MessageType.Known() {
		out = append(out, Violation{
			Rule:   RuleMessageType,
			Field:  "message_type",
			Reason: fmt.Sprintf("0x%02x is not a known message type", uint8(h.MessageType)),
		})
	}
	if !h.ReturnCode.Known() {
		out = append(out, Violation{
			Rule:   RuleReturnCode,
			Field:  "return_code",
			Reason: fmt.Sprintf("0x%02x is not a known return code", uint8(h.ReturnCode)),
		})
	}
	if h.SessionID == 0 && h.MessageType.IsRequest() {
		out = append(out, Violation{
			Rule:   RuleSessionID,
			Field:  "session_id",
			Reason: fmt.Sprintf("session id 0 on %s", h.MessageType),
		})
	}
	return out
}

func (v *Validator) checkSD(out Violations, msg *someip.Message, ctx Context) (Violations, *sd.Payload) {
	h := msg.Header
	if h.MessageType != someip.TypeNotification {
		out = append(out, Violation{
			Rule:   RuleSDMessageType,
			Field:  "message_type",
			Reason: fmt.Sprintf("SD messages are NOTIFICATION, got %s", h.MessageType),
		})
	}
	if h.ClientID != 0 {
		out = append(out, Violation{
			Rule:   RuleSDClientID,
			Field:  "client_id",
			Reason: fmt.Sprintf("SD client id must be 0, got 0x%04x", h.ClientID),
		})
	}
	if len(msg.Payload) == 0 {
		return append(out, Violation{Rule: RuleSDStructure, Field: "payload", Reason: "empty SD payload"}), nil
	}

	flags := sd.Flags(msg.Payload[0])
	if ctx.FirstSD && !flags.Reboot() {
		out = append(out, Violation{
			Rule:   RuleSDReboot,
			Field:  "flags",
			Reason: "reboot flag clear on the first SD message",
		})
	}
	if reserved := flags.ReservedBits(); reserved != 0 {
		out = append(out, Violation{
			Rule:   RuleSDReservedFlags,
			Field:  "flags",
			Reason: fmt.Sprintf("reserved bits 0x%02x set", uint8(reserved)),
		})
	}
	payload, err := sd.DecodePayload(msg.Payload)
	if err != nil {
		return append(out, Violation{Rule: RuleSDStructure, Field: "payload", Reason: err.Error()}), nil
	}
	return out, &payload
}

func (v *Validator) checkTP(out Violations, msg *someip.Message) Violations {
	th, err := tp.ParseHeader(msg.Payload)
	if err != nil {
		return append(out, Violation{Rule: RuleTPHeader, Field: "tp_header", Reason: err.Error()})
	}
	if th.Flags > 1 {
		out = append(out, Violation{
			Rule:   RuleTPFlags,
			Field:  "more_segments",
			Reason: fmt.Sprintf("flags nibble 0x%x has reserved bits set", th.Flags),
		})
	}
	if th.Offset%v.cfg.Unit != 0 {
		out = append(out, Violation{
			Rule:   RuleTPAlignment,
			Field:  "offset",
			Reason: fmt.Sprintf("offset %d is not a multiple of %d", th.Offset, v.cfg.Unit),
		})
	}
	return out
}
