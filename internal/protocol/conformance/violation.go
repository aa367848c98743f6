package conformance

import (
	"fmt"
	"strings"
)

// Rule names one conformance check.
type Rule string

const (
	RuleLength          Rule = "length"
	RuleLengthMismatch  Rule = "length_mismatch"
	RuleProtocolVersion Rule = "protocol_version"
	RuleMessageType     Rule = "message_type"
	RuleReturnCode      Rule = "return_code"
	RuleSessionID       Rule = "session_id"

	RuleSDMessageType   Rule = "sd_message_type"
	RuleSDClientID      Rule = "sd_client_id"
	RuleSDReboot        Rule = "sd_reboot_flag"
	RuleSDReservedFlags Rule = "sd_reserved_flags"
	RuleSDStructure     Rule = "sd_structure"

	RuleTPHeader    Rule = "tp_header"
	RuleTPFlags     Rule = "tp_more_segments"
	RuleTPAlignment Rule = "tp_offset_alignment"
)

// IsTP reports whether r checks the TP header of a segment.
func (r Rule) IsTP() bool {
	switch r {
	case RuleTPHeader, RuleTPFlags, RuleTPAlignment:
		return true
	default:
		return false
	}
}

type Violation struct {
	Rule   Rule
	Field  string
	Reason string
}

func (v Violation) Error() string {
	if v.Field == "" {
		return fmt.Sprintf("conformance: %s: %s", v.Rule, v.Reason)
	}
	return fmt.Sprintf("conformance: %s field=%s: %s", v.Rule, v.Field, v.Reason)
}

type Violations []Violation

func (vs Violations) Has(rule Rule) bool {
	for _, v := range vs {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func (vs Violations) Filter(keep func(Violation) bool) Violations {
	var out Violations
	for _, v := range vs {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Rules lists the distinct rules in report order.
func (vs Violations) Rules() []Rule {
	out := make([]Rule, 0, len(vs))
	seen := make(map[Rule]bool, len(vs))
	for _, v := range vs {
		if !seen[v.Rule] {
			seen[v.Rule] = true
			out = append(out, v.Rule)
		}
	}
	return out
}

// Err joins the violations into one error, or nil when there are none.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(vs))
	for _, v := range vs {
		msgs = append(msgs, v.Error())
	}
	return fmt.Errorf("%d violations: %s", len(vs), strings.Join(msgs, "; "))
}
