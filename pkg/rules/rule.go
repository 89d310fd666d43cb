package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// forwardTargetPattern accepts transport recipient identifiers such as
// "5511999999999@c.us", "-1001234567890", "@channel" or a Discord snowflake.
var forwardTargetPattern = regexp.MustCompile(`^[A-Za-z0-9@._:+-]{1,128}$`)

// Rule maps message triggers to an automated reply and/or a lead forward.
type Rule struct {
	// Triggers are lowercase substrings matched against the inbound text.
	Triggers []string `json:"triggers" yaml:"triggers"`
	// Response is the direct reply. Nil means no reply is sent.
	Response *string `json:"response" yaml:"response"`
	// LeadQualifier marks matches as leads to be forwarded to ForwardTarget.
	LeadQualifier bool   `json:"lead_qualifier,omitempty" yaml:"lead_qualifier,omitempty"`
	ForwardTarget string `json:"forward_target,omitempty" yaml:"forward_target,omitempty"`
	ForwardPrefix string `json:"forward_prefix,omitempty" yaml:"forward_prefix,omitempty"`
}

// RuleSet is an ordered rule list. The first matching rule wins.
type RuleSet []Rule

// Text returns a response pointer for literal rule construction.
func Text(value string) *string {
	return &value
}

// HasResponse reports whether the rule sends a direct reply.
func (r Rule) HasResponse() bool {
	return r.Response != nil
}

// ForwardsLead reports whether matches are forwarded to a lead recipient.
func (r Rule) ForwardsLead() bool {
	return r.LeadQualifier && r.ForwardTarget != ""
}

// Normalize trims and lowercases triggers, drops empty ones, and collapses a
// blank response to nil.
func (r Rule) Normalize() Rule {
	triggers := make([]string, 0, len(r.Triggers))
	for _, trigger := range r.Triggers {
		normalized := strings.ToLower(strings.TrimSpace(trigger))
		if normalized == "" {
			continue
		}
		triggers = append(triggers, normalized)
	}

	out := Rule{
		Triggers:      slices.Clip(triggers),
		LeadQualifier: r.LeadQualifier,
		ForwardTarget: strings.TrimSpace(r.ForwardTarget),
		ForwardPrefix: strings.TrimSpace(r.ForwardPrefix),
	}
	if r.Response != nil {
		if response := strings.TrimSpace(*r.Response); response != "" {
			out.Response = &response
		}
	}

	return out
}

// Validate checks the rule invariants on an already normalized rule.
func (r Rule) Validate() error {
	if len(r.Triggers) == 0 && !r.LeadQualifier {
		return NewError(ErrorInvalidRule, "rule needs at least one trigger or must be a lead qualifier")
	}

	if r.LeadQualifier {
		if r.ForwardTarget == "" {
			return NewError(ErrorInvalidRule, "lead qualifier rules require a forward target")
		}
		if !ValidRecipient(r.ForwardTarget) {
			return NewError(ErrorInvalidRule, fmt.Sprintf("forward target %q is not a valid recipient identifier", r.ForwardTarget))
		}
	}

	if !r.HasResponse() && !r.ForwardsLead() {
		return NewError(ErrorInvalidRule, "rule needs a response or a lead forward target")
	}

	return nil
}

// Prepare normalizes and validates a rule in one step.
func Prepare(r Rule) (Rule, error) {
	normalized := r.Normalize()
	if err := normalized.Validate(); err != nil {
		return Rule{}, err
	}

	return normalized, nil
}

// ValidRecipient reports whether value looks like a transport recipient id.
func ValidRecipient(value string) bool {
	return forwardTargetPattern.MatchString(value)
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	out.Triggers = slices.Clone(r.Triggers)
	if r.Response != nil {
		response := *r.Response
		out.Response = &response
	}

	return out
}

// Equal compares two rules field by field.
func (r Rule) Equal(other Rule) bool {
	if !slices.Equal(r.Triggers, other.Triggers) {
		return false
	}
	if r.HasResponse() != other.HasResponse() {
		return false
	}
	if r.HasResponse() && *r.Response != *other.Response {
		return false
	}

	return r.LeadQualifier == other.LeadQualifier &&
		r.ForwardTarget == other.ForwardTarget &&
		r.ForwardPrefix == other.ForwardPrefix
}

// Clone returns a deep copy of the set.
func (s RuleSet) Clone() RuleSet {
	if s == nil {
		return RuleSet{}
	}

	out := make(RuleSet, len(s))
	for i, rule := range s {
		out[i] = rule.Clone()
	}

	return out
}

// Equal compares two sets in order.
func (s RuleSet) Equal(other RuleSet) bool {
	return slices.EqualFunc(s, other, Rule.Equal)
}
