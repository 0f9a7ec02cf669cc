// Package crisis screens inbound messages for risk language and produces the
// dedicated crisis prompt and the static, network-independent fallback.
//
// Detection is a keyword heuristic over versioned phrase lists. It is a
// best-effort gate, not a clinical assessment.
package crisis

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Severity ranks how urgent a matched indicator is.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityModerate:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Rule maps one phrase to a category and severity.
type Rule struct {
	Pattern  string   `yaml:"pattern"`
	Category string   `yaml:"category"`
	Severity Severity `yaml:"severity"`
}

// RuleSet is a versioned list of rules.
type RuleSet struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Assessment is the result of screening one message.
type Assessment struct {
	Triggered bool
	Severity  Severity
	Matched   []string
}

//go:embed data/rules.yaml
var defaultRules []byte

// DefaultRules returns the embedded rule set.
func DefaultRules() RuleSet {
	rs, err := LoadRules(bytes.NewReader(defaultRules))
	if err != nil {
		panic(fmt.Sprintf("crisis: embedded rules: %v", err))
	}
	return rs
}

// LoadRules decodes a YAML (or JSON) rule set and validates it.
func LoadRules(r io.Reader) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.NewDecoder(r).Decode(&rs); err != nil {
		return RuleSet{}, fmt.Errorf("crisis: decode rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return RuleSet{}, errors.New("crisis: rule set has no rules")
	}
	for i, rule := range rs.Rules {
		if canonical(rule.Pattern) == "" {
			return RuleSet{}, fmt.Errorf("crisis: rule %d has an empty pattern", i)
		}
		if rule.Severity.rank() == 0 {
			return RuleSet{}, fmt.Errorf("crisis: rule %q has invalid severity %q", rule.Pattern, rule.Severity)
		}
	}
	return rs, nil
}

type compiledRule struct {
	needle   string
	pattern  string
	severity Severity
}

// Detector matches messages against a rule set. It is safe for concurrent
// use.
type Detector struct {
	version string
	rules   []compiledRule
}

// NewDetector compiles rs.
func NewDetector(rs RuleSet) (*Detector, error) {
	if len(rs.Rules) == 0 {
		return nil, errors.New("crisis: rule set has no rules")
	}
	d := &Detector{version: rs.Version}
	for _, rule := range rs.Rules {
		c := canonical(rule.Pattern)
		if c == "" {
			return nil, fmt.Errorf("crisis: empty pattern in rule set %s", rs.Version)
		}
		d.rules = append(d.rules, compiledRule{needle: " " + c + " ", pattern: rule.Pattern, severity: rule.Severity})
	}
	return d, nil
}

// Version reports the rule set version the detector was built from.
func (d *Detector) Version() string { return d.version }

// Assess screens text. Triggered is true when any rule matches; Severity is
// the highest matched severity.
func (d *Detector) Assess(text string) Assessment {
	a := Assessment{Severity: SeverityNone}
	hay := " " + canonical(text) + " "
	if hay == "  " {
		return a
	}
	for _, r := range d.rules {
		if !strings.Contains(hay, r.needle) {
			continue
		}
		a.Triggered = true
		a.Matched = append(a.Matched, r.pattern)
		if r.severity.rank() > a.Severity.rank() {
			a.Severity = r.severity
		}
	}
	return a
}

// canonical lowercases s, folds typographic apostrophes, turns every other
// non-alphanumeric rune into a space and collapses runs of spaces.
func canonical(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '’' || r == '‘' || r == '\'':
			b.WriteRune('\'')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
