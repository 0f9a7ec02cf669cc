// Package validate scans outgoing assistant text for disallowed content and
// missing supportive language. Results are advisory.
package validate

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"regexp"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// IssueKind names one validation finding.
type IssueKind string

const (
	IssueHarmfulLanguage         IssueKind = "harmful_language"
	IssueMedicalAdvice           IssueKind = "medical_advice"
	IssueLacksSupportiveLanguage IssueKind = "lacks_supportive_language"
	IssueTooLong                 IssueKind = "too_long"
)

// Result is the outcome of validating one response.
type Result struct {
	Valid                 bool
	Issues                []IssueKind
	HasSupportiveLanguage bool
	Length                int
}

// Has reports whether the result contains kind.
func (r Result) Has(kind IssueKind) bool {
	for _, k := range r.Issues {
		if k == kind {
			return true
		}
	}
	return false
}

// Strings returns the issue kinds as plain strings.
func (r Result) Strings() []string {
	out := make([]string, 0, len(r.Issues))
	for _, k := range r.Issues {
		out = append(out, string(k))
	}
	return out
}

// Rules is a versioned set of regular expressions, matched
// case-insensitively.
type Rules struct {
	Version             string   `yaml:"version"`
	MaxLength           int      `yaml:"max_length"`
	SupportiveMinLength int      `yaml:"supportive_min_length"`
	Harmful             []string `yaml:"harmful"`
	Medical             []string `yaml:"medical"`
	Supportive          []string `yaml:"supportive"`
}

//go:embed data/rules.yaml
var defaultRules []byte

// DefaultRules returns the embedded rule set.
func DefaultRules() Rules {
	r, err := LoadRules(bytes.NewReader(defaultRules))
	if err != nil {
		panic(fmt.Sprintf("validate: embedded rules: %v", err))
	}
	return r
}

// LoadRules decodes a YAML (or JSON) rule set.
func LoadRules(r io.Reader) (Rules, error) {
	var rules Rules
	if err := yaml.NewDecoder(r).Decode(&rules); err != nil {
		return Rules{}, fmt.Errorf("validate: decode rules: %w", err)
	}
	if rules.MaxLength <= 0 {
		return Rules{}, errors.New("validate: max_length must be positive")
	}
	return rules, nil
}

// Validator is safe for concurrent use.
type Validator struct {
	version             string
	maxLength           int
	supportiveMinLength int
	harmful             []*regexp.Regexp
	medical             []*regexp.Regexp
	supportive          []*regexp.Regexp
}

// New compiles rules.
func New(rules Rules) (*Validator, error) {
	if rules.MaxLength <= 0 {
		return nil, errors.New("validate: max_length must be positive")
	}
	v := &Validator{
		version:             rules.Version,
		maxLength:           rules.MaxLength,
		supportiveMinLength: rules.SupportiveMinLength,
	}
	var err error
	if v.harmful, err = compileAll("harmful", rules.Harmful); err != nil {
		return nil, err
	}
	if v.medical, err = compileAll("medical", rules.Medical); err != nil {
		return nil, err
	}
	if v.supportive, err = compileAll("supportive", rules.Supportive); err != nil {
		return nil, err
	}
	return v, nil
}

// Version reports the rule set version.
func (v *Validator) Version() string { return v.version }

// Validate runs every scan and reports all issues found.
func (v *Validator) Validate(text string) Result {
	res := Result{Length: utf8.RuneCountInString(text)}
	if anyMatch(v.harmful, text) {
		res.Issues = append(res.Issues, IssueHarmfulLanguage)
	}
	if anyMatch(v.medical, text) {
		res.Issues = append(res.Issues, IssueMedicalAdvice)
	}
	res.HasSupportiveLanguage = anyMatch(v.supportive, text)
	if !res.HasSupportiveLanguage && res.Length > v.supportiveMinLength {
		res.Issues = append(res.Issues, IssueLacksSupportiveLanguage)
	}
	if res.Length > v.maxLength {
		res.Issues = append(res.Issues, IssueTooLong)
	}
	res.Valid = len(res.Issues) == 0
	return res
}

func compileAll(group string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("validate: compile %s pattern %q: %w", group, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
