package logging

import (
	"regexp"
	"strings"
)

// Redactor scrubs personally identifiable information from log output.
// Fact contexts carry claimant data (SSNs, emails, card numbers), and any
// of it can surface in rule warnings or collaborator errors, so redaction
// runs over every string attribute before a record is written.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// RedactPattern is a user-supplied redaction rule from configuration.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// Built-in pattern names.
const (
	PatternEmail      = "email"
	PatternSSN        = "ssn"
	PatternCreditCard = "credit_card"
	PatternPhone      = "phone"
)

// NewRedactor builds a redactor with the built-in patterns plus any custom
// ones. Custom patterns that fail to compile are skipped.
func NewRedactor(custom []RedactPattern) *Redactor {
	r := &Redactor{}
	r.addDefaultPatterns()

	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r
}

func (r *Redactor) addDefaultPatterns() {
	defaults := []struct {
		name        string
		regex       string
		replacement string
	}{
		{
			name:        PatternSSN,
			regex:       `\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`,
			replacement: "***-**-****",
		},
		{
			name:        PatternCreditCard,
			regex:       `\b(?:\d[ -]*?){13,16}\b`,
			replacement: "****-****-****-****",
		},
		{
			name:        PatternEmail,
			regex:       `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			replacement: "***@***",
		},
		{
			name:        PatternPhone,
			regex:       `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`,
			replacement: "***-***-****",
		},
	}

	for _, p := range defaults {
		r.patterns = append(r.patterns, redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}
}

// RedactString scrubs all known PII patterns from a string value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, pattern := range r.patterns {
		value = pattern.regex.ReplaceAllString(value, pattern.replacement)
	}
	return value
}

// sensitiveKeys are attribute names whose values are masked entirely,
// regardless of whether the value matches a pattern.
var sensitiveKeys = []string{
	"ssn", "social_security",
	"credit_card", "card_number",
	"password", "secret", "token", "api_key",
	"date_of_birth", "dob",
}

// IsSensitiveKey reports whether an attribute key names sensitive data.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactValue masks a sensitive value, keeping a short prefix as a hint.
func (r *Redactor) RedactValue(value string) string {
	if len(value) <= 4 {
		return "***"
	}
	return value[:4] + "***"
}
