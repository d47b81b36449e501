package scrub

// Built-in PII patterns. Order matters: more specific shapes come first so
// they claim overlapping regions before the generic ones.
var defaultPIIPatterns = []PatternSpec{
	{Name: "email", Severity: SeverityMedium,
		Expr: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	{Name: "ssn", Severity: SeverityMedium,
		Expr: `\b\d{3}-\d{2}-\d{4}\b`},
	{Name: "credit_card", Severity: SeverityMedium,
		Expr: `\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`},
	{Name: "phone", Severity: SeverityMedium,
		Expr: `\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s][0-9]{4}\b`},
	{Name: "ip_address", Severity: SeverityLow,
		Expr: `\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`},
}

// PIIScrubber detects personally identifiable information.
type PIIScrubber struct {
	patternScanner
}

// NewPIIScrubber creates a scrubber with the built-in PII pattern library.
func NewPIIScrubber() *PIIScrubber {
	patterns, err := compilePatterns(defaultPIIPatterns)
	if err != nil {
		// Built-in patterns are compile-time constants; failure is a bug.
		panic(err)
	}
	return &PIIScrubber{patternScanner{patterns: patterns}}
}

// NewPIIScrubberWithPatterns creates a scrubber from a custom pattern set,
// typically supplied by configuration or test fixtures.
func NewPIIScrubberWithPatterns(specs []PatternSpec) (*PIIScrubber, error) {
	patterns, err := compilePatterns(specs)
	if err != nil {
		return nil, err
	}
	return &PIIScrubber{patternScanner{patterns: patterns}}, nil
}
