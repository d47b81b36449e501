package scrub

// Built-in secret patterns. All default to high severity: a credential-shaped
// hit forces sensitive classification regardless of what the caller requested.
var defaultSecretPatterns = []PatternSpec{
	{Name: "private_key", Severity: SeverityHigh,
		Expr: `-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`},
	{Name: "aws_access_key", Severity: SeverityHigh,
		Expr: `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`},
	{Name: "bearer_token", Severity: SeverityHigh,
		Expr: `(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`},
	{Name: "api_key_assignment", Severity: SeverityHigh,
		Expr: `(?i)\b(?:api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token)\s*[:=]\s*["']?[A-Za-z0-9\-._/+]{16,}["']?`},
	{Name: "password_assignment", Severity: SeverityHigh,
		Expr: `(?i)\b(?:password|passwd|pwd)\s*[:=]\s*["']?[^\s"']{8,}["']?`},
}

// SecretsDetector detects credential-shaped secrets.
type SecretsDetector struct {
	patternScanner
}

// NewSecretsDetector creates a detector with the built-in secret pattern library.
func NewSecretsDetector() *SecretsDetector {
	patterns, err := compilePatterns(defaultSecretPatterns)
	if err != nil {
		panic(err)
	}
	return &SecretsDetector{patternScanner{patterns: patterns}}
}

// NewSecretsDetectorWithPatterns creates a detector from a custom pattern set.
func NewSecretsDetectorWithPatterns(specs []PatternSpec) (*SecretsDetector, error) {
	patterns, err := compilePatterns(specs)
	if err != nil {
		return nil, err
	}
	return &SecretsDetector{patternScanner{patterns: patterns}}, nil
}
