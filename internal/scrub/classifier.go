package scrub

import (
	"fmt"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Classifier assigns a sensitivity label to content by combining the caller's
// requested label with what the scanners detect. Labels only ever escalate:
// a caller's requested classification is a floor, never a ceiling.
type Classifier struct {
	pii     Scanner
	secrets Scanner
}

// ClassifyResult carries the final label plus the evidence behind it.
type ClassifyResult struct {
	Classification types.Classification
	PIIDetections  []Detection
	SecretHits     []Detection
	Redacted       string
}

// NewClassifier creates a Classifier over the given scanners.
func NewClassifier(pii, secrets Scanner) *Classifier {
	return &Classifier{pii: pii, secrets: secrets}
}

// NewDefaultClassifier creates a Classifier with the built-in pattern libraries.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(NewPIIScrubber(), NewSecretsDetector())
}

// Classify runs both scanners and returns the maximum of the requested label
// and the labels implied by detections: PII escalates to at least internal,
// a high-severity secret hit escalates to sensitive.
func (c *Classifier) Classify(content string, requested types.Classification) ClassifyResult {
	piiHits, redacted := c.pii.Scan(content)
	secretHits, _ := c.secrets.Scan(redacted)

	detected := types.ClassPublic
	for _, hit := range piiHits {
		if hit.Severity != SeverityLow {
			detected = types.MaxClassification(detected, types.ClassInternal)
		}
	}
	for _, hit := range secretHits {
		if hit.Severity == SeverityHigh {
			detected = types.MaxClassification(detected, types.ClassSensitive)
		} else {
			detected = types.MaxClassification(detected, types.ClassInternal)
		}
	}

	// Re-run redaction over the secret spans so the redacted copy hides both
	// pattern families.
	if len(secretHits) > 0 {
		redacted = redactSpans(redacted, secretHits)
	}

	return ClassifyResult{
		Classification: types.MaxClassification(requested, detected),
		PIIDetections:  piiHits,
		SecretHits:     secretHits,
		Redacted:       redacted,
	}
}

// CheckPinned enforces a caller-pinned classification: if detections exceed
// the pinned level the content is rejected, never silently escalated and
// accepted. A steward override bypasses the check and stores at the detected
// level instead.
func (c *Classifier) CheckPinned(result ClassifyResult, pinned types.Classification, override bool) error {
	if override {
		return nil
	}
	if result.Classification > pinned {
		return types.NewError(types.CLASSIFICATION_VIOLATION, fmt.Sprintf(
			"detected sensitivity %s exceeds pinned classification %s",
			result.Classification, pinned))
	}
	return nil
}

// Redactor returns a function that replaces every PII and secret match with
// its redaction marker. The audit log applies it to payload values so raw
// sensitive content never lands in the chain.
func (c *Classifier) Redactor() func(string) string {
	return func(text string) string {
		return c.Classify(text, types.ClassPublic).Redacted
	}
}

func redactSpans(text string, detections []Detection) string {
	return redact(text, detections)
}
