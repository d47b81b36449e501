package types

import (
	"encoding/json"
	"fmt"
)

// Classification represents the sensitivity label of stored content.
// Labels are ordered: Public < Internal < Sensitive. A stored pattern's label
// is the maximum of the label the caller requested and the label implied by
// content scanning; it is never auto-downgraded.
type Classification int

const (
	// ClassPublic content carries no detected PII or secrets.
	ClassPublic Classification = iota
	// ClassInternal content carries PII or internal identifiers; stored in
	// plaintext but excluded from unauthenticated surfaces.
	ClassInternal
	// ClassSensitive content carries credential-shaped secrets; always
	// encrypted at rest.
	ClassSensitive
)

var classificationNames = map[Classification]string{
	ClassPublic:    "public",
	ClassInternal:  "internal",
	ClassSensitive: "sensitive",
}

var classificationsByName = map[string]Classification{
	"public":    ClassPublic,
	"internal":  ClassInternal,
	"sensitive": ClassSensitive,
}

// String returns the string representation of the Classification.
func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// IsValid checks if the Classification is a valid value.
func (c Classification) IsValid() bool {
	_, ok := classificationNames[c]
	return ok
}

// RequiresEncryption reports whether content at this level must be
// ciphertext at rest.
func (c Classification) RequiresEncryption() bool {
	return c >= ClassSensitive
}

// ParseClassification parses and validates a classification name.
func ParseClassification(s string) (Classification, error) {
	if class, ok := classificationsByName[s]; ok {
		return class, nil
	}
	return ClassPublic, fmt.Errorf("invalid classification: %q", s)
}

// MaxClassification returns the highest of the given labels.
func MaxClassification(labels ...Classification) Classification {
	max := ClassPublic
	for _, label := range labels {
		if label > max {
			max = label
		}
	}
	return max
}

// MarshalJSON implements json.Marshaler, encoding the label by name.
func (c Classification) MarshalJSON() ([]byte, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid classification: %d", int(c))
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Classification) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	class, err := ParseClassification(str)
	if err != nil {
		return err
	}

	*c = class
	return nil
}
