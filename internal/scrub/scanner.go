// Package scrub detects PII and credential-shaped secrets in content headed
// for storage, producing typed detections and redacted copies. Detections
// drive classification escalation; redacted copies feed any surface (audit
// payloads, logs) that must never echo raw sensitive content.
package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Severity ranks how strongly a detection should escalate classification.
type Severity string

const (
	// SeverityLow detections are informational and do not escalate on their own.
	SeverityLow Severity = "low"
	// SeverityMedium detections escalate content to at least internal.
	SeverityMedium Severity = "medium"
	// SeverityHigh detections escalate content to sensitive.
	SeverityHigh Severity = "high"
)

// Span marks the byte range of a detection within the scanned text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Detection is a single pattern hit. Redacted holds the replacement text that
// is safe to echo; the raw match is intentionally not carried on the struct.
type Detection struct {
	PatternName string   `json:"pattern_name"`
	Severity    Severity `json:"severity"`
	Span        Span     `json:"span"`
	Redacted    string   `json:"redacted"`
}

// Scanner scans text against a named pattern library.
type Scanner interface {
	// Scan returns all detections ordered by position, plus a copy of the
	// text with every match replaced by its redaction marker.
	Scan(text string) ([]Detection, string)
}

// Pattern is one named entry in a scanner's library.
type Pattern struct {
	Name     string
	Severity Severity
	Regex    *regexp.Regexp
}

// patternScanner is the shared engine behind both scanners: an ordered list
// of named regex patterns applied in sequence, earlier matches winning
// overlaps.
type patternScanner struct {
	patterns []Pattern
}

func redactionMarker(name string) string {
	return "[REDACTED:" + strings.ToUpper(name) + "]"
}

// Scan applies every pattern and merges overlapping hits, keeping the first
// pattern (library order) that claimed a region.
func (s *patternScanner) Scan(text string) ([]Detection, string) {
	var detections []Detection
	claimed := make([]Span, 0)

	for _, pattern := range s.patterns {
		for _, loc := range pattern.Regex.FindAllStringIndex(text, -1) {
			span := Span{Start: loc[0], End: loc[1]}
			if overlapsAny(span, claimed) {
				continue
			}
			claimed = append(claimed, span)
			detections = append(detections, Detection{
				PatternName: pattern.Name,
				Severity:    pattern.Severity,
				Span:        span,
				Redacted:    redactionMarker(pattern.Name),
			})
		}
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Span.Start < detections[j].Span.Start
	})

	return detections, redact(text, detections)
}

func overlapsAny(span Span, claimed []Span) bool {
	for _, other := range claimed {
		if span.Start < other.End && other.Start < span.End {
			return true
		}
	}
	return false
}

// redact rebuilds the text replacing each detected span with its marker.
// Detections must be sorted by start offset and non-overlapping.
func redact(text string, detections []Detection) string {
	if len(detections) == 0 {
		return text
	}

	var builder strings.Builder
	cursor := 0
	for _, d := range detections {
		builder.WriteString(text[cursor:d.Span.Start])
		builder.WriteString(d.Redacted)
		cursor = d.Span.End
	}
	builder.WriteString(text[cursor:])
	return builder.String()
}

// compilePatterns compiles a named pattern set, preserving order.
func compilePatterns(specs []PatternSpec) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(specs))
	for _, spec := range specs {
		compiled, err := regexp.Compile(spec.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", spec.Name, err)
		}
		patterns = append(patterns, Pattern{
			Name:     spec.Name,
			Severity: spec.Severity,
			Regex:    compiled,
		})
	}
	return patterns, nil
}

// PatternSpec is the configuration form of a pattern, as it appears in config
// files and test fixtures.
type PatternSpec struct {
	Name     string   `yaml:"name" json:"name"`
	Severity Severity `yaml:"severity" json:"severity"`
	Expr     string   `yaml:"expr" json:"expr"`
}
