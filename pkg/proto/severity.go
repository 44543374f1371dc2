package proto

import (
	"strings"
)

// Severity is the unified severity scale findings are summarized on
type Severity int

// Ordered from least to most severe
const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	"Info",
	"Low",
	"Medium",
	"High",
	"Critical",
}

// ParseSeverity maps a tool's severity vocabulary onto the unified scale.
// Anything it doesn't recognize is Info.
func ParseSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH", "ERROR":
		return SeverityHigh
	case "MEDIUM", "WARNING":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return severityNames[SeverityInfo]
	}

	return severityNames[s]
}

// MarshalText renders the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SeveritySummary counts findings per unified severity
type SeveritySummary struct {
	Critical int `json:"critical" toml:"critical" yaml:"critical"`
	High     int `json:"high" toml:"high" yaml:"high"`
	Medium   int `json:"medium" toml:"medium" yaml:"medium"`
	Low      int `json:"low" toml:"low" yaml:"low"`
	Info     int `json:"info" toml:"info" yaml:"info"`
}

// Add counts one finding of the given severity
func (s *SeveritySummary) Add(severity Severity) {
	switch severity {
	case SeverityCritical:
		s.Critical++
	case SeverityHigh:
		s.High++
	case SeverityMedium:
		s.Medium++
	case SeverityLow:
		s.Low++
	default:
		s.Info++
	}
}

// Total is the number of findings counted
func (s *SeveritySummary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Info
}
