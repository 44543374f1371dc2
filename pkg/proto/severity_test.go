package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		raw  string
		want Severity
	}{
		{"CRITICAL", SeverityCritical},
		{"HIGH", SeverityHigh},
		{"ERROR", SeverityHigh},
		{"error", SeverityHigh},
		{"MEDIUM", SeverityMedium},
		{"WARNING", SeverityMedium},
		{"LOW", SeverityLow},
		{"INFO", SeverityInfo},
		{"", SeverityInfo},
		{"bogus", SeverityInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSeverity(tt.raw), tt.raw)
	}
}

func TestSeverityOrder(t *testing.T) {
	assert.Less(t, SeverityInfo, SeverityLow)
	assert.Less(t, SeverityLow, SeverityMedium)
	assert.Less(t, SeverityMedium, SeverityHigh)
	assert.Less(t, SeverityHigh, SeverityCritical)
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Info", Severity(42).String())

	text, err := SeverityMedium.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "Medium", string(text))
}
