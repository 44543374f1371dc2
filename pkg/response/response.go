package response

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/proto"
)

type (
	// Response is the report for an evaluated scan result
	Response struct {
		ID         string                `json:"id" toml:"id" yaml:"id"`
		ScanID     string                `json:"scan_id" toml:"scan_id" yaml:"scan_id"`
		Status     proto.GateStatus      `json:"status" toml:"status" yaml:"status"`
		Reason     string                `json:"reason,omitempty" toml:"reason,omitempty" yaml:"reason,omitempty"`
		FinishedAt time.Time             `json:"finished_at" toml:"finished_at" yaml:"finished_at"`
		Summary    proto.SeveritySummary `json:"summary" toml:"summary" yaml:"summary"`
		Errors     []GateError           `json:"errors" toml:"errors" yaml:"errors"`
		Findings   []*Finding            `json:"findings" toml:"findings" yaml:"findings"`
	}

	// Finding in the report
	Finding struct {
		Rule        string   `json:"rule" toml:"rule" yaml:"rule"`
		Severity    string   `json:"severity" toml:"severity" yaml:"severity"`
		Level       string   `json:"level" toml:"level" yaml:"level"`
		Location    Location `json:"location" toml:"location" yaml:"location"`
		Description string   `json:"description" toml:"description" yaml:"description"`
		Remediation string   `json:"remediation,omitempty" toml:"remediation,omitempty" yaml:"remediation,omitempty"`
	}

	// Location is a file/line for static findings and a method/URL for
	// dynamic ones
	Location struct {
		Path   string `json:"path,omitempty" toml:"path,omitempty" yaml:"path,omitempty"`
		Line   int    `json:"line,omitempty" toml:"line,omitempty" yaml:"line,omitempty"`
		URL    string `json:"url,omitempty" toml:"url,omitempty" yaml:"url,omitempty"`
		Method string `json:"method,omitempty" toml:"method,omitempty" yaml:"method,omitempty"`
	}
)

// NewResponse builds the report for a result and the decision made on it
func NewResponse(id string, result *proto.ScanResult, decision *proto.QualityGateDecision) *Response {
	r := &Response{
		ID:         id,
		ScanID:     decision.ScanID,
		Status:     decision.Status,
		Reason:     decision.Reason,
		FinishedAt: decision.FinishedAt,
		Summary:    result.Summary(),
		Errors:     []GateError{},
		Findings:   make([]*Finding, 0, len(result.Findings)),
	}

	for _, f := range result.Findings {
		r.Findings = append(r.Findings, &Finding{
			Rule:     f.Rule,
			Severity: f.Severity,
			Level:    proto.ParseSeverity(f.Severity).String(),
			Location: Location{
				Path:   f.File,
				Line:   f.Line,
				URL:    f.URL,
				Method: f.HTTPMethod,
			},
			Description: f.Description,
			Remediation: f.Remediation,
		})
	}

	return r
}

// String renders a response structure to the JSON format
func (r *Response) String() string {
	out, err := json.Marshal(r)
	if err != nil {
		logger.Error("could not marshal response: error=%q", err)
	}

	return string(out)
}

// String renders the location the way a person would cite it
func (l Location) String() string {
	if len(l.URL) > 0 {
		if len(l.Method) > 0 {
			return l.Method + " " + l.URL
		}
		return l.URL
	}

	if l.Line > 0 {
		return l.Path + ":" + strconv.Itoa(l.Line)
	}

	return l.Path
}
