package semgrep

import (
	"encoding/json"
	"errors"

	"github.com/sentinel/securitygate/pkg/proto"
)

// Output is the JSON document `semgrep --json` writes
type Output struct {
	Version string            `json:"version,omitempty"`
	Results []Record          `json:"results"`
	Errors  []json.RawMessage `json:"errors,omitempty"`
}

// Record is a single match
type Record struct {
	CheckID string   `json:"check_id"`
	Path    string   `json:"path"`
	Start   Position `json:"start"`
	End     Position `json:"end"`
	Extra   Extra    `json:"extra"`
}

// Position in the matched file
type Position struct {
	Line   int `json:"line"`
	Col    int `json:"col"`
	Offset int `json:"offset"`
}

// Extra carries the rule's message, severity and metadata
type Extra struct {
	Message  string   `json:"message,omitempty"`
	Severity string   `json:"severity"`
	Fix      string   `json:"fix,omitempty"`
	Lines    string   `json:"lines,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// UnmarshalJSON also accepts checkId for the rule id since some producers
// camel case it
func (r *Record) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("Record: UnmarshalJSON on nil pointer")
	}

	type plain Record
	var tmp struct {
		plain
		CheckIDCamel string `json:"checkId"`
	}

	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	*r = Record(tmp.plain)
	if len(r.CheckID) == 0 {
		r.CheckID = tmp.CheckIDCamel
	}

	return nil
}

// Normalize maps raw output onto findings for scanID. Severities are
// copied as is; they're only mapped onto the unified scale for display.
func Normalize(raw *Output, scanID string) proto.ScanResult {
	result := proto.ScanResult{
		ScanID:   scanID,
		Findings: make([]proto.Finding, 0, len(raw.Results)),
	}

	for _, record := range raw.Results {
		description, ok := record.Extra.Metadata.First()
		if !ok {
			description = record.Extra.Message
		}

		result.Findings = append(result.Findings, proto.Finding{
			Rule:        record.CheckID,
			Severity:    record.Extra.Severity,
			File:        record.Path,
			Line:        record.Start.Line,
			Description: description,
			Remediation: record.Extra.Fix,
		})
	}

	return result
}
