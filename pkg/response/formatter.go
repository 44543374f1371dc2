package response

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sentinel/securitygate/pkg/logger"
)

// OutputFormat is the code(int) for each format
type OutputFormat int

const (
	// JSON displays the output in JSON format
	JSON OutputFormat = iota
	// HUMAN displays the outut in a way that's nice for humans to read
	HUMAN
	// TOML displays the output in TOML format
	TOML
	// YAML displays the output in YAML format
	YAML
	// CSV displays the output in CSV format
	CSV
)

type Formatter struct {
	format   OutputFormat
	truncate int
}

// NewFormatter creates new formatter. Descriptions longer than truncate are
// cut in the HUMAN format when truncate is positive.
func NewFormatter(format string, truncate int) (*Formatter, error) {
	outputFormat, err := GetOutputFormat(format)
	if err != nil {
		return nil, err
	}
	return &Formatter{format: outputFormat, truncate: truncate}, nil
}

// GetOutputFormat takes the string and returns OutputFormat or an error
func GetOutputFormat(format string) (OutputFormat, error) {
	format = strings.ToUpper(format)
	switch format {
	case "JSON":
		return JSON, nil
	case "HUMAN":
		return HUMAN, nil
	case "TOML":
		return TOML, nil
	case "YAML":
		return YAML, nil
	case "CSV":
		return CSV, nil
	default:
		return JSON, fmt.Errorf("invalid output format option: format=%q", format)
	}
}

// Format renders a response structure to the set format as a string
func (f *Formatter) Format(r *Response) string {
	var output string
	switch f.format {
	case JSON:
		output = f.formatJson(r)
	case HUMAN:
		output = f.formatHuman(r)
	case TOML:
		output = f.formatToml(r)
	case YAML:
		output = f.formatYaml(r)
	case CSV:
		output = f.formatCsv(r)
	}
	return output
}

func (f *Formatter) formatJson(r *Response) string {
	out, err := json.Marshal(r)
	if err != nil {
		logger.Error("could not marshal response: error=%q", err)
	}
	return string(out)
}

func (f *Formatter) formatHuman(r *Response) string {
	var out strings.Builder

	_, _ = fmt.Fprintf(&out, "%-20s: %s\n", "SCAN.ID", r.ScanID)
	_, _ = fmt.Fprintf(&out, "%-20s: %s\n", "STATUS", r.Status)
	if len(r.Reason) > 0 {
		_, _ = fmt.Fprintf(&out, "%-20s: %s\n", "REASON", r.Reason)
	}
	_, _ = fmt.Fprintf(&out, "%-20s: critical=%d high=%d medium=%d low=%d info=%d\n", "SUMMARY",
		r.Summary.Critical, r.Summary.High, r.Summary.Medium, r.Summary.Low, r.Summary.Info)
	out.WriteRune('\n')

	headers := flattenedResponseFields()
	truncated := []int{}
	if f.truncate > 0 {
		truncated = truncatableResponseFields()
	}

	for _, finding := range flattenedResponse(r, false) {
		// The first two columns are already in the header block
		for i := 2; i < len(finding); i++ {
			entry := finding[i]
			if slices.Contains(truncated, i) && len(entry) > f.truncate {
				_, _ = fmt.Fprintf(&out, "%-20s: %s...\n", headers[i], entry[:f.truncate])
			} else {
				_, _ = fmt.Fprintf(&out, "%-20s: %s\n", headers[i], entry)
			}
		}
		out.WriteRune('\n')
	}
	return out.String()
}

func (f *Formatter) formatToml(r *Response) string {
	var buf bytes.Buffer

	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		logger.Error("could not marshal response: error=%q", err)
	}
	return buf.String()
}

func (f *Formatter) formatYaml(r *Response) string {
	out, err := yaml.Marshal(r)
	if err != nil {
		logger.Error("could not marshal response: error=%q", err)
	}
	return string(out)
}

func (f *Formatter) formatCsv(r *Response) string {
	headers := flattenedResponseFields()

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	err := writer.Write(headers)
	if err != nil {
		logger.Error("could not write response: error=%q", err)
	}

	err = writer.WriteAll(flattenedResponse(r, true))
	if err != nil {
		logger.Error("could not write response: error=%q", err)
	}

	return buf.String()
}

// flattenedResponseFields provides a list containing the field labels for a flattened response
func flattenedResponseFields() []string {
	return []string{"SCAN.ID", "STATUS", "FINDING.RULE", "FINDING.SEVERITY", "FINDING.LEVEL",
		"FINDING.LOCATION", "FINDING.LINE", "FINDING.DESCRIPTION", "FINDING.REMEDIATION"}
}

// truncatableResponseFields provides the indexes of the fields that can be truncated
func truncatableResponseFields() []int {
	truncatableFields := []string{"FINDING.DESCRIPTION", "FINDING.REMEDIATION"}
	var fields []int

	for i, entry := range flattenedResponseFields() {
		if slices.Contains(truncatableFields, entry) {
			fields = append(fields, i)
		}
	}
	return fields
}

// flattenedResponse takes the response and returns a 2d list of findings in flattenedResponseFields order
func flattenedResponse(response *Response, sanitize bool) [][]string {
	var flattened [][]string

	for _, finding := range response.Findings {
		location := finding.Location.Path
		line := ""
		if len(finding.Location.URL) > 0 {
			location = Location{URL: finding.Location.URL, Method: finding.Location.Method}.String()
		} else if finding.Location.Line > 0 {
			line = strconv.Itoa(finding.Location.Line)
		}

		entry := []string{
			response.ScanID,
			string(response.Status),
			finding.Rule,
			finding.Severity,
			finding.Level,
			location,
			line,
			finding.Description,
			finding.Remediation,
		}
		if sanitize {
			entry = sanitizeEntry(entry)
		}
		flattened = append(flattened, entry)
	}

	return flattened
}

// sanitizeEntry makes the values safe for CSV by flattening newlines.
// CSV is not a great format for rich/nested data, this makes the data more consistent for the format
func sanitizeEntry(value []string) []string {
	var output []string
	for _, entry := range value {
		output = append(output, strings.ReplaceAll(entry, "\n", " "))
	}
	return output
}
