package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel/securitygate/pkg/id"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/scantype"
)

// DefaultScanType is used when a request doesn't say what it wants
const DefaultScanType = "SAST"

// Scan statuses pushed to the tracking endpoint
const (
	StatusRunning = "RUNNING"
)

// ScanCommand identifies a requested scan and carries everything the
// workflow engine needs to run it
type ScanCommand struct {
	ScanID   uuid.UUID `json:"scanId"`
	ScanType string    `json:"requestedService"`

	// SAST
	RepositoryURL  string `json:"targetRepo,omitempty"`
	Branch         string `json:"branch,omitempty"`
	CommitID       string `json:"commitId,omitempty"`
	ClientGitToken string `json:"clientGitToken,omitempty"`
	LocalCodePath  string `json:"localCodePath,omitempty"`

	// DAST
	TargetURL      string              `json:"targetUrl,omitempty"`
	Authentication *DastAuthentication `json:"authentication,omitempty"`
	ScanScope      []string            `json:"scanScope,omitempty"`
	SpiderConfig   *SpiderConfig       `json:"spiderConfig,omitempty"`

	ClientID         string            `json:"clientId,omitempty"`
	AdditionalConfig map[string]string `json:"additionalConfig,omitempty"`
	TimeoutMinutes   *int              `json:"timeoutMinutes,omitempty"`
}

// DastAuthentication holds the credentials a DAST scan logs in with
type DastAuthentication struct {
	AuthType        string            `json:"authType,omitempty"`
	Username        string            `json:"username,omitempty"`
	Password        string            `json:"password,omitempty"`
	Token           string            `json:"token,omitempty"`
	LoginURL        string            `json:"loginUrl,omitempty"`
	LoginFormFields map[string]string `json:"loginFormFields,omitempty"`
	SessionCookies  map[string]string `json:"sessionCookies,omitempty"`
}

// SpiderConfig configures the DAST crawler
type SpiderConfig struct {
	EnableSpider         bool     `json:"enableSpider"`
	MaxDepth             int      `json:"maxDepth"`
	SeedURLs             []string `json:"seedUrls,omitempty"`
	ExcludePatterns      []string `json:"excludePatterns,omitempty"`
	SpiderTimeoutMinutes *int     `json:"spiderTimeoutMinutes,omitempty"`
}

// UnmarshalJSON decodes a scan command leniently: a scanId that isn't a
// valid UUID is left as uuid.Nil for the caller to fill in and a missing
// requestedService falls back to DefaultScanType. Unknown fields are
// ignored.
func (c *ScanCommand) UnmarshalJSON(data []byte) error {
	if c == nil {
		return errors.New("ScanCommand: UnmarshalJSON on nil pointer")
	}

	type plain ScanCommand
	var tmp struct {
		plain
		ScanID   json.RawMessage `json:"scanId"`
		ScanType *string         `json:"requestedService"`
	}

	if err := json.Unmarshal(data, &tmp); err != nil {
		return fmt.Errorf("could not unmarshal scan command: %w", err)
	}

	*c = ScanCommand(tmp.plain)
	c.ScanID = uuid.Nil
	c.ScanType = DefaultScanType

	var rawScanID string
	if len(tmp.ScanID) > 0 && json.Unmarshal(tmp.ScanID, &rawScanID) == nil {
		if scanID, ok := id.ParseScanID(rawScanID); ok {
			c.ScanID = scanID
		} else if len(rawScanID) > 0 {
			logger.Debug("ignoring invalid scan id: scan_id=%q", rawScanID)
		}
	}

	if tmp.ScanType != nil && len(strings.TrimSpace(*tmp.ScanType)) > 0 {
		c.ScanType = strings.TrimSpace(*tmp.ScanType)
	}

	return nil
}

// Target returns the thing being scanned: the repository for SAST, the URL
// for DAST and whichever is set for everything else
func (c *ScanCommand) Target() string {
	switch {
	case scantype.IsSAST(c.ScanType):
		return c.RepositoryURL
	case scantype.IsDAST(c.ScanType):
		return c.TargetURL
	}

	if len(c.TargetURL) > 0 {
		return c.TargetURL
	}

	return c.RepositoryURL
}

// Redact hides all but the first few characters of a secret so it can be
// logged
func Redact(secret string) string {
	if len(secret) == 0 {
		return ""
	}

	if len(secret) <= 8 {
		return "****"
	}

	return secret[:4] + "****"
}

// ScanAcceptance is returned when a scan request was accepted
type ScanAcceptance struct {
	ScanID                 uuid.UUID `json:"scanId"`
	Status                 string    `json:"status"`
	RequestedService       string    `json:"requestedService"`
	AcceptanceTimestampUTC time.Time `json:"acceptanceTimestampUtc"`
	CompletionMethod       string    `json:"completionMethod"`
}

// Finding is a single normalized issue reported by a scanner. File/Line
// are set for static analysis and URL/HTTPMethod for dynamic analysis.
type Finding struct {
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	URL         string `json:"url,omitempty"`
	HTTPMethod  string `json:"httpMethod,omitempty"`
	Description string `json:"description,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// ScanResult ties the findings to the scan that produced them
type ScanResult struct {
	ScanID   string    `json:"scanId"`
	Findings []Finding `json:"findings"`
}

// Summary counts the findings by unified severity
func (r *ScanResult) Summary() SeveritySummary {
	var summary SeveritySummary

	for _, finding := range r.Findings {
		summary.Add(ParseSeverity(finding.Severity))
	}

	return summary
}

// GateStatus is the binary outcome of a quality gate
type GateStatus string

const (
	// GatePass means the scan may be treated as complete
	GatePass GateStatus = "PASS"
	// GateFail means the scan is blocked
	GateFail GateStatus = "FAIL"
)

// QualityGateDecision is the terminal artifact for a scan result
type QualityGateDecision struct {
	ScanID     string     `json:"scanId" toml:"scan_id" yaml:"scan_id"`
	Status     GateStatus `json:"status" toml:"status" yaml:"status"`
	Reason     string     `json:"reason,omitempty" toml:"reason,omitempty" yaml:"reason,omitempty"`
	FinishedAt time.Time  `json:"finishedAt" toml:"finished_at" yaml:"finished_at"`
}

// Passed reports whether the gate passed
func (d *QualityGateDecision) Passed() bool {
	return d.Status == GatePass
}

// DecisionMessage is what gets published to the result exchange once a
// decision has been made
type DecisionMessage struct {
	ScanID            string          `json:"scanId"`
	ScanType          string          `json:"scanType"`
	Tool              string          `json:"tool"`
	Status            GateStatus      `json:"status"`
	Reason            string          `json:"reason,omitempty"`
	QualityGatePassed bool            `json:"qualityGatePassed"`
	CompletedAt       time.Time       `json:"completedAt"`
	Summary           SeveritySummary `json:"summary"`
}

// NewDecisionMessage combines a decision with the result it was made for
func NewDecisionMessage(scanType, tool string, result *ScanResult, decision *QualityGateDecision) *DecisionMessage {
	return &DecisionMessage{
		ScanID:            decision.ScanID,
		ScanType:          scanType,
		Tool:              tool,
		Status:            decision.Status,
		Reason:            decision.Reason,
		QualityGatePassed: decision.Passed(),
		CompletedAt:       decision.FinishedAt,
		Summary:           result.Summary(),
	}
}

// ResultMessage is an inbound scan result from the result queue. Only the
// fields the relay forwards are decoded; everything else is ignored.
type ResultMessage struct {
	ScanID            string           `json:"scanId"`
	ScanType          string           `json:"scanType,omitempty"`
	Status            ScanStatus       `json:"status"`
	QualityGatePassed bool             `json:"qualityGatePassed"`
	CompletedAt       string           `json:"completedAt,omitempty"`
	Summary           *SeveritySummary `json:"summary,omitempty"`
}

// ScanStatus is the terminal status a producer reports for a scan
type ScanStatus string

// Producers that serialize their status enum by ordinal send these in order
var scanStatusOrdinals = [...]ScanStatus{
	"COMPLETED",
	"COMPLETED_WITH_ERRORS",
	"FAILED",
	"TIMEOUT",
}

// UnmarshalJSON accepts the status as a string or as an enum ordinal.
// Unknown ordinals are kept as their decimal text.
func (s *ScanStatus) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = ScanStatus(text)
		return nil
	}

	var ordinal json.Number
	if err := json.Unmarshal(data, &ordinal); err != nil {
		return fmt.Errorf("could not unmarshal scan status: %w", err)
	}

	if n, err := ordinal.Int64(); err == nil && n >= 0 && n < int64(len(scanStatusOrdinals)) {
		*s = scanStatusOrdinals[n]
		return nil
	}

	*s = ScanStatus(ordinal.String())
	return nil
}

// ResultNotification is the flat body posted to the downstream webhook
type ResultNotification struct {
	ScanID            string           `json:"scanId"`
	Status            ScanStatus       `json:"status"`
	QualityGatePassed bool             `json:"qualityGatePassed"`
	CompletedAt       string           `json:"completedAt"`
	Summary           *SeveritySummary `json:"summary"`
}

// NewResultNotification flattens a result message for downstream consumers
func NewResultNotification(msg *ResultMessage) *ResultNotification {
	return &ResultNotification{
		ScanID:            msg.ScanID,
		Status:            msg.Status,
		QualityGatePassed: msg.QualityGatePassed,
		CompletedAt:       msg.CompletedAt,
		Summary:           msg.Summary,
	}
}

// IngestNotification tells the gate a result file is ready on shared storage
type IngestNotification struct {
	ScanID      string            `json:"scanId"`
	FilePath    string            `json:"filePath"`
	Repository  string            `json:"repository,omitempty"`
	Branch      string            `json:"branch,omitempty"`
	TriggeredBy string            `json:"triggeredBy,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IngestAccepted is returned once an ingested result has been evaluated
type IngestAccepted struct {
	ScanID string     `json:"scanId"`
	Status GateStatus `json:"status"`
}
