package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/scantype"
)

// Defaults applied when the command leaves them out
const (
	defaultBranch             = "main"
	defaultSASTTimeoutMinutes = 30
	defaultDASTTimeoutMinutes = 60
	defaultSpiderMaxDepth     = 5
	defaultSpiderMinutes      = 10
)

// Payload is the body sent to a workflow webhook. It's implemented by
// SASTPayload, DASTPayload and GenericPayload.
type Payload interface {
	// timeout is how long the workflow is given to run
	timeout() time.Duration
}

// Envelope holds the fields every payload carries
type Envelope struct {
	ScanID    uuid.UUID `json:"scanId"`
	ScanType  string    `json:"scanType"`
	ClientID  string    `json:"clientId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config is the scan configuration block
type Config struct {
	LocalPath        string            `json:"localPath,omitempty"`
	TimeoutMinutes   int               `json:"timeoutMinutes"`
	AdditionalConfig map[string]string `json:"additionalConfig,omitempty"`
}

// Repository is the code a SAST scan checks out
type Repository struct {
	URL      string `json:"url"`
	Branch   string `json:"branch"`
	CommitID string `json:"commitId,omitempty"`
	Token    string `json:"token,omitempty"`
}

// SASTPayload starts a static analysis workflow
type SASTPayload struct {
	Envelope
	Repository Repository `json:"repository"`
	Config     Config     `json:"config"`
}

// Target is what a DAST scan probes
type Target struct {
	URL   string   `json:"url"`
	Scope []string `json:"scope"`
}

// Spider configures the DAST crawler
type Spider struct {
	Enabled         bool     `json:"enabled"`
	MaxDepth        int      `json:"maxDepth"`
	SeedURLs        []string `json:"seedUrls"`
	ExcludePatterns []string `json:"excludePatterns"`
	TimeoutMinutes  int      `json:"timeoutMinutes"`
}

// DASTPayload starts a dynamic analysis workflow
type DASTPayload struct {
	Envelope
	Target         Target                    `json:"target"`
	Authentication *proto.DastAuthentication `json:"authentication"`
	Spider         Spider                    `json:"spider"`
	Config         Config                    `json:"config"`
}

// GenericPayload starts every other kind of workflow
type GenericPayload struct {
	Envelope
	Target string `json:"target"`
	Config Config `json:"config"`
}

func (p SASTPayload) timeout() time.Duration    { return minutes(p.Config.TimeoutMinutes) }
func (p DASTPayload) timeout() time.Duration    { return minutes(p.Config.TimeoutMinutes) }
func (p GenericPayload) timeout() time.Duration { return minutes(p.Config.TimeoutMinutes) }

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// NewPayload builds the payload variant matching the command's scan type
func NewPayload(scanID uuid.UUID, cmd *proto.ScanCommand, now time.Time) Payload {
	envelope := Envelope{
		ScanID:    scanID,
		ScanType:  cmd.ScanType,
		ClientID:  cmd.ClientID,
		Timestamp: now.UTC(),
	}

	switch {
	case scantype.IsSAST(cmd.ScanType):
		envelope.ScanType = scantype.SAST
		return SASTPayload{
			Envelope: envelope,
			Repository: Repository{
				URL:      cmd.RepositoryURL,
				Branch:   orDefault(cmd.Branch, defaultBranch),
				CommitID: cmd.CommitID,
				Token:    cmd.ClientGitToken,
			},
			Config: Config{
				LocalPath:        cmd.LocalCodePath,
				TimeoutMinutes:   timeoutOr(cmd.TimeoutMinutes, defaultSASTTimeoutMinutes),
				AdditionalConfig: cmd.AdditionalConfig,
			},
		}
	case scantype.IsDAST(cmd.ScanType):
		envelope.ScanType = scantype.DAST
		return DASTPayload{
			Envelope: envelope,
			Target: Target{
				URL:   cmd.TargetURL,
				Scope: nonNil(cmd.ScanScope),
			},
			Authentication: cmd.Authentication,
			Spider:         newSpider(cmd.SpiderConfig),
			Config: Config{
				TimeoutMinutes:   timeoutOr(cmd.TimeoutMinutes, defaultDASTTimeoutMinutes),
				AdditionalConfig: cmd.AdditionalConfig,
			},
		}
	default:
		target := cmd.TargetURL
		if len(target) == 0 {
			target = cmd.RepositoryURL
		}

		return GenericPayload{
			Envelope: envelope,
			Target:   target,
			Config: Config{
				TimeoutMinutes:   timeoutOr(cmd.TimeoutMinutes, defaultSASTTimeoutMinutes),
				AdditionalConfig: cmd.AdditionalConfig,
			},
		}
	}
}

func newSpider(cfg *proto.SpiderConfig) Spider {
	if cfg == nil {
		return Spider{
			Enabled:         true,
			MaxDepth:        defaultSpiderMaxDepth,
			SeedURLs:        []string{},
			ExcludePatterns: []string{},
			TimeoutMinutes:  defaultSpiderMinutes,
		}
	}

	return Spider{
		Enabled:         cfg.EnableSpider,
		MaxDepth:        cfg.MaxDepth,
		SeedURLs:        nonNil(cfg.SeedURLs),
		ExcludePatterns: nonNil(cfg.ExcludePatterns),
		TimeoutMinutes:  timeoutOr(cfg.SpiderTimeoutMinutes, defaultSpiderMinutes),
	}
}

func orDefault(value, fallback string) string {
	if len(value) == 0 {
		return fallback
	}
	return value
}

// timeoutOr is minutes when it was set to something usable and fallback
// otherwise
func timeoutOr(minutes *int, fallback int) int {
	if minutes == nil || *minutes <= 0 {
		return fallback
	}
	return *minutes
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
