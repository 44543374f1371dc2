package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sentinel/securitygate/pkg/config"
	httpclient "github.com/sentinel/securitygate/pkg/http"
	"github.com/sentinel/securitygate/pkg/id"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/scantype"
)

// How much of an error response body is kept on a TriggerError
const maxErrorBodyBytes = 4 * 1024

// ErrUnsupportedScanType is returned when the workflow engine has no
// workflow for the requested scan type
var ErrUnsupportedScanType = errors.New("unsupported scan type")

// TriggerError is returned when the workflow engine answered with a
// non-success status
type TriggerError struct {
	StatusCode int
	Body       string
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("workflow engine rejected the scan: status=%d body=%q", e.StatusCode, e.Body)
}

// Client starts workflows and reports scan status to the tracking service
type Client struct {
	workflow   config.Workflow
	tracking   config.Tracking
	httpClient httpclient.HTTPClient
	now        func() time.Time
}

// NewClient returns a client for the workflow engine and tracking service
// in cfg
func NewClient(cfg *config.Config, client httpclient.HTTPClient) *Client {
	return &Client{
		workflow:   cfg.Workflow,
		tracking:   cfg.Tracking,
		httpClient: client,
		now:        time.Now,
	}
}

// StartWorkflow posts the command to the webhook for its scan type and
// returns the scan id the workflow runs under. It makes a single attempt.
func (c *Client) StartWorkflow(ctx context.Context, cmd *proto.ScanCommand) (uuid.UUID, error) {
	scanID := cmd.ScanID
	if scanID == uuid.Nil {
		scanID = id.NewScanID()
	}

	path, ok := scantype.WebhookPath(cmd.ScanType)
	if !ok {
		return uuid.Nil, errors.Wrapf(ErrUnsupportedScanType, "scan_type=%q", cmd.ScanType)
	}

	payload := NewPayload(scanID, cmd, c.now())
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "could not marshal workflow payload")
	}

	// The engine is held to the same timeout the payload asks it for
	ctx, cancel := context.WithTimeout(ctx, payload.timeout())
	defer cancel()

	url := strings.TrimRight(c.workflow.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "could not create workflow request")
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Info(
		"starting workflow: scan_id=%q scan_type=%q target=%q token=%q url=%q",
		scanID, cmd.ScanType, cmd.Target(), proto.Redact(cmd.ClientGitToken), url,
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "could not reach workflow engine")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return uuid.Nil, &TriggerError{StatusCode: resp.StatusCode, Body: string(errorBody)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	logger.Info("workflow started: scan_id=%q scan_type=%q", scanID, cmd.ScanType)
	return scanID, nil
}

// UpdateStatus tells the tracking service the scan moved to status. It is
// best effort: failures are logged and never returned.
func (c *Client) UpdateStatus(ctx context.Context, scanID uuid.UUID, status string) {
	endpoint := strings.ReplaceAll(c.tracking.UpdateStatusEndpoint, "{scanId}", scanID.String())
	url := strings.TrimRight(c.tracking.BaseURL, "/") + endpoint

	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		logger.Error("could not marshal status update: scan_id=%q error=%q", scanID, err)
		return
	}

	if c.tracking.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.tracking.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		logger.Error("could not create status update request: scan_id=%q error=%q", scanID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("could not update scan status: scan_id=%q status=%q error=%q", scanID, status, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("could not update scan status: scan_id=%q status=%q code=%d", scanID, status, resp.StatusCode)
		return
	}

	logger.Info("updated scan status: scan_id=%q status=%q", scanID, status)
}
