package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinel/securitygate/pkg/broker"
	"github.com/sentinel/securitygate/pkg/id"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/notifier"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/scantype"
)

// Orchestrator triggers workflows and tracks their status
type Orchestrator interface {
	StartWorkflow(ctx context.Context, cmd *proto.ScanCommand) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, scanID uuid.UUID, status string)
}

// Notifier delivers result notifications downstream
type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, payload any) error
}

// RequestRelay turns scan request messages into running workflows
type RequestRelay struct {
	orchestrator Orchestrator
	// NewID supplies the scan id when a message doesn't carry a valid one
	NewID func() uuid.UUID
}

// NewRequestRelay returns a relay dispatching to orchestrator
func NewRequestRelay(orchestrator Orchestrator) *RequestRelay {
	return &RequestRelay{
		orchestrator: orchestrator,
		NewID:        id.NewScanID,
	}
}

// Parse decodes a request message into a command. An invalid or missing
// scan id is replaced with one from NewID. Bodies that can never become a
// workflow are reported as broker.ErrMalformed.
func (r *RequestRelay) Parse(body []byte) (*proto.ScanCommand, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty scan request", broker.ErrMalformed)
	}

	var cmd proto.ScanCommand
	if err := json.Unmarshal(trimmed, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrMalformed, err)
	}

	if _, ok := scantype.WebhookPath(cmd.ScanType); !ok {
		return nil, fmt.Errorf("%w: unsupported scan type: scan_type=%q", broker.ErrMalformed, cmd.ScanType)
	}

	if cmd.ScanID == uuid.Nil {
		cmd.ScanID = r.NewID()
	}

	return &cmd, nil
}

// Handle processes one request message. Any error it returns means the
// message should be requeued.
func (r *RequestRelay) Handle(ctx context.Context, body []byte) error {
	cmd, err := r.Parse(body)
	if err != nil {
		return fmt.Errorf("could not parse scan request: %w", err)
	}

	logger.Info(
		"scan request received: scan_id=%q scan_type=%q target=%q token=%q",
		cmd.ScanID, cmd.ScanType, cmd.Target(), proto.Redact(cmd.ClientGitToken),
	)

	r.orchestrator.UpdateStatus(ctx, cmd.ScanID, proto.StatusRunning)

	if _, err := r.orchestrator.StartWorkflow(ctx, cmd); err != nil {
		return fmt.Errorf("could not start workflow: scan_id=%q error=%w", cmd.ScanID, err)
	}

	return nil
}

// ResultRelay forwards scan results to the downstream webhook
type ResultRelay struct {
	notifier Notifier
}

// NewResultRelay returns a relay forwarding to n
func NewResultRelay(n Notifier) *ResultRelay {
	return &ResultRelay{notifier: n}
}

// Handle processes one result message. Messages that can't be decoded are
// dropped since redelivering them won't help. Only transport failures
// reaching the webhook are returned.
func (r *ResultRelay) Handle(ctx context.Context, body []byte) error {
	var msg *proto.ResultMessage

	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Warning("dropping undecodable scan result: error=%q", err)
		return nil
	}

	if msg == nil || len(msg.ScanID) == 0 {
		logger.Warning("dropping scan result without a scan id")
		return nil
	}

	logger.Info("scan result received: scan_id=%q status=%q quality_gate_passed=%v", msg.ScanID, msg.Status, msg.QualityGatePassed)

	if !r.notifier.Enabled() {
		logger.Debug("no webhook configured, not forwarding result: scan_id=%q", msg.ScanID)
		return nil
	}

	err := r.notifier.Send(ctx, proto.NewResultNotification(msg))

	var statusErr *notifier.StatusError
	if errors.As(err, &statusErr) {
		logger.Warning("webhook rejected scan result: scan_id=%q status=%d", msg.ScanID, statusErr.StatusCode)
		return nil
	}

	if err != nil {
		return fmt.Errorf("could not notify webhook: scan_id=%q error=%w", msg.ScanID, err)
	}

	logger.Info("scan result forwarded: scan_id=%q", msg.ScanID)
	return nil
}
