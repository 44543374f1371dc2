package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/response"
	"github.com/sentinel/securitygate/pkg/scantype"
)

const (
	statusAccepted         = "ACCEPTED"
	completionMethodBroker = "RABBITMQ_EVENT"
)

// validateScanCommand checks that the command carries what its scan type
// needs
func validateScanCommand(cmd *proto.ScanCommand) *response.GateError {
	var gateErr response.GateError

	switch {
	case scantype.IsSAST(cmd.ScanType) && (len(cmd.RepositoryURL) == 0 || len(cmd.Branch) == 0):
		gateErr = response.NewError(response.ValidationError, "SAST scans need targetRepo and branch")
	case scantype.IsDAST(cmd.ScanType) && len(cmd.TargetURL) == 0:
		gateErr = response.NewError(response.ValidationError, "DAST scans need targetUrl")
	default:
		if _, ok := scantype.WebhookPath(cmd.ScanType); ok {
			return nil
		}
		gateErr = response.NewError(response.ValidationError, "unsupported scan type: %s", cmd.ScanType)
	}

	return &gateErr
}

// handleScanRequest accepts a scan and queues it for the request relay
func (s *Server) handleScanRequest(w http.ResponseWriter, r *http.Request) {
	body, gateErr := s.readBody(w, r)
	if gateErr != nil {
		writeError(w, *gateErr)
		return
	}

	var cmd proto.ScanCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		logger.Warning("rejected scan request: error=%q", err)
		writeError(w, response.NewError(response.MalformedMessageError, "invalid payload"))
		return
	}

	if gateErr := validateScanCommand(&cmd); gateErr != nil {
		logger.Warning("rejected scan request: scan_type=%q error=%q", cmd.ScanType, gateErr.Message)
		writeError(w, *gateErr)
		return
	}

	if cmd.ScanID == uuid.Nil {
		cmd.ScanID = s.NewID()
	}

	routingKey := scantype.RequestRoutingKey(cmd.ScanType, s.cfg.Broker.RoutingKeys)
	if err := s.publisher.PublishRequest(r.Context(), &cmd, routingKey); err != nil {
		logger.Error("could not queue scan request: scan_id=%q error=%q", cmd.ScanID, err)
		writeError(w, response.NewError(response.DependencyError, "could not queue the scan request"))
		return
	}

	writeJSON(w, http.StatusAccepted, proto.ScanAcceptance{
		ScanID:                 cmd.ScanID,
		Status:                 statusAccepted,
		RequestedService:       cmd.ScanType,
		AcceptanceTimestampUTC: s.now().UTC(),
		CompletionMethod:       completionMethodBroker,
	})
}

// handleResultWebhook publishes whatever JSON the workflow engine posts as
// a scan result
func (s *Server) handleResultWebhook(w http.ResponseWriter, r *http.Request) {
	body, gateErr := s.readBody(w, r)
	if gateErr != nil {
		writeError(w, *gateErr)
		return
	}

	if !json.Valid(body) {
		writeError(w, response.NewError(response.MalformedMessageError, "invalid payload"))
		return
	}

	if err := s.publisher.PublishResult(r.Context(), json.RawMessage(body)); err != nil {
		logger.Error("could not publish scan result: error=%q", err)
		writeError(w, response.NewError(response.InternalError, "could not publish the result"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "result published"})
}
