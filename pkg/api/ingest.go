package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sentinel/securitygate/pkg/fs"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/response"
	"github.com/sentinel/securitygate/pkg/scantype"
	"github.com/sentinel/securitygate/pkg/semgrep"
)

// Tool tag put on decisions made from Semgrep output
const semgrepTool = "semgrep"

// readBody reads at most max_body_bytes and reports a GateError when the
// body is empty, null or too big
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *response.GateError) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			gateErr := response.NewError(response.ValidationError, "payload is too large")
			return nil, &gateErr
		}

		gateErr := response.NewError(response.MalformedMessageError, "could not read payload")
		return nil, &gateErr
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		gateErr := response.NewError(response.ValidationError, "empty payload")
		return nil, &gateErr
	}

	return body, nil
}

// handleResultReady evaluates a Semgrep result file the workflow engine
// left on shared storage and publishes the decision
func (s *Server) handleResultReady(w http.ResponseWriter, r *http.Request) {
	body, gateErr := s.readBody(w, r)
	if gateErr != nil {
		logger.Warning("rejected result notification: error=%q", gateErr.Message)
		writeError(w, *gateErr)
		return
	}

	var notification proto.IngestNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		logger.Warning("rejected result notification: error=%q", err)
		writeError(w, response.NewError(response.MalformedMessageError, "invalid payload"))
		return
	}

	scanID := strings.TrimSpace(notification.ScanID)
	if len(scanID) == 0 || len(strings.TrimSpace(notification.FilePath)) == 0 {
		logger.Warning("rejected result notification: missing scanId or filePath")
		writeError(w, response.NewError(response.ValidationError, "scanId and filePath are required"))
		return
	}

	path, err := fs.WithinBase(s.cfg.Ingest.ResultsBasePath, notification.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrOutsideBase) {
			logger.Warning("rejected path outside the results directory: scan_id=%q file_path=%q", scanID, notification.FilePath)
			writeError(w, response.NewError(response.ValidationError, "filePath is outside the results directory"))
			return
		}

		logger.Warning("rejected invalid path: scan_id=%q file_path=%q error=%q", scanID, notification.FilePath, err)
		writeError(w, response.NewError(response.ValidationError, "invalid filePath"))
		return
	}

	if !fs.FileExists(path) {
		logger.Warning("result file not found: scan_id=%q path=%q", scanID, path)
		writeError(w, response.NewError(response.NotFoundError, "result not found"))
		return
	}

	logger.Info("processing semgrep result: scan_id=%q path=%q", scanID, path)

	output, err := semgrep.ReadFile(r.Context(), path)
	if err != nil {
		logger.Error("could not read semgrep result: scan_id=%q path=%q error=%q", scanID, path, err)
		writeError(w, response.NewError(response.InternalError, "an error occurred processing the result"))
		return
	}

	result := semgrep.Normalize(output, scanID)
	decision := s.evaluator.Evaluate(&result)
	message := proto.NewDecisionMessage(scantype.SAST, semgrepTool, &result, &decision)

	if err := s.publisher.PublishDecision(r.Context(), message); err != nil {
		logger.Error("could not publish decision: scan_id=%q error=%q", scanID, err)
		writeError(w, response.NewError(response.InternalError, "an error occurred processing the result"))
		return
	}

	logger.Info("decision published: scan_id=%q status=%q reason=%q findings=%d", scanID, decision.Status, decision.Reason, len(result.Findings))
	writeJSON(w, http.StatusAccepted, proto.IngestAccepted{ScanID: scanID, Status: decision.Status})
}
