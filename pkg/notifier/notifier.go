package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/sentinel/securitygate/pkg/config"
	httpclient "github.com/sentinel/securitygate/pkg/http"
	"github.com/sentinel/securitygate/pkg/logger"
)

const (
	defaultTimeoutSeconds = 30
	maxErrorBodyBytes     = 4 * 1024
)

// StatusError is returned when the webhook answered with a non-success
// status. The request reached the receiver so it isn't worth retrying.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned non-success status: status=%d body=%q", e.StatusCode, e.Body)
}

// WebhookNotifier posts scan result notifications to the downstream webhook
type WebhookNotifier struct {
	config     config.Notifier
	httpClient httpclient.HTTPClient
}

// NewWebhookNotifier creates a notifier for cfg. Enabled reports false when
// no webhook URL is configured.
func NewWebhookNotifier(cfg config.Notifier, client httpclient.HTTPClient) *WebhookNotifier {
	return &WebhookNotifier{
		config:     cfg,
		httpClient: client,
	}
}

// Enabled reports whether there is a webhook to notify
func (w *WebhookNotifier) Enabled() bool {
	return len(w.config.WebhookURL) > 0
}

// Send posts payload as JSON in a single attempt. Transport failures are
// returned as is and non-success statuses as a *StatusError.
func (w *WebhookNotifier) Send(ctx context.Context, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	timeout := defaultTimeoutSeconds
	if w.config.TimeoutSeconds > 0 {
		timeout = w.config.TimeoutSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if len(w.config.AuthToken) > 0 {
		req.Header.Set("Authorization", "Bearer "+w.config.AuthToken)
	}

	// Custom headers win over the defaults
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	logger.Debug("webhook sent: url=%q status=%d", w.config.WebhookURL, resp.StatusCode)
	return nil
}
