package http

import (
	"net/http"
	"sync"

	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/version"
)

// HTTPClient provides an interface for working with Go's http client or
// swapping it out with other types for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var once sync.Once
var client *http.Client

// NewClient creates a http client with preferred configuration. Callers
// bound their requests with a context instead of a client timeout.
func NewClient() *http.Client {
	once.Do(func() {
		client = &http.Client{
			Transport: NewRoundTripper(http.DefaultTransport),
		}
	})
	return client
}

// NewRoundTripper wraps rt so every request carries the gate's user agent
// and requests/responses are logged at debug level
func NewRoundTripper(rt http.RoundTripper) http.RoundTripper {
	return &customRoundTripper{rt: rt}
}

type customRoundTripper struct {
	rt http.RoundTripper
}

func (rt *customRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.GlobalUserAgent)

	LogRequest(req, logger.Logger())
	resp, err := rt.rt.RoundTrip(req)
	if err != nil {
		logger.Logger().Debug().Err(err).Msgf("< response [%p]: transport error", req)
		return resp, err
	}

	LogResponse(resp, logger.Logger())
	return resp, nil
}
