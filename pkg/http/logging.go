package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const defaultNetworkLogLevel = zerolog.DebugLevel
const extendedNetworkLogLevel = zerolog.TraceLevel
const maxNumberOfRequestBodyCharacters = 60
const maxNumberOfResponseBodyCharacters = 4 * 1024

// Headers that carry credentials
var sensitiveHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
}

func shouldNotLog(currentLevel zerolog.Level, levelToLogAt zerolog.Level) bool {
	return currentLevel > levelToLogAt
}

func redactHeaders(header http.Header) http.Header {
	redacted := header.Clone()
	for _, name := range sensitiveHeaders {
		if len(redacted.Values(name)) > 0 {
			redacted.Set(name, "[REDACTED]")
		}
	}
	return redacted
}

type readCloser struct {
	io.Reader
	io.Closer
}

// getResponseBody peeks at no more than limit bytes of the body for
// logging. The caller still reads the whole body, starting with the bytes
// peeked at.
func getResponseBody(response *http.Response, limit int64) io.ReadCloser {
	if response.Body == nil {
		return nil
	}

	original := response.Body
	prefix, err := io.ReadAll(io.LimitReader(original, limit))
	response.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(prefix), original),
		Closer: original,
	}

	if err != nil {
		return nil
	}

	return io.NopCloser(bytes.NewReader(prefix))
}

func getRequestBody(request *http.Request) io.ReadCloser {
	if request.GetBody == nil {
		return nil
	}

	body, err := request.GetBody()
	if err != nil {
		return nil
	}
	return body
}

func logBody(logger *zerolog.Logger, logPrefix string, body io.ReadCloser, maxBodyCharacters int64) {
	if body == nil {
		return
	}
	defer body.Close()

	bodyBytes, err := io.ReadAll(body)
	if err != nil || len(bodyBytes) == 0 {
		return
	}

	logger.WithLevel(defaultNetworkLogLevel).Msgf("%s body: %v", logPrefix, shortenStringFromCenter(string(bodyBytes), maxBodyCharacters))
}

// shortenStringFromCenter keeps only maxCharacters of str by cutting out
// the middle and marking the cut
func shortenStringFromCenter(str string, maxCharacters int64) string {
	bodyLength := int64(len(str))
	if maxCharacters > 0 && bodyLength > maxCharacters {
		subLength := maxCharacters / 2
		str = fmt.Sprintf("%s [...shortened...] %s", str[0:subLength], str[bodyLength-subLength:bodyLength])
	}
	return str
}

// LogRequest logs the method, URL and headers at debug level. Request
// bodies carry tokens so they are only logged at trace level.
func LogRequest(r *http.Request, logger *zerolog.Logger) {
	if shouldNotLog(logger.GetLevel(), defaultNetworkLogLevel) {
		return
	}

	logPrefixRequest := fmt.Sprintf("> request [%p]:", r)
	logger.WithLevel(defaultNetworkLogLevel).Msgf("%s %s %s", logPrefixRequest, r.Method, r.URL.Redacted())
	logger.WithLevel(defaultNetworkLogLevel).Msgf("%s header: %v", logPrefixRequest, redactHeaders(r.Header))

	if shouldNotLog(logger.GetLevel(), extendedNetworkLogLevel) {
		return
	}

	logBody(logger, logPrefixRequest, getRequestBody(r), maxNumberOfRequestBodyCharacters)
}

// LogResponse logs the status and headers at debug level and the body too
// when the response is an error
func LogResponse(response *http.Response, logger *zerolog.Logger) {
	if response == nil || shouldNotLog(logger.GetLevel(), defaultNetworkLogLevel) {
		return
	}

	logPrefixResponse := fmt.Sprintf("< response [%p]:", response.Request)
	logger.WithLevel(defaultNetworkLogLevel).Msgf("%s %s", logPrefixResponse, response.Status)
	logger.WithLevel(defaultNetworkLogLevel).Msgf("%s header: %v", logPrefixResponse, redactHeaders(response.Header))

	if response.StatusCode < 400 && shouldNotLog(logger.GetLevel(), extendedNetworkLogLevel) {
		return
	}

	if !strings.Contains(strings.ToLower(response.Header.Get("Content-Type")), "json") &&
		!strings.HasPrefix(strings.ToLower(response.Header.Get("Content-Type")), "text/") {
		logger.WithLevel(defaultNetworkLogLevel).Msgf("%s body: [NOT LOGGED]", logPrefixResponse)
		return
	}

	logBody(logger, logPrefixResponse, getResponseBody(response, maxNumberOfResponseBodyCharacters), maxNumberOfResponseBodyCharacters)
}
