package semgrep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mholt/archives"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sentinel/securitygate/pkg/logger"
)

// Caps the decompressed size so a small compressed file can't exhaust
// memory
const maxOutputBytes = 256 << 20

// ErrInvalidOutput is returned when a document doesn't look like Semgrep
// output
var ErrInvalidOutput = errors.New("invalid semgrep output")

var outputSchemaLoader = gojsonschema.NewStringLoader(outputSchema)

// ReadFile loads Semgrep output from path. Compressed files (gzip, zstd,
// xz, ...) are decompressed transparently.
func ReadFile(ctx context.Context, path string) (*Output, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Read(ctx, file)
}

// Read loads Semgrep output from r, decompressing it if needed, and
// validates it before decoding
func Read(ctx context.Context, r io.Reader) (*Output, error) {
	format, stream, err := archives.Identify(ctx, "", r)
	if err != nil && !errors.Is(err, archives.NoMatch) {
		return nil, fmt.Errorf("could not identify semgrep output format: %w", err)
	}

	if format != nil {
		decompressor, ok := format.(archives.Decompressor)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported container format: format=%q", ErrInvalidOutput, format.Extension())
		}

		logger.Debug("decompressing semgrep output: format=%q", format.Extension())
		inner, err := decompressor.OpenReader(stream)
		if err != nil {
			return nil, fmt.Errorf("could not decompress semgrep output: %w", err)
		}
		defer inner.Close()
		stream = inner
	}

	data, err := io.ReadAll(io.LimitReader(stream, maxOutputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("could not read semgrep output: %w", err)
	}

	if len(data) > maxOutputBytes {
		return nil, fmt.Errorf("%w: output is larger than %d bytes", ErrInvalidOutput, maxOutputBytes)
	}

	return Parse(data)
}

// Parse validates data against the output schema and decodes it
func Parse(data []byte) (*Output, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidOutput)
	}

	result, err := gojsonschema.Validate(outputSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, problem := range result.Errors() {
			problems = append(problems, problem.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(problems, "; "))
	}

	var output Output
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	return &output, nil
}
