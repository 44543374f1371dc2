package id

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// NewScanID returns a random scan identifier
func NewScanID() uuid.UUID {
	return uuid.New()
}

// ParseScanID parses s as a UUID and reports whether it was valid. The nil
// UUID is treated as invalid since it can't identify a scan.
func ParseScanID(s string) (uuid.UUID, bool) {
	scanID, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil || scanID == uuid.Nil {
		return uuid.Nil, false
	}

	return scanID, true
}

// Fingerprint returns a short stable hash of the data. It is used to
// recognize redeliveries of the same message body.
func Fingerprint(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
