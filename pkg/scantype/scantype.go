package scantype

import (
	"strings"
	"unicode"

	"github.com/sentinel/securitygate/pkg/config"
)

// The scan types the gate knows how to route and dispatch
const (
	SAST        = "SAST"
	FullSAST    = "FULL_SAST"
	Full        = "FULL"
	DAST        = "DAST"
	DASTBasic   = "DAST_BASIC"
	PortsScan   = "PORTS_SCAN"
	SecretsScan = "SECRETS_SCAN"
	Container   = "CONTAINER"
)

// DefaultResultRoutingKey is used when a result payload doesn't say what
// produced it
const DefaultResultRoutingKey = "scan.unknown.completed"

// Normalize upper cases, trims and turns dashes into underscores so
// "dast-basic" and "DAST_BASIC" are the same scan type
func Normalize(scanType string) string {
	var b strings.Builder
	scanType = strings.TrimSpace(scanType)
	b.Grow(len(scanType))

	for _, r := range scanType {
		if r == '-' {
			r = '_'
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	return b.String()
}

// TypesMatch normalizes scan types for easier matches
func TypesMatch(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// IsSAST reports whether the scan type is a static analysis scan
func IsSAST(scanType string) bool {
	switch Normalize(scanType) {
	case SAST, FullSAST:
		return true
	}
	return false
}

// IsDAST reports whether the scan type is a dynamic analysis scan
func IsDAST(scanType string) bool {
	switch Normalize(scanType) {
	case DAST, DASTBasic:
		return true
	}
	return false
}

// WebhookPath returns the workflow engine webhook path for the scan type
// and false when the engine has no workflow for it
func WebhookPath(scanType string) (string, bool) {
	switch Normalize(scanType) {
	case Full, FullSAST, SAST:
		return "/webhook/scan-sast", true
	case DAST, DASTBasic:
		return "/webhook/scan-dast", true
	case PortsScan:
		return "/webhook/scan-ports", true
	case SecretsScan:
		return "/webhook/scan-secrets", true
	case Container:
		return "/webhook/scan-container", true
	default:
		return "", false
	}
}

// RequestRoutingKey derives the routing key a scan request is published
// under. Well known types use the configured keys and everything else
// falls back to scan.<lowercased type>.
func RequestRoutingKey(scanType string, keys config.RoutingKeys) string {
	switch Normalize(scanType) {
	case SAST, FullSAST:
		return keyOr(keys.SAST, "scan.sast")
	case DAST, DASTBasic:
		return keyOr(keys.DAST, "scan.dast")
	case PortsScan:
		return keyOr(keys.Ports, "scan.ports")
	case SecretsScan:
		return keyOr(keys.Secrets, "scan.secrets")
	default:
		return "scan." + strings.ToLower(strings.TrimSpace(scanType))
	}
}

// ResultRoutingKey builds scan.<tag>.completed for a result producer tag
// such as a scan type or tool name. Dots in the tag become underscores so
// the key stays three words long and matches the scan.*.* binding.
func ResultRoutingKey(tag string) string {
	tag = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), ".", "_")
	if len(strings.Trim(tag, "_")) == 0 {
		return DefaultResultRoutingKey
	}

	return "scan." + tag + ".completed"
}

func keyOr(key, fallback string) string {
	if len(key) > 0 {
		return key
	}
	return fallback
}
