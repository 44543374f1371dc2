package gate

import (
	"strings"
	"time"

	"github.com/sentinel/securitygate/pkg/proto"
)

// MaxCriticalFindings is how many findings with the tool's ERROR severity
// a scan may have and still pass
const MaxCriticalFindings = 5

// Failure reasons
const (
	ReasonSecrets          = "secrets detected"
	ReasonTooManyCriticals = "too many critical findings"
)

// The raw severity counted as critical. Findings carry the tool's own
// vocabulary, so other tools' "CRITICAL" or "HIGH" don't count here.
const criticalSeverity = "ERROR"

// Evaluator decides whether a scan result passes the quality gate
type Evaluator struct {
	// Now stamps the decision; it's converted to UTC
	Now func() time.Time
}

// NewEvaluator returns an evaluator using the wall clock
func NewEvaluator() *Evaluator {
	return &Evaluator{Now: time.Now}
}

// Evaluate applies the rules in order: any finding whose rule mentions a
// secret fails the gate, then more than MaxCriticalFindings critical
// findings fail it. Everything else passes.
func (e *Evaluator) Evaluate(result *proto.ScanResult) proto.QualityGateDecision {
	decision := proto.QualityGateDecision{
		ScanID:     result.ScanID,
		Status:     proto.GatePass,
		FinishedAt: e.Now().UTC(),
	}

	criticals := 0
	for _, finding := range result.Findings {
		if strings.Contains(finding.Rule, "secret") {
			decision.Status = proto.GateFail
			decision.Reason = ReasonSecrets
			return decision
		}

		if finding.Severity == criticalSeverity {
			criticals++
		}
	}

	if criticals > MaxCriticalFindings {
		decision.Status = proto.GateFail
		decision.Reason = ReasonTooManyCriticals
	}

	return decision
}
