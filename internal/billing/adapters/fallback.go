package adapters

import (
	"strings"

	"github.com/fleetlane/fleetlane/internal/billing/domain"
)

// ClassifyOutcome is the best-effort keyword heuristic used when a payload
// carries no structured outcome field. Providers drift their formats; the
// bias is toward FAILED so ambiguity never recognizes revenue.
func ClassifyOutcome(raw []byte) domain.Outcome {
	upper := strings.ToUpper(string(raw))
	if strings.Contains(upper, "SUCCESS") {
		return domain.OutcomeSuccess
	}
	if strings.Contains(upper, "CANCEL") {
		return domain.OutcomeCancelled
	}
	return domain.OutcomeFailed
}
