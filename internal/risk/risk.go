// Package risk scores assets from their outstanding vulnerabilities.
package risk

import "github.com/21Micheal/netsec/internal/domain"

// Severity weights for the cumulative asset risk score.
var severityWeights = map[string]int{
	domain.SeverityCritical: 40,
	domain.SeverityHigh:     30,
	domain.SeverityMedium:   20,
	domain.SeverityLow:      10,
}

const maxScore = 100

// AssetScore computes the cumulative risk score for an asset from its
// vulnerabilities. Fixed and false-positive findings do not count;
// unknown severities weigh as LOW. The score is capped at 100.
func AssetScore(vulns []*domain.Vulnerability) int {
	total := 0
	for _, v := range vulns {
		if v.Status == domain.VulnStatusFixed || v.Status == domain.VulnStatusFalsePositive {
			continue
		}
		weight, ok := severityWeights[v.Severity]
		if !ok {
			weight = severityWeights[domain.SeverityLow]
		}
		total += weight
	}
	if total > maxScore {
		return maxScore
	}
	return total
}

// Level buckets a numeric score into the presentation levels used by
// insight summaries.
func Level(score int) string {
	switch {
	case score >= 70:
		return "CRITICAL"
	case score >= 40:
		return "HIGH"
	case score >= 20:
		return "MEDIUM"
	case score > 0:
		return "LOW"
	default:
		return "NONE"
	}
}
