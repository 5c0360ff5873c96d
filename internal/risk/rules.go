package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

var destructiveWords = []string{
	"delete", "destroy", "terminate", "drop", "rm -rf", "purge", "truncate",
}

var productionNames = map[string]bool{
	"prod":       true,
	"production": true,
	"prd":        true,
}

// RuleAssessor scores actions from their declared severity, environment and
// command text. It needs no external service.
type RuleAssessor struct{}

func NewRuleAssessor() *RuleAssessor {
	return &RuleAssessor{}
}

func (r *RuleAssessor) Assess(ctx context.Context, action *models.Action) (*models.RiskAssessment, error) {
	score := 0
	var reasons []string

	switch action.Severity {
	case models.SeverityCritical:
		score += 2
		reasons = append(reasons, "critical issue severity")
	case models.SeverityHigh:
		score++
		reasons = append(reasons, "high issue severity")
	}

	if productionNames[strings.ToLower(action.Environment)] {
		score++
		reasons = append(reasons, "production environment")
	}

	command := strings.ToLower(action.ActionCommand)
	for _, word := range destructiveWords {
		if strings.Contains(command, word) {
			score += 2
			reasons = append(reasons, fmt.Sprintf("destructive operation %q", word))
			break
		}
	}

	if action.ActionType == models.ActionTypeScript {
		score++
		reasons = append(reasons, "free-form script")
	}

	if action.RollbackCommand == nil {
		score++
		reasons = append(reasons, "no rollback command")
	}

	level := models.RiskLow
	switch {
	case score >= 5:
		level = models.RiskCritical
	case score >= 3:
		level = models.RiskHigh
	case score >= 1:
		level = models.RiskMedium
	}

	rationale := "no risk factors found"
	if len(reasons) > 0 {
		rationale = strings.Join(reasons, "; ")
	}
	return &models.RiskAssessment{Level: level, Rationale: rationale}, nil
}
