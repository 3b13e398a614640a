package rules

import "github.com/opensource-finance/ringwatch/internal/domain"

// DefaultRules returns the rules loaded when the archive holds none.
// Stored rules replace them entirely.
func DefaultRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "critical-score",
			Name:        "Critical suspicion score",
			Description: "Account reached the critical suspicion band",
			Version:     "1.0.0",
			Expression:  "score >= 90.0",
			Bands: []domain.RuleBand{
				{UpperLimit: domain.Float64Ptr(1), SubRuleRef: domain.RuleOutcomePass, Reason: "below critical band"},
				{LowerLimit: domain.Float64Ptr(1), SubRuleRef: domain.RuleOutcomeFail, Reason: "suspicion score is critical"},
			},
			Enabled: true,
		},
		{
			ID:          "cycle-and-smurfing",
			Name:        "Cycle member with smurfing",
			Description: "Account closes a transfer loop and also fans funds in or out",
			Version:     "1.0.0",
			Expression:  `ring_pattern.startsWith("cycle_length_") && (fan_in || fan_out)`,
			Bands: []domain.RuleBand{
				{UpperLimit: domain.Float64Ptr(1), SubRuleRef: domain.RuleOutcomePass, Reason: "no combined pattern"},
				{LowerLimit: domain.Float64Ptr(1), SubRuleRef: domain.RuleOutcomeReview, Reason: "cycle member with smurfing activity"},
			},
			Enabled: true,
		},
	}
}
