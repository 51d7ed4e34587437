package credits

import "strings"

// ActionName keys the cost schedule. The matching transaction type is the
// lowercase form of the action name.
type ActionName string

const (
	ActionDocumentUpload      ActionName = "DOCUMENT_UPLOAD"
	ActionQuizGeneration      ActionName = "QUIZ_GENERATION"
	ActionFlashcardGeneration ActionName = "FLASHCARD_GENERATION"
	ActionAIExplanation       ActionName = "AI_EXPLANATION"
	ActionDocumentReprocess   ActionName = "DOCUMENT_REPROCESS"
)

// String returns the schedule key.
func (action ActionName) String() string {
	return string(action)
}

// TransactionType derives the ledger category for a paid action.
func (action ActionName) TransactionType() TransactionType {
	return TransactionType(strings.ToLower(string(action)))
}

// CostSchedule maps a paid action to its credit cost.
type CostSchedule map[ActionName]Amount

// DefaultCostSchedule returns the production cost table.
func DefaultCostSchedule() CostSchedule {
	return CostSchedule{
		ActionDocumentUpload:      30,
		ActionQuizGeneration:      3,
		ActionFlashcardGeneration: 2,
		ActionAIExplanation:       1,
		ActionDocumentReprocess:   15,
	}
}

// Cost resolves an action's credit cost.
func (schedule CostSchedule) Cost(action ActionName) (Amount, error) {
	cost, ok := schedule[action]
	if !ok {
		return 0, ErrUnknownAction
	}
	return cost, nil
}

// PlanTier names a subscription level.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStarter    PlanTier = "starter"
	PlanPro        PlanTier = "pro"
	PlanTeam       PlanTier = "team"
	PlanEnterprise PlanTier = "enterprise"
)

// String returns the tier name.
func (tier PlanTier) String() string {
	return string(tier)
}

// PlanConfig describes one subscription tier.
type PlanConfig struct {
	Name           string
	MonthlyCredits Amount
	PriceUSD       int64
	Features       []string
}

// PlanTable maps plan tiers to their configuration. Not mutated at runtime.
type PlanTable map[PlanTier]PlanConfig

// DefaultPlanTable returns the production plan configuration.
func DefaultPlanTable() PlanTable {
	return PlanTable{
		PlanFree: {
			Name:           "Free",
			MonthlyCredits: 0,
			PriceUSD:       0,
			Features:       []string{"0 uploads", "Community support"},
		},
		PlanStarter: {
			Name:           "Starter",
			MonthlyCredits: 108,
			PriceUSD:       9,
			Features:       []string{"3 uploads", "6 quizzes", "Email support"},
		},
		PlanPro: {
			Name:           "Pro",
			MonthlyCredits: 348,
			PriceUSD:       29,
			Features:       []string{"10 uploads", "16 quizzes", "Priority support", "Export"},
		},
		PlanTeam: {
			Name:           "Team",
			MonthlyCredits: 1200,
			PriceUSD:       99,
			Features:       []string{"Unlimited uploads", "400 quizzes", "Team analytics", "Dedicated support"},
		},
		PlanEnterprise: {
			Name:           "Enterprise",
			MonthlyCredits: 0,
			PriceUSD:       0,
			Features:       []string{"Custom"},
		},
	}
}

// MonthlyCredits resolves a tier's monthly grant amount.
func (table PlanTable) MonthlyCredits(tier PlanTier) (Amount, error) {
	config, ok := table[tier]
	if !ok {
		return 0, ErrUnknownPlan
	}
	return config.MonthlyCredits, nil
}
