package credits

import (
	"errors"
	"testing"
)

func TestNewUserIDNormalizes(test *testing.T) {
	test.Parallel()
	userID, err := NewUserID("  user-42  ")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if userID.String() != "user-42" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
	if _, err := NewUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID for blank input, got %v", err)
	}
}

func TestNewAmountRejectsNegative(test *testing.T) {
	test.Parallel()
	if _, err := NewAmount(-1); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	amount, err := NewAmount(0)
	if err != nil {
		test.Fatalf("zero amount must be valid: %v", err)
	}
	if amount.Int64() != 0 {
		test.Fatalf("expected 0, got %d", amount.Int64())
	}
}

func TestNewMetadataJSON(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("empty metadata: %v", err)
	}
	if metadata.String() != "{}" {
		test.Fatalf("expected {} default, got %q", metadata.String())
	}
	if _, err := NewMetadataJSON("{not json"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestMarshalMetadata(test *testing.T) {
	test.Parallel()
	metadata, err := MarshalMetadata(map[string]any{"quiz_id": "q-1"})
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	if metadata.String() != `{"quiz_id":"q-1"}` {
		test.Fatalf("unexpected metadata: %s", metadata.String())
	}
	empty, err := MarshalMetadata(nil)
	if err != nil {
		test.Fatalf("marshal nil: %v", err)
	}
	if empty.String() != "{}" {
		test.Fatalf("expected {} for nil map, got %q", empty.String())
	}
}

func TestDefaultCostSchedule(test *testing.T) {
	test.Parallel()
	schedule := DefaultCostSchedule()
	expectations := map[ActionName]int64{
		ActionDocumentUpload:      30,
		ActionQuizGeneration:      3,
		ActionFlashcardGeneration: 2,
		ActionAIExplanation:       1,
		ActionDocumentReprocess:   15,
	}
	for action, want := range expectations {
		cost, err := schedule.Cost(action)
		if err != nil {
			test.Fatalf("cost %s: %v", action, err)
		}
		if cost.Int64() != want {
			test.Fatalf("expected %s to cost %d, got %d", action, want, cost.Int64())
		}
	}
	if _, err := schedule.Cost(ActionName("NOPE")); !errors.Is(err, ErrUnknownAction) {
		test.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestActionTransactionType(test *testing.T) {
	test.Parallel()
	if ActionDocumentUpload.TransactionType() != TypeDocumentUpload {
		test.Fatalf("expected document_upload, got %s", ActionDocumentUpload.TransactionType())
	}
	if ActionAIExplanation.TransactionType() != TypeAIExplanation {
		test.Fatalf("expected ai_explanation, got %s", ActionAIExplanation.TransactionType())
	}
}

func TestDefaultPlanTable(test *testing.T) {
	test.Parallel()
	table := DefaultPlanTable()
	expectations := map[PlanTier]int64{
		PlanFree:       0,
		PlanStarter:    108,
		PlanPro:        348,
		PlanTeam:       1200,
		PlanEnterprise: 0,
	}
	for tier, want := range expectations {
		monthly, err := table.MonthlyCredits(tier)
		if err != nil {
			test.Fatalf("monthly %s: %v", tier, err)
		}
		if monthly.Int64() != want {
			test.Fatalf("expected %s monthly %d, got %d", tier, want, monthly.Int64())
		}
	}
	if _, err := table.MonthlyCredits(PlanTier("gold")); !errors.Is(err, ErrUnknownPlan) {
		test.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}
