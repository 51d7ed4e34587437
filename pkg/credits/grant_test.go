package credits

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGrantMonthlyCreditsForPaidPlan(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seed("user-pro", 12, PlanPro)
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-pro")

	granted, err := service.GrantMonthlyCredits(context.Background(), userID)
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	if granted != 348 {
		test.Fatalf("expected pro grant of 348, got %d", granted)
	}

	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != 360 {
		test.Fatalf("expected balance 360, got %d", balance)
	}

	records := store.userTransactions(userID.String())
	if len(records) != 1 {
		test.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Type != TypeSubscription {
		test.Fatalf("expected subscription type, got %s", records[0].Type)
	}
	if !strings.Contains(records[0].Description, "pro") {
		test.Fatalf("expected plan name in description, got %q", records[0].Description)
	}
	if !strings.Contains(records[0].MetadataJSON, `"plan":"pro"`) {
		test.Fatalf("expected plan metadata, got %s", records[0].MetadataJSON)
	}
}

func TestGrantMonthlyCreditsFreePlanIsNoOp(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seed("user-free", 7, PlanFree)
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-free")

	granted, err := service.GrantMonthlyCredits(context.Background(), userID)
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	if granted != 0 {
		test.Fatalf("expected zero grant for free plan, got %d", granted)
	}
	if got := len(store.userTransactions(userID.String())); got != 0 {
		test.Fatalf("expected no records, got %d", got)
	}
}

func TestGrantMonthlyCreditsRejectsSameMonthReplay(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seed("user-replay-grant", 0, PlanStarter)
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-replay-grant")

	if _, err := service.GrantMonthlyCredits(context.Background(), userID); err != nil {
		test.Fatalf("first grant: %v", err)
	}
	_, err := service.GrantMonthlyCredits(context.Background(), userID)
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected duplicate-key rejection, got %v", err)
	}

	balance, balanceErr := service.Balance(context.Background(), userID)
	if balanceErr != nil {
		test.Fatalf("balance: %v", balanceErr)
	}
	if balance != 108 {
		test.Fatalf("expected single starter grant of 108, got %d", balance)
	}
}

func TestGrantMonthlyCreditsUnknownPlan(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.seed("user-odd", 0, PlanTier("legacy"))
	service := mustNewService(test, store)

	_, err := service.GrantMonthlyCredits(context.Background(), mustUserID(test, "user-odd"))
	if !errors.Is(err, ErrUnknownPlan) {
		test.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}
