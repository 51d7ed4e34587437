package credits

import (
	"context"
	"testing"
)

func TestUsageStatsAggregation(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-stats")
	metadata := mustMetadata(test, "{}")
	ctx := context.Background()

	if _, err := service.Credit(ctx, userID, mustAmount(test, 100), TypeSubscription, "grant", metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := service.Debit(ctx, userID, mustAmount(test, 30), TypeDocumentUpload, "upload", metadata); err != nil {
		test.Fatalf("debit upload: %v", err)
	}
	if _, err := service.Debit(ctx, userID, mustAmount(test, 3), TypeQuizGeneration, "quiz", metadata); err != nil {
		test.Fatalf("debit quiz: %v", err)
	}

	stats, err := service.UsageStats(ctx, userID)
	if err != nil {
		test.Fatalf("usage stats: %v", err)
	}
	if stats.TotalEarned != 100 {
		test.Fatalf("expected earned 100, got %d", stats.TotalEarned)
	}
	if stats.TotalSpent != 33 {
		test.Fatalf("expected spent 33, got %d", stats.TotalSpent)
	}
	if stats.CurrentBalance != 67 {
		test.Fatalf("expected balance 67, got %d", stats.CurrentBalance)
	}
	if stats.ByCategory[TypeDocumentUpload] != 30 {
		test.Fatalf("expected 30 spent on uploads, got %d", stats.ByCategory[TypeDocumentUpload])
	}
	if stats.ByCategory[TypeQuizGeneration] != 3 {
		test.Fatalf("expected 3 spent on quizzes, got %d", stats.ByCategory[TypeQuizGeneration])
	}
	if _, ok := stats.ByCategory[TypeSubscription]; ok {
		test.Fatalf("credits must not appear in spend categories")
	}

	if stats.CurrentBalance != stats.TotalEarned-stats.TotalSpent {
		test.Fatalf("balance %d diverges from earned-spent %d", stats.CurrentBalance, stats.TotalEarned-stats.TotalSpent)
	}
}

func TestUsageStatsEmptyHistory(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)

	stats, err := service.UsageStats(context.Background(), mustUserID(test, "user-empty"))
	if err != nil {
		test.Fatalf("usage stats: %v", err)
	}
	if stats.TotalEarned != 0 || stats.TotalSpent != 0 || stats.CurrentBalance != 0 {
		test.Fatalf("expected zero stats, got %+v", stats)
	}
	if len(stats.ByCategory) != 0 {
		test.Fatalf("expected empty categories, got %v", stats.ByCategory)
	}
}

func TestListTransactionsNewestFirstWithLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-history")
	metadata := mustMetadata(test, "{}")
	ctx := context.Background()

	if _, err := service.Credit(ctx, userID, mustAmount(test, 50), TypePurchase, "first", metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := service.Debit(ctx, userID, mustAmount(test, 1), TypeAIExplanation, "second", metadata); err != nil {
		test.Fatalf("debit: %v", err)
	}
	if _, err := service.Debit(ctx, userID, mustAmount(test, 2), TypeFlashcardGeneration, "third", metadata); err != nil {
		test.Fatalf("debit: %v", err)
	}

	page, err := service.ListTransactions(ctx, userID, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		test.Fatalf("expected 2 rows, got %d", len(page))
	}
	if page[0].Description != "third" || page[1].Description != "second" {
		test.Fatalf("expected newest-first ordering, got %q then %q", page[0].Description, page[1].Description)
	}
}
