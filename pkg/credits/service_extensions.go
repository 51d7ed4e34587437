package credits

import (
	"context"
	"fmt"
	"time"
)

// ActionFunc is an opaque paid action executed by WithCredits: document
// processing, quiz generation, and similar units of work the ledger has no
// visibility into beyond success or failure.
type ActionFunc func(ctx context.Context) (any, error)

// ActionResult carries the outcome of a gated paid action.
type ActionResult struct {
	Data         any
	BalanceAfter int64
}

// WithCredits composes the affordability gate, the paid action, and the debit
// into one call. Ordering is perform-then-charge: a user who could afford the
// action at check time is never blocked, at the cost of a rare unbilled action
// when a concurrent spend drains the balance mid-flight. That case surfaces as
// ErrChargeAfterAction with the action's data still attached, never as a
// silent success.
func (service *Service) WithCredits(ctx context.Context, userID UserID, action ActionName, fn ActionFunc, metadata MetadataJSON) (ActionResult, error) {
	cost, err := service.costs.Cost(action)
	if err != nil {
		return ActionResult{}, err
	}

	decision, err := service.CanAfford(ctx, userID, cost)
	if err != nil {
		return ActionResult{}, err
	}
	if !decision.Allowed {
		operationError := WrapError(operationAction, action.String(), "gate", fmt.Errorf("%w: %s", ErrInsufficientCredits, decision.Reason))
		service.logOperation(ctx, OperationLog{
			Operation: operationAction,
			UserID:    userID,
			Amount:    cost,
			Type:      action.TransactionType(),
			Metadata:  metadata,
			Error:     operationError,
		})
		return ActionResult{}, operationError
	}

	data, actionErr := fn(ctx)
	if actionErr != nil {
		// The gate was advisory and nothing was charged.
		return ActionResult{}, fmt.Errorf("%w: %w", ErrActionFailed, actionErr)
	}

	balanceAfter, debitErr := service.Debit(
		ctx,
		userID,
		cost,
		action.TransactionType(),
		fmt.Sprintf("Performed action: %s", action),
		metadata,
	)
	if debitErr != nil {
		// The action's side effect already happened and is not rolled back.
		return ActionResult{Data: data}, fmt.Errorf("%w: %w", ErrChargeAfterAction, debitErr)
	}
	return ActionResult{Data: data, BalanceAfter: balanceAfter}, nil
}

// GrantMonthlyCredits credits the user's plan-tier monthly amount with a
// "subscription" transaction. A tier granting zero credits is a no-op. The
// grant carries a per-month idempotency key, so re-triggering within the same
// calendar month fails with ErrDuplicateIdempotencyKey instead of
// double-granting.
func (service *Service) GrantMonthlyCredits(ctx context.Context, userID UserID) (Amount, error) {
	profile, err := service.store.GetProfile(ctx, userID.String())
	if err != nil {
		return 0, err
	}
	monthlyCredits, err := service.plans.MonthlyCredits(profile.Plan)
	if err != nil {
		return 0, err
	}
	if monthlyCredits == 0 {
		return 0, nil
	}

	metadata, err := MarshalMetadata(map[string]any{"plan": profile.Plan.String()})
	if err != nil {
		return 0, err
	}
	month := time.Unix(service.nowFn(), 0).UTC().Format(monthlyGrantKeyLayout)
	grantKey := fmt.Sprintf("%s:%s:%s", monthlyGrantKeyPrefix, userID.String(), month)

	_, err = service.Credit(
		ctx,
		userID,
		monthlyCredits,
		TypeSubscription,
		fmt.Sprintf("Monthly credits for %s plan", profile.Plan),
		metadata,
		WithIdempotencyKey(grantKey),
	)
	if err != nil {
		return 0, err
	}
	return monthlyCredits, nil
}

// UsageStats aggregates the user's full transaction history. CurrentBalance is
// read from the balance row, not derived from the sum, so a violated ledger
// invariant shows up as a divergence between the two.
func (service *Service) UsageStats(ctx context.Context, userID UserID) (UsageStats, error) {
	transactions, err := service.store.ListTransactions(ctx, userID.String(), 0)
	if err != nil {
		return UsageStats{}, err
	}

	stats := UsageStats{ByCategory: map[TransactionType]int64{}}
	for _, transaction := range transactions {
		if transaction.Amount > 0 {
			stats.TotalEarned += transaction.Amount
			continue
		}
		spent := -transaction.Amount
		stats.TotalSpent += spent
		if spent > 0 {
			stats.ByCategory[transaction.Type] += spent
		}
	}

	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return UsageStats{}, err
	}
	stats.CurrentBalance = balance
	return stats, nil
}

// ListTransactions lists the user's history newest-first. A non-positive limit
// falls back to DefaultHistoryLimit.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return service.store.ListTransactions(ctx, userID.String(), limit)
}
