package credits

import (
	"context"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	costs  CostSchedule
	plans  PlanTable
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store: store,
		nowFn: now,
		costs: DefaultCostSchedule(),
		plans: DefaultPlanTable(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the user's current credit balance. A user with no ledger
// record reads as zero, never as an error.
func (service *Service) Balance(ctx context.Context, userID UserID) (int64, error) {
	profile, err := service.store.GetProfile(ctx, userID.String())
	if err != nil {
		return 0, err
	}
	return profile.Credits, nil
}

// CanAfford answers whether the user could pay cost right now. Advisory only:
// the authoritative check happens again inside Debit's guarded update, so a
// concurrent spend between this read and the mutation is still caught there.
func (service *Service) CanAfford(ctx context.Context, userID UserID, cost Amount) (Decision, error) {
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if balance >= cost.Int64() {
		return Decision{Allowed: true}, nil
	}
	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("Insufficient credits. Need %d, have %d", cost.Int64(), balance),
	}, nil
}

// ActionCost resolves the configured credit cost of a paid action.
func (service *Service) ActionCost(action ActionName) (Amount, error) {
	return service.costs.Cost(action)
}

// CanPerform answers affordability for a named paid action.
func (service *Service) CanPerform(ctx context.Context, userID UserID, action ActionName) (Decision, error) {
	cost, err := service.costs.Cost(action)
	if err != nil {
		return Decision{}, err
	}
	return service.CanAfford(ctx, userID, cost)
}

// Debit deducts amount from the user's balance and appends the matching
// transaction record as one logical unit. A debit that would take the balance
// below zero fails with ErrInsufficientCredits and leaves no trace: no balance
// change and no transaction record. Returns the new balance on success.
func (service *Service) Debit(ctx context.Context, userID UserID, amount Amount, transactionType TransactionType, description string, metadata MetadataJSON, options ...MutationOption) (int64, error) {
	return service.mutate(ctx, operationDebit, userID, -amount.Int64(), transactionType, description, metadata, options...)
}

// Credit adds amount to the user's balance and appends the matching
// transaction record. Balances can always increase; there is no upper guard.
// Returns the new balance on success.
func (service *Service) Credit(ctx context.Context, userID UserID, amount Amount, transactionType TransactionType, description string, metadata MetadataJSON, options ...MutationOption) (int64, error) {
	return service.mutate(ctx, operationCredit, userID, amount.Int64(), transactionType, description, metadata, options...)
}

// MutationOption adjusts a single debit or credit call.
type MutationOption func(*mutationSettings)

type mutationSettings struct {
	idempotencyKey string
}

// WithIdempotencyKey makes the mutation replay-safe: a second call carrying
// the same key for the same user is rejected with ErrDuplicateIdempotencyKey
// and has no balance effect.
func WithIdempotencyKey(key string) MutationOption {
	return func(settings *mutationSettings) {
		settings.idempotencyKey = key
	}
}

// mutate is the single write path for balances. The guarded balance update and
// the transaction append run inside one store transaction, so a failed append
// rolls the balance back; the append failure still surfaces loudly as
// ErrLedgerReconciliation so a non-transactional store deployment is never
// silently inconsistent.
func (service *Service) mutate(ctx context.Context, operation string, userID UserID, delta int64, transactionType TransactionType, description string, metadata MetadataJSON, options ...MutationOption) (int64, error) {
	settings := mutationSettings{}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}

	var balanceAfter int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		newBalance, err := transactionStore.ApplyBalanceDelta(ctx, userID.String(), delta)
		if err != nil {
			return err
		}
		balanceAfter = newBalance
		input := TransactionInput{
			UserID:         userID.String(),
			Amount:         delta,
			BalanceAfter:   newBalance,
			Type:           transactionType,
			Description:    description,
			IdempotencyKey: settings.idempotencyKey,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		}
		if err := transactionStore.AppendTransaction(ctx, input); err != nil {
			if isDuplicateKey(err) {
				return err
			}
			return WrapError(operation, errorSubjectTransaction, errorCodeAppend, fmt.Errorf("%w: %w", ErrLedgerReconciliation, err))
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operation,
		UserID:       userID,
		Amount:       Amount(abs64(delta)),
		Type:         transactionType,
		BalanceAfter: balanceAfter,
		Metadata:     metadata,
		Error:        operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return balanceAfter, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func abs64(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
