package credits

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store with transaction rollback, used by the
// service tests. beforeApply runs just before a balance update, which lets
// tests simulate a concurrent spend between the advisory gate and the
// authoritative mutation.
type stubStore struct {
	profiles     map[string]Profile
	transactions []Transaction
	idempotency  map[string]bool
	appendErr    error
	beforeApply  func(store *stubStore)
	nextID       int
}

func newStubStore() *stubStore {
	return &stubStore{
		profiles:    map[string]Profile{},
		idempotency: map[string]bool{},
	}
}

func (store *stubStore) seed(userID string, credits int64, plan PlanTier) {
	store.profiles[userID] = Profile{UserID: userID, Credits: credits, Plan: plan}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	savedProfiles := make(map[string]Profile, len(store.profiles))
	for key, value := range store.profiles {
		savedProfiles[key] = value
	}
	savedTransactions := append([]Transaction(nil), store.transactions...)
	savedIdempotency := make(map[string]bool, len(store.idempotency))
	for key, value := range store.idempotency {
		savedIdempotency[key] = value
	}
	if err := fn(ctx, store); err != nil {
		store.profiles = savedProfiles
		store.transactions = savedTransactions
		store.idempotency = savedIdempotency
		return err
	}
	return nil
}

func (store *stubStore) GetProfile(_ context.Context, userID string) (Profile, error) {
	profile, ok := store.profiles[userID]
	if !ok {
		profile = Profile{UserID: userID, Credits: 0, Plan: PlanFree}
		store.profiles[userID] = profile
	}
	return profile, nil
}

func (store *stubStore) ApplyBalanceDelta(ctx context.Context, userID string, delta int64) (int64, error) {
	if store.beforeApply != nil {
		hook := store.beforeApply
		store.beforeApply = nil
		hook(store)
	}
	profile, err := store.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	newBalance := profile.Credits + delta
	if newBalance < 0 {
		return 0, ErrInsufficientCredits
	}
	profile.Credits = newBalance
	store.profiles[userID] = profile
	return newBalance, nil
}

func (store *stubStore) AppendTransaction(_ context.Context, input TransactionInput) error {
	if store.appendErr != nil {
		return store.appendErr
	}
	if input.IdempotencyKey != "" {
		dedupKey := input.UserID + "|" + input.IdempotencyKey
		if store.idempotency[dedupKey] {
			return ErrDuplicateIdempotencyKey
		}
		store.idempotency[dedupKey] = true
	}
	store.nextID++
	store.transactions = append(store.transactions, Transaction{
		TransactionID:  fmt.Sprintf("tx-%d", store.nextID),
		UserID:         input.UserID,
		Amount:         input.Amount,
		BalanceAfter:   input.BalanceAfter,
		Type:           input.Type,
		Description:    input.Description,
		IdempotencyKey: input.IdempotencyKey,
		MetadataJSON:   input.MetadataJSON,
		CreatedUnixUTC: input.CreatedUnixUTC,
	})
	return nil
}

func (store *stubStore) ListTransactions(_ context.Context, userID string, limit int) ([]Transaction, error) {
	matched := make([]Transaction, 0, len(store.transactions))
	for index := len(store.transactions) - 1; index >= 0; index-- {
		if store.transactions[index].UserID != userID {
			continue
		}
		matched = append(matched, store.transactions[index])
		if limit > 0 && len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (store *stubStore) userTransactions(userID string) []Transaction {
	matched := make([]Transaction, 0, len(store.transactions))
	for _, transaction := range store.transactions {
		if transaction.UserID == userID {
			matched = append(matched, transaction)
		}
	}
	return matched
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	amount, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}
