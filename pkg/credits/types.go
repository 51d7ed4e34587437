package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID identifies a ledger account owner. Identity is established upstream;
// the ledger only requires a stable non-empty value.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// Amount is a non-negative credit quantity. The sign of a mutation is implied
// by whether Debit or Credit is called, never by the amount itself.
type Amount int64

// NewAmount validates an amount and ensures it is not negative.
func NewAmount(raw int64) (Amount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw amount.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// MetadataJSON stores arbitrary request metadata as a JSON object.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// MarshalMetadata builds MetadataJSON from a key/value map.
func MarshalMetadata(values map[string]any) (MetadataJSON, error) {
	if len(values) == 0 {
		return MetadataJSON{value: "{}"}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return MetadataJSON{value: string(raw)}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// TransactionType categorizes a ledger mutation.
type TransactionType string

const (
	TypeDocumentUpload      TransactionType = "document_upload"
	TypeQuizGeneration      TransactionType = "quiz_generation"
	TypeFlashcardGeneration TransactionType = "flashcard_generation"
	TypeAIExplanation       TransactionType = "ai_explanation"
	TypeDocumentReprocess   TransactionType = "document_reprocess"
	TypeSubscription        TransactionType = "subscription"
	TypePurchase            TransactionType = "purchase"
)

// String returns the category tag.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// NewTransactionType validates a category tag.
func NewTransactionType(raw string) (TransactionType, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidTransactionType)
	}
	return TransactionType(trimmed), nil
}

// Transaction is a single immutable line in the ledger. Amount is signed:
// negative for debits, positive for credits. BalanceAfter snapshots the
// account balance immediately after the mutation committed.
type Transaction struct {
	TransactionID  string
	UserID         string
	Amount         int64
	BalanceAfter   int64
	Type           TransactionType
	Description    string
	IdempotencyKey string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// TransactionInput carries a pending ledger line into the store.
type TransactionInput struct {
	UserID         string
	Amount         int64
	BalanceAfter   int64
	Type           TransactionType
	Description    string
	IdempotencyKey string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Profile is the mutable per-user row: the current balance plus the
// subscription tier consulted by the monthly grant.
type Profile struct {
	UserID  string
	Credits int64
	Plan    PlanTier
}

// Decision is the advisory affordability answer. Reason is populated only on
// refusal and names both the required cost and the current balance.
type Decision struct {
	Allowed bool
	Reason  string
}

// UsageStats aggregates a user's transaction history.
type UsageStats struct {
	TotalEarned    int64
	TotalSpent     int64
	CurrentBalance int64
	ByCategory     map[TransactionType]int64
}

// Store is the persistence contract used by Service.
//
// ApplyBalanceDelta is the single balance write path: it must create the
// profile row at zero when absent and apply the delta as one atomic guarded
// update that refuses to take the balance below zero (ErrInsufficientCredits).
// Two unguarded read-then-write calls are not an acceptable implementation.
//
// ListTransactions returns rows newest-first; a limit <= 0 returns the full
// history (used by usage aggregation).
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetProfile(ctx context.Context, userID string) (Profile, error)
	ApplyBalanceDelta(ctx context.Context, userID string, delta int64) (int64, error)
	AppendTransaction(ctx context.Context, input TransactionInput) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
}
