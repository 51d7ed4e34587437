package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/letsrewise/creditledger/pkg/credits"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUserIdempotencyKey = "uniq_credit_tx_user_idem"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectProfile          = "profile"
	errorSubjectBalance          = "balance"
	errorSubjectTransaction      = "transaction"
	errorCodeApply               = "apply"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeList                = "list"
	errorCodeLookup              = "lookup"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for sqlite deployments and tests; postgres
// schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CreditProfile{}, &CreditTransaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetProfile fetches the user's profile row, creating it at zero balance on
// the free tier when absent.
func (store *Store) GetProfile(ctx context.Context, userID string) (credits.Profile, error) {
	var model CreditProfile
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id": clause.Expr{SQL: "excluded.user_id"},
			}),
		}).
		FirstOrCreate(&model, CreditProfile{UserID: userID, PlanType: credits.PlanFree.String()}).Error
	if err != nil {
		return credits.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeLookup, err)
	}
	return credits.Profile{
		UserID:  model.UserID,
		Credits: model.Credits,
		Plan:    credits.PlanTier(model.PlanType),
	}, nil
}

// ApplyBalanceDelta applies delta as a single guarded update: the row-level
// predicate refuses any update that would take the balance below zero, so two
// concurrent debits can never both apply against the same pre-read balance.
func (store *Store) ApplyBalanceDelta(ctx context.Context, userID string, delta int64) (int64, error) {
	if _, err := store.GetProfile(ctx, userID); err != nil {
		return 0, err
	}
	result := store.db.WithContext(ctx).
		Model(&CreditProfile{}).
		Where("user_id = ? AND credits + ? >= 0", userID, delta).
		Update("credits", gorm.Expr("credits + ?", delta))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeApply, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeApply, credits.ErrInsufficientCredits)
	}
	var model CreditProfile
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return model.Credits, nil
}

// AppendTransaction inserts one immutable ledger line.
func (store *Store) AppendTransaction(ctx context.Context, input credits.TransactionInput) error {
	var idempotencyKey *string
	if input.IdempotencyKey != "" {
		value := input.IdempotencyKey
		idempotencyKey = &value
	}
	model := CreditTransaction{
		UserID:          input.UserID,
		Amount:          input.Amount,
		BalanceAfter:    input.BalanceAfter,
		TransactionType: input.Type.String(),
		Description:     input.Description,
		IdempotencyKey:  idempotencyKey,
		Metadata:        datatypesJSON(input.MetadataJSON),
		CreatedAt:       time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

// ListTransactions returns the user's history newest-first; limit <= 0 lists
// everything.
func (store *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]credits.Transaction, error) {
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []CreditTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]credits.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, mapTransaction(row))
	}
	return transactions, nil
}

func mapTransaction(row CreditTransaction) credits.Transaction {
	idempotencyKey := ""
	if row.IdempotencyKey != nil {
		idempotencyKey = *row.IdempotencyKey
	}
	return credits.Transaction{
		TransactionID:  row.TransactionID,
		UserID:         row.UserID,
		Amount:         row.Amount,
		BalanceAfter:   row.BalanceAfter,
		Type:           credits.TransactionType(row.TransactionType),
		Description:    row.Description,
		IdempotencyKey: idempotencyKey,
		MetadataJSON:   string(row.Metadata),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
