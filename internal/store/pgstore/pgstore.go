package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/letsrewise/creditledger/pkg/credits"
)

const (
	constraintUserIdempotencyKey = "uniq_credit_tx_user_idem"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectProfile          = "profile"
	errorSubjectBalance          = "balance"
	errorSubjectTransaction      = "transaction"
	errorCodeApply               = "apply"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeDuplicate           = "duplicate"
	errorCodeInsert              = "insert"
	errorCodeList                = "list"
	errorCodeLookup              = "lookup"

	sqlEnsureProfile = `
		insert into credit_profiles(user_id, plan_type) values($1, 'free')
		on conflict (user_id) do nothing
	`

	sqlSelectProfile = `
		select user_id, credits, plan_type from credit_profiles where user_id = $1
	`

	// The predicate is the no-negative guard: the update is a single atomic
	// read-modify-write, so concurrent debits serialize on the row instead of
	// clobbering each other's pre-read balances.
	sqlApplyBalanceDelta = `
		update credit_profiles
		set credits = credits + $2, updated_at = now()
		where user_id = $1 and credits + $2 >= 0
		returning credits
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, user_id, amount, balance_after, transaction_type,
			description, idempotency_key, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4, $5,
			nullif($6,''),
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8)
		)
	`

	sqlListTransactions = `
		select
			transaction_id::text,
			user_id,
			amount,
			balance_after,
			transaction_type,
			description,
			coalesce(idempotency_key,''),
			metadata::text,
			extract(epoch from created_at)::bigint
		from credit_transactions
		where user_id = $1
		order by created_at desc
		limit nullif($2, 0)
	`
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credits.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements credits.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetProfile(ctx context.Context, userID string) (credits.Profile, error) {
	return getProfile(ctx, store.pool, userID)
}

func (store *Store) ApplyBalanceDelta(ctx context.Context, userID string, delta int64) (int64, error) {
	return applyBalanceDelta(ctx, store.pool, userID, delta)
}

func (store *Store) AppendTransaction(ctx context.Context, input credits.TransactionInput) error {
	return appendTransaction(ctx, store.pool, input)
}

func (store *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]credits.Transaction, error) {
	return listTransactions(ctx, store.pool, userID, limit)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) GetProfile(ctx context.Context, userID string) (credits.Profile, error) {
	return getProfile(ctx, store.tx, userID)
}

func (store *TxStore) ApplyBalanceDelta(ctx context.Context, userID string, delta int64) (int64, error) {
	return applyBalanceDelta(ctx, store.tx, userID, delta)
}

func (store *TxStore) AppendTransaction(ctx context.Context, input credits.TransactionInput) error {
	return appendTransaction(ctx, store.tx, input)
}

func (store *TxStore) ListTransactions(ctx context.Context, userID string, limit int) ([]credits.Transaction, error) {
	return listTransactions(ctx, store.tx, userID, limit)
}

func getProfile(ctx context.Context, db dbtx, userID string) (credits.Profile, error) {
	if _, err := db.Exec(ctx, sqlEnsureProfile, userID); err != nil {
		return credits.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeLookup, err)
	}
	var (
		idValue      string
		creditsValue int64
		planValue    string
	)
	err := db.QueryRow(ctx, sqlSelectProfile, userID).Scan(&idValue, &creditsValue, &planValue)
	if err != nil {
		return credits.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeLookup, err)
	}
	return credits.Profile{
		UserID:  idValue,
		Credits: creditsValue,
		Plan:    credits.PlanTier(planValue),
	}, nil
}

func applyBalanceDelta(ctx context.Context, db dbtx, userID string, delta int64) (int64, error) {
	if _, err := db.Exec(ctx, sqlEnsureProfile, userID); err != nil {
		return 0, wrapStoreError(errorSubjectProfile, errorCodeLookup, err)
	}
	var newBalance int64
	err := db.QueryRow(ctx, sqlApplyBalanceDelta, userID, delta).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeApply, credits.ErrInsufficientCredits)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeApply, err)
	}
	return newBalance, nil
}

func appendTransaction(ctx context.Context, db dbtx, input credits.TransactionInput) error {
	_, err := db.Exec(ctx, sqlInsertTransaction,
		input.UserID,
		input.Amount,
		input.BalanceAfter,
		input.Type.String(),
		input.Description,
		input.IdempotencyKey,
		input.MetadataJSON,
		input.CreatedUnixUTC,
	)
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func listTransactions(ctx context.Context, db dbtx, userID string, limit int) ([]credits.Transaction, error) {
	var limitValue int64
	if limit > 0 {
		limitValue = int64(limit)
	}
	rows, err := db.Query(ctx, sqlListTransactions, userID, limitValue)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()

	transactions := make([]credits.Transaction, 0, 32)
	for rows.Next() {
		var (
			transactionID    string
			userIDValue      string
			amountValue      int64
			balanceAfter     int64
			typeValue        string
			descriptionValue string
			idempotencyValue string
			metadataValue    string
			createdAtUnixUTC int64
		)
		if err := rows.Scan(
			&transactionID,
			&userIDValue,
			&amountValue,
			&balanceAfter,
			&typeValue,
			&descriptionValue,
			&idempotencyValue,
			&metadataValue,
			&createdAtUnixUTC,
		); err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transactions = append(transactions, credits.Transaction{
			TransactionID:  transactionID,
			UserID:         userIDValue,
			Amount:         amountValue,
			BalanceAfter:   balanceAfter,
			Type:           credits.TransactionType(typeValue),
			Description:    descriptionValue,
			IdempotencyKey: idempotencyValue,
			MetadataJSON:   metadataValue,
			CreatedUnixUTC: createdAtUnixUTC,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserIdempotencyKey
	}
	return false
}
