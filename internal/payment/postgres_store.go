package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/tiptap/internal/pagination"
	"github.com/mbd888/tiptap/internal/tip"
)

// PostgresStore persists transactions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, idempotency_key, type, method, status, amount, currency,
	merchant_id, customer_id, gateway_id, gateway_transaction_id,
	original_transaction_id, failure_reason, metadata, tip,
	submitted_at, processed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	meta, tipJSON, err := encodeJSONColumns(tx)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6::NUMERIC(20,6), $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19
		)`,
		tx.ID, tx.IdempotencyKey, string(tx.Type), string(tx.Method), string(tx.Status), tx.Amount.String(), tx.Currency,
		tx.MerchantID, tx.CustomerID, tx.GatewayID, tx.GatewayTransactionID,
		tx.OriginalTransactionID, tx.FailureReason, meta, tipJSON,
		tx.SubmittedAt, tx.ProcessedAt, tx.CreatedAt, tx.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

func (p *PostgresStore) GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

func (p *PostgresStore) Update(ctx context.Context, tx *Transaction, expected Status) error {
	if err := checkTransition(expected, tx.Status); err != nil {
		return err
	}
	meta, _, err := encodeJSONColumns(tx)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, gateway_transaction_id = $2, failure_reason = $3,
			metadata = $4, submitted_at = $5, processed_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(tx.Status), tx.GatewayTransactionID, tx.FailureReason,
		meta, tx.SubmittedAt, tx.ProcessedAt, tx.UpdatedAt,
		tx.ID, string(expected),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, tx.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func (p *PostgresStore) ListRefunds(ctx context.Context, originalID string) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE original_transaction_id = $1 AND type = 'refund'
		ORDER BY created_at ASC`, originalID)
}

func (p *PostgresStore) ListAwaiting(ctx context.Context, submittedBefore time.Time, limit int) ([]*Transaction, error) {
	return p.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = 'pending' AND submitted_at IS NOT NULL AND submitted_at < $1
		ORDER BY submitted_at ASC
		LIMIT $2`, submittedBefore, limit)
}

func (p *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	if cursor == nil {
		return p.query(ctx, `
			SELECT `+txColumns+` FROM transactions
			WHERE merchant_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, merchantID, limit)
	}
	return p.query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE merchant_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, merchantID, cursor.CreatedAt, cursor.ID, limit)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var (
		tx                            Transaction
		typ, method, status, currency string
		meta, tipJSON                 []byte
		submittedAt, processedAt      sql.NullTime
	)
	err := row.Scan(
		&tx.ID, &tx.IdempotencyKey, &typ, &method, &status, &tx.Amount, &currency,
		&tx.MerchantID, &tx.CustomerID, &tx.GatewayID, &tx.GatewayTransactionID,
		&tx.OriginalTransactionID, &tx.FailureReason, &meta, &tipJSON,
		&submittedAt, &processedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type, tx.Method, tx.Status, tx.Currency = Type(typ), Method(method), Status(status), currency
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("payment: decode metadata for %s: %w", tx.ID, err)
		}
		if len(tx.Metadata) == 0 {
			tx.Metadata = nil
		}
	}
	if len(tipJSON) > 0 {
		var c tip.Calculation
		if err := json.Unmarshal(tipJSON, &c); err != nil {
			return nil, fmt.Errorf("payment: decode tip for %s: %w", tx.ID, err)
		}
		tx.Tip = &c
	}
	if submittedAt.Valid {
		tx.SubmittedAt = &submittedAt.Time
	}
	if processedAt.Valid {
		tx.ProcessedAt = &processedAt.Time
	}
	return &tx, nil
}

// encodeJSONColumns renders the JSONB columns as strings; a nil tip is
// written as NULL.
func encodeJSONColumns(tx *Transaction) (meta string, tipJSON any, err error) {
	m := tx.Metadata
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("payment: encode metadata: %w", err)
	}
	if tx.Tip != nil {
		t, err := json.Marshal(tx.Tip)
		if err != nil {
			return "", nil, fmt.Errorf("payment: encode tip: %w", err)
		}
		tipJSON = string(t)
	}
	return string(b), tipJSON, nil
}
