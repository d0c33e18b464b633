package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/paygate/internal/domain"
)

// PostgresSchema creates the invoice and receipt tables. Amounts are kept as
// decimal text; the ledger validates them before insert.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS invoices (
    id          TEXT PRIMARY KEY,
    endpoint    TEXT NOT NULL,
    amount      TEXT NOT NULL,
    token       TEXT NOT NULL,
    nonce       TEXT NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'paid')),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS receipts (
    invoice_id TEXT PRIMARY KEY REFERENCES invoices (id),
    proof      TEXT NOT NULL,
    settled_at TIMESTAMPTZ NOT NULL
);
`

const uniqueViolation = "23505"

type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// Migrate applies PostgresSchema. It is safe to run more than once.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	var status string
	err := s.Db.QueryRow(ctx,
		"SELECT id, endpoint, amount, token, nonce, expires_at, description, status, created_at FROM invoices WHERE id = $1",
		id,
	).Scan(&inv.ID, &inv.Endpoint, &inv.Amount, &inv.Token, &inv.Nonce, &inv.ExpiresAt, &inv.Description, &status, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invoice query failed: %w", err)
	}
	inv.Status = domain.Status(status)
	return &inv, nil
}

func (s *PostgresStore) PutInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO invoices (id, endpoint, amount, token, nonce, expires_at, description, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		inv.ID, inv.Endpoint, inv.Amount, inv.Token, inv.Nonce, inv.ExpiresAt, inv.Description, string(inv.Status), inv.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("invoice insert failed: %w", err)
	}
	return nil
}

// SettleInvoice flips the status and inserts the receipt in one statement, so
// two concurrent settlements serialise on the invoice row lock and only one
// of them sees a pending row.
func (s *PostgresStore) SettleInvoice(ctx context.Context, rcpt domain.Receipt) (bool, error) {
	tag, err := s.Db.Exec(ctx, `
		WITH settled AS (
			UPDATE invoices SET status = 'paid' WHERE id = $1 AND status = 'pending' RETURNING id
		)
		INSERT INTO receipts (invoice_id, proof, settled_at)
		SELECT id, $2, $3 FROM settled`,
		rcpt.InvoiceID, rcpt.Proof, rcpt.SettledAt,
	)
	if err != nil {
		return false, fmt.Errorf("settlement failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Nothing swapped: either unknown or already paid.
	var status string
	err = s.Db.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1", rcpt.InvoiceID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("status query failed: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, invoiceID string) (*domain.Receipt, error) {
	var rcpt domain.Receipt
	err := s.Db.QueryRow(ctx,
		"SELECT invoice_id, proof, settled_at FROM receipts WHERE invoice_id = $1",
		invoiceID,
	).Scan(&rcpt.InvoiceID, &rcpt.Proof, &rcpt.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("receipt query failed: %w", err)
	}
	return &rcpt, nil
}

// CountInvoices reports how many invoices and receipts exist.
func (s *PostgresStore) CountInvoices(ctx context.Context) (invoices, receipts int64, err error) {
	err = s.Db.QueryRow(ctx,
		"SELECT (SELECT COUNT(*) FROM invoices), (SELECT COUNT(*) FROM receipts)",
	).Scan(&invoices, &receipts)
	return invoices, receipts, err
}
