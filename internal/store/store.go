// Package store owns the two invoice tables (invoices and receipts) behind a
// single interface so the ledger never touches ambient state.
package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/paygate/internal/domain"
)

var (
	ErrNotFound  = errors.New("invoice not found")
	ErrDuplicate = errors.New("invoice already exists")
)

// Store is implemented by every backend. PutInvoice and SettleInvoice must be
// atomic per invoice id.
type Store interface {
	// GetInvoice returns ErrNotFound for unknown ids.
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)

	// PutInvoice inserts inv if no invoice with the same id exists,
	// otherwise it returns ErrDuplicate and leaves the stored one untouched.
	PutInvoice(ctx context.Context, inv *domain.Invoice) error

	// SettleInvoice swaps the status from pending to paid and writes the
	// receipt in the same step. It returns false with a nil error when the
	// invoice was already paid, and ErrNotFound for unknown ids.
	SettleInvoice(ctx context.Context, rcpt domain.Receipt) (bool, error)

	// GetReceipt returns ErrNotFound if the invoice has no receipt.
	GetReceipt(ctx context.Context, invoiceID string) (*domain.Receipt, error)

	Close()
}
