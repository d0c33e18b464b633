package store

import (
	"context"
	"sync"

	"github.com/punchamoorthee/paygate/internal/domain"
)

// MemoryStore keeps invoices for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*domain.Invoice
	receipts map[string]*domain.Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*domain.Invoice),
		receipts: make(map[string]*domain.Receipt),
	}
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	// copy so callers can't mutate shared state outside the lock
	val := *inv
	return &val, nil
}

func (s *MemoryStore) PutInvoice(ctx context.Context, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return ErrDuplicate
	}
	val := *inv
	s.invoices[inv.ID] = &val
	return nil
}

func (s *MemoryStore) SettleInvoice(ctx context.Context, rcpt domain.Receipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[rcpt.InvoiceID]
	if !ok {
		return false, ErrNotFound
	}
	if inv.Status == domain.StatusPaid {
		return false, nil
	}
	inv.Status = domain.StatusPaid
	s.receipts[rcpt.InvoiceID] = &rcpt
	return true, nil
}

func (s *MemoryStore) GetReceipt(ctx context.Context, invoiceID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rcpt, ok := s.receipts[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	val := *rcpt
	return &val, nil
}

// Len returns the number of stored invoices and receipts.
func (s *MemoryStore) Len() (invoices, receipts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices), len(s.receipts)
}

func (s *MemoryStore) Close() {}
