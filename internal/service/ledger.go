package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/paygate/internal/domain"
	"github.com/punchamoorthee/paygate/internal/models"
	"github.com/punchamoorthee/paygate/internal/store"
)

var (
	ErrInvalidAmount  = errors.New("amount must be a non-negative decimal integer")
	ErrUnknownInvoice = errors.New("unknown invoice")
)

// NativeToken is the zero address, meaning the chain's native coin.
const NativeToken = "0x0000000000000000000000000000000000000000"

const DefaultInvoiceTTL = time.Hour

var (
	invoicesMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_invoices_minted_total",
		Help: "Invoices issued, labeled by protected endpoint",
	}, []string{"endpoint"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_settlements_total",
		Help: "Settlement attempts, labeled by outcome",
	}, []string{"outcome"})
)

// Ledger issues invoices and records their settlement. All state lives in the
// injected store.
type Ledger struct {
	store  store.Store
	token  string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewLedger(s store.Store, token string, ttl time.Duration) *Ledger {
	if token == "" {
		token = NativeToken
	}
	if ttl <= 0 {
		ttl = DefaultInvoiceTTL
	}
	return &Ledger{
		store:  s,
		token:  token,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "ledger"),
	}
}

// ParseAmount validates a decimal amount in the smallest currency unit.
func ParseAmount(amount string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return n, nil
}

func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// CreateInvoice mints a pending invoice for endpoint and returns its challenge.
// Every call produces a distinct invoice.
func (l *Ledger) CreateInvoice(ctx context.Context, endpoint, amount, description string) (models.Challenge, error) {
	n, err := ParseAmount(amount)
	if err != nil {
		return models.Challenge{}, err
	}

	nonce, err := newNonce()
	if err != nil {
		return models.Challenge{}, fmt.Errorf("nonce generation failed: %w", err)
	}

	now := l.now().UTC()
	inv := &domain.Invoice{
		Endpoint:    endpoint,
		Amount:      n.String(),
		Token:       l.token,
		Nonce:       nonce,
		ExpiresAt:   now.Add(l.ttl).Truncate(time.Second),
		Description: description,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}

	// retry once on an id collision
	for attempt := 0; attempt < 2; attempt++ {
		inv.ID = uuid.NewString()
		err = l.store.PutInvoice(ctx, inv)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return models.Challenge{}, fmt.Errorf("invoice insert failed: %w", err)
	}

	invoicesMinted.WithLabelValues(endpoint).Inc()
	l.logger.Debug("invoice created", "invoice_id", inv.ID, "endpoint", endpoint, "amount", inv.Amount)
	return ToChallenge(inv), nil
}

// ToChallenge projects an invoice onto its wire form.
func ToChallenge(inv *domain.Invoice) models.Challenge {
	return models.Challenge{
		Amount:      inv.Amount,
		Token:       inv.Token,
		Nonce:       inv.Nonce,
		Expiry:      inv.ExpiresAt.Unix(),
		Endpoint:    inv.Endpoint,
		InvoiceID:   inv.ID,
		Description: inv.Description,
	}
}

// Settle marks the invoice paid and records proof as its receipt. Settling a
// paid invoice again reports true and keeps the first receipt. Unknown ids
// report false. The proof is not checked.
func (l *Ledger) Settle(ctx context.Context, invoiceID, proof string) (bool, error) {
	swapped, err := l.store.SettleInvoice(ctx, domain.Receipt{
		InvoiceID: invoiceID,
		Proof:     proof,
		SettledAt: l.now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		settlementsTotal.WithLabelValues("unknown").Inc()
		l.logger.Info("settlement for unknown invoice", "invoice_id", invoiceID)
		return false, nil
	case err != nil:
		settlementsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("settle %s: %w", invoiceID, err)
	case !swapped:
		settlementsTotal.WithLabelValues("already_paid").Inc()
		return true, nil
	}

	settlementsTotal.WithLabelValues("settled").Inc()
	l.logger.Info("invoice settled", "invoice_id", invoiceID)
	return true, nil
}

// IsPaid is false for unknown and pending invoices. Store failures are logged
// and read as unpaid.
func (l *Ledger) IsPaid(ctx context.Context, invoiceID string) bool {
	return l.IsPaidFor(ctx, invoiceID, "")
}

// IsPaidFor is IsPaid restricted to invoices issued for endpoint. An empty
// endpoint matches any.
func (l *Ledger) IsPaidFor(ctx context.Context, invoiceID, endpoint string) bool {
	if invoiceID == "" {
		return false
	}
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Error("invoice lookup failed", "invoice_id", invoiceID, "error", err)
		}
		return false
	}
	if endpoint != "" && inv.Endpoint != endpoint {
		return false
	}
	return inv.Paid()
}

// Lookup returns the invoice and, once paid, its receipt.
func (l *Ledger) Lookup(ctx context.Context, invoiceID string) (*domain.Invoice, *domain.Receipt, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnknownInvoice
		}
		return nil, nil, err
	}
	if !inv.Paid() {
		return inv, nil, nil
	}

	rcpt, err := l.Receipt(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	return inv, rcpt, nil
}

func (l *Ledger) Receipt(ctx context.Context, invoiceID string) (*domain.Receipt, error) {
	rcpt, err := l.store.GetReceipt(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownInvoice
		}
		return nil, fmt.Errorf("receipt query failed: %w", err)
	}
	return rcpt, nil
}
