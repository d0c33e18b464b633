package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/paygate/internal/domain"
	"github.com/punchamoorthee/paygate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const premiumPrice = "100000000000000000"

func newTestLedger() (*Ledger, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return NewLedger(s, "", time.Hour), s
}

func TestCreateInvoice(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ch, err := l.CreateInvoice(ctx, "/api/premium", premiumPrice, "desc")
	require.NoError(t, err)

	assert.Equal(t, premiumPrice, ch.Amount)
	assert.Equal(t, NativeToken, ch.Token)
	assert.Equal(t, "/api/premium", ch.Endpoint)
	assert.Equal(t, "desc", ch.Description)
	assert.Len(t, ch.Nonce, 32)
	assert.NotEmpty(t, ch.InvoiceID)
	assert.Equal(t, fixed.Add(time.Hour).Unix(), ch.Expiry)
	assert.False(t, l.IsPaid(ctx, ch.InvoiceID))
}

func TestCreateInvoiceMintsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ch, err := l.CreateInvoice(ctx, "/api/premium", premiumPrice, "desc")
		require.NoError(t, err)
		require.False(t, seen[ch.InvoiceID], "duplicate id %s", ch.InvoiceID)
		seen[ch.InvoiceID] = true
	}

	invoices, receipts := s.Len()
	assert.Equal(t, 50, invoices)
	assert.Equal(t, 0, receipts)
}

func TestCreateInvoiceRejectsBadAmounts(t *testing.T) {
	l, _ := newTestLedger()

	for _, amount := range []string{"", "-1", "1.5", "0x10", "ten"} {
		_, err := l.CreateInvoice(context.Background(), "/api/premium", amount, "desc")
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %q", amount)
	}
}

func TestCreateInvoiceCanonicalisesAmount(t *testing.T) {
	l, _ := newTestLedger()

	ch, err := l.CreateInvoice(context.Background(), "/api/premium", "007", "desc")
	require.NoError(t, err)
	assert.Equal(t, "7", ch.Amount)
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	ch, err := l.CreateInvoice(ctx, "/api/premium", premiumPrice, "desc")
	require.NoError(t, err)

	ok, err := l.Settle(ctx, ch.InvoiceID, "0xfirst")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.IsPaid(ctx, ch.InvoiceID))

	// second settle is idempotent and keeps the first receipt
	ok, err = l.Settle(ctx, ch.InvoiceID, "0xsecond")
	require.NoError(t, err)
	assert.True(t, ok)

	rcpt, err := l.Receipt(ctx, ch.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, "0xfirst", rcpt.Proof)
}

func TestIsPaidForEndpoint(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	ch, err := l.CreateInvoice(ctx, "/api/report", "250", "report")
	require.NoError(t, err)
	_, err = l.Settle(ctx, ch.InvoiceID, "0xproof")
	require.NoError(t, err)

	assert.True(t, l.IsPaidFor(ctx, ch.InvoiceID, "/api/report"))
	assert.False(t, l.IsPaidFor(ctx, ch.InvoiceID, "/api/premium"))
	assert.True(t, l.IsPaid(ctx, ch.InvoiceID))
	assert.False(t, l.IsPaid(ctx, ""))
}

func TestSettleUnknownInvoice(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger()

	ok, err := l.Settle(ctx, "doesnotexist", "0xabc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, l.IsPaid(ctx, "doesnotexist"))

	_, receipts := s.Len()
	assert.Equal(t, 0, receipts)
}

func TestConcurrentSettleWritesOneReceipt(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger()

	ch, err := l.CreateInvoice(ctx, "/api/premium", premiumPrice, "desc")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Settle(ctx, ch.InvoiceID, "0xproof")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	_, receipts := s.Len()
	assert.Equal(t, 1, receipts)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	_, _, err := l.Lookup(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownInvoice)

	ch, err := l.CreateInvoice(ctx, "/api/premium", premiumPrice, "desc")
	require.NoError(t, err)

	inv, rcpt, err := l.Lookup(ctx, ch.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, inv.Status)
	assert.Nil(t, rcpt)

	_, err = l.Settle(ctx, ch.InvoiceID, "0xproof")
	require.NoError(t, err)

	inv, rcpt, err = l.Lookup(ctx, ch.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, inv.Status)
	require.NotNil(t, rcpt)
	assert.Equal(t, "0xproof", rcpt.Proof)
}

// brokenStore fails every call, to check the ledger fails closed.
type brokenStore struct{ store.MemoryStore }

var errBroken = errors.New("connection refused")

func (*brokenStore) GetInvoice(context.Context, string) (*domain.Invoice, error) {
	return nil, errBroken
}

func (*brokenStore) PutInvoice(context.Context, *domain.Invoice) error { return errBroken }

func (*brokenStore) SettleInvoice(context.Context, domain.Receipt) (bool, error) {
	return false, errBroken
}

func TestLedgerStoreFailures(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(&brokenStore{}, "", 0)

	_, err := l.CreateInvoice(ctx, "/api/premium", premiumPrice, "desc")
	assert.ErrorIs(t, err, errBroken)

	ok, err := l.Settle(ctx, "any", "0xabc")
	assert.ErrorIs(t, err, errBroken)
	assert.False(t, ok)

	assert.False(t, l.IsPaid(ctx, "any"))
}
