package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/paygate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingInvoice() *domain.Invoice {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Invoice{
		ID:          uuid.NewString(),
		Endpoint:    "/api/premium",
		Amount:      "100000000000000000",
		Token:       "0x0000000000000000000000000000000000000000",
		Nonce:       "5f2b6c1d9e8a7f60",
		ExpiresAt:   now.Add(time.Hour),
		Description: "Access to premium AI insights",
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}
}

// runStoreSuite checks the contract every backend has to honour.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("put then get", func(t *testing.T) {
		inv := newPendingInvoice()
		require.NoError(t, s.PutInvoice(ctx, inv))

		got, err := s.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, inv.ID, got.ID)
		assert.Equal(t, inv.Amount, got.Amount)
		assert.Equal(t, inv.Nonce, got.Nonce)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.True(t, inv.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("duplicate put keeps the original", func(t *testing.T) {
		inv := newPendingInvoice()
		require.NoError(t, s.PutInvoice(ctx, inv))

		clash := *inv
		clash.Amount = "1"
		assert.ErrorIs(t, s.PutInvoice(ctx, &clash), ErrDuplicate)

		got, err := s.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, inv.Amount, got.Amount)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		_, err := s.GetInvoice(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.SettleInvoice(ctx, domain.Receipt{InvoiceID: "missing-" + uuid.NewString(), Proof: "0xabc", SettledAt: time.Now()})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetReceipt(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("settle is one-way", func(t *testing.T) {
		inv := newPendingInvoice()
		require.NoError(t, s.PutInvoice(ctx, inv))

		first := domain.Receipt{InvoiceID: inv.ID, Proof: "0xfirst", SettledAt: time.Now().UTC().Truncate(time.Microsecond)}
		ok, err := s.SettleInvoice(ctx, first)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SettleInvoice(ctx, domain.Receipt{InvoiceID: inv.ID, Proof: "0xsecond", SettledAt: time.Now()})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetInvoice(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, got.Paid())

		rcpt, err := s.GetReceipt(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, "0xfirst", rcpt.Proof)
	})

	t.Run("pending invoice has no receipt", func(t *testing.T) {
		inv := newPendingInvoice()
		require.NoError(t, s.PutInvoice(ctx, inv))

		_, err := s.GetReceipt(ctx, inv.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent settle has one winner", func(t *testing.T) {
		inv := newPendingInvoice()
		require.NoError(t, s.PutInvoice(ctx, inv))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.SettleInvoice(ctx, domain.Receipt{InvoiceID: inv.ID, Proof: uuid.NewString(), SettledAt: time.Now()})
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	runStoreSuite(t, s)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	inv := newPendingInvoice()
	require.NoError(t, s.PutInvoice(ctx, inv))

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	got.Status = domain.StatusPaid

	again, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, again.Status)

	invoices, receipts := s.Len()
	assert.Equal(t, 1, invoices)
	assert.Equal(t, 0, receipts)
}
