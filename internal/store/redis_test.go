package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/paygate/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()

	runStoreSuite(t, s)
}

func TestRedisStoreLive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	s, err := NewRedisStore(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer s.Close()

	runStoreSuite(t, s)
}

func TestRedisStoreKeys(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	inv := newPendingInvoice()
	require.NoError(t, s.PutInvoice(ctx, inv))
	require.Equal(t, "pending", mr.HGet("paygate:invoice:"+inv.ID, "status"))

	ok, err := s.SettleInvoice(ctx, domain.Receipt{InvoiceID: inv.ID, Proof: "0xproof", SettledAt: time.Now()})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "paid", mr.HGet("paygate:invoice:"+inv.ID, "status"))
	require.Equal(t, "0xproof", mr.HGet("paygate:receipt:"+inv.ID, "proof"))
}
