package store

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/paygate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// putInvoiceScript writes the invoice hash only if the key is absent.
// KEYS[1] = invoice key
// ARGV    = field/value pairs
var putInvoiceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// settleScript swaps pending -> paid and writes the receipt atomically.
// KEYS[1] = invoice key, KEYS[2] = receipt key
// ARGV[1] = proof, ARGV[2] = settled_at (RFC 3339)
// Returns -1 unknown, 0 already paid, 1 settled.
var settleScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
    return -1
end
if status == "paid" then
    return 0
end
redis.call("HSET", KEYS[1], "status", "paid")
redis.call("HSET", KEYS[2], "proof", ARGV[1], "settled_at", ARGV[2])
return 1
`)

// RedisStore keeps invoices as hashes under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return &RedisStore{client: rdb, prefix: "paygate"}, nil
}

func (s *RedisStore) invoiceKey(id string) string {
	return fmt.Sprintf("%s:invoice:%s", s.prefix, id)
}

func (s *RedisStore) receiptKey(id string) string {
	return fmt.Sprintf("%s:receipt:%s", s.prefix, id)
}

func (s *RedisStore) Close() {
	_ = s.client.Close()
}

func (s *RedisStore) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	fields, err := s.client.HGetAll(ctx, s.invoiceKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis invoice read failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	inv := &domain.Invoice{
		ID:          fields["id"],
		Endpoint:    fields["endpoint"],
		Amount:      fields["amount"],
		Token:       fields["token"],
		Nonce:       fields["nonce"],
		Description: fields["description"],
		Status:      domain.Status(fields["status"]),
	}
	if inv.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("corrupt expires_at for invoice %s: %w", id, err)
	}
	if inv.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("corrupt created_at for invoice %s: %w", id, err)
	}
	return inv, nil
}

func (s *RedisStore) PutInvoice(ctx context.Context, inv *domain.Invoice) error {
	args := []interface{}{
		"id", inv.ID,
		"endpoint", inv.Endpoint,
		"amount", inv.Amount,
		"token", inv.Token,
		"nonce", inv.Nonce,
		"expires_at", inv.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"description", inv.Description,
		"status", string(inv.Status),
		"created_at", inv.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	created, err := putInvoiceScript.Run(ctx, s.client, []string{s.invoiceKey(inv.ID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis invoice write failed: %w", err)
	}
	if created == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *RedisStore) SettleInvoice(ctx context.Context, rcpt domain.Receipt) (bool, error) {
	res, err := settleScript.Run(ctx, s.client,
		[]string{s.invoiceKey(rcpt.InvoiceID), s.receiptKey(rcpt.InvoiceID)},
		rcpt.Proof, rcpt.SettledAt.UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis settlement failed: %w", err)
	}

	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

func (s *RedisStore) GetReceipt(ctx context.Context, invoiceID string) (*domain.Receipt, error) {
	fields, err := s.client.HGetAll(ctx, s.receiptKey(invoiceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis receipt read failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	settledAt, err := time.Parse(time.RFC3339Nano, fields["settled_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt settled_at for receipt %s: %w", invoiceID, err)
	}
	return &domain.Receipt{
		InvoiceID: invoiceID,
		Proof:     fields["proof"],
		SettledAt: settledAt,
	}, nil
}
