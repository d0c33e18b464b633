package agent

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, "1000000000000000000", p.SpendCap.String())
	assert.Equal(t, "500000000000000000", p.MaxSinglePayment().String())
}

func TestMaxSinglePaymentIsExact(t *testing.T) {
	tests := []struct {
		fraction float64
		want     string
	}{
		{0.1, "100000000000000000"},
		{0.3, "300000000000000000"},
		{0.05, "50000000000000000"},
		{1, "1000000000000000000"},
	}

	for _, tt := range tests {
		p := DefaultPolicy()
		p.MaxSingleFraction = tt.fraction
		assert.Equal(t, tt.want, p.MaxSinglePayment().String(), "fraction %v", tt.fraction)
	}
}

func TestSingleLimitBoundary(t *testing.T) {
	for _, fraction := range []float64{0.1, 0.3} {
		p := DefaultPolicy()
		p.MaxSingleFraction = fraction
		a, err := New(p)
		require.NoError(t, err)

		limit := p.MaxSinglePayment()
		assert.Equal(t, "", a.checkLocked("t", limit), "fraction %v at limit", fraction)

		over := new(big.Int).Add(limit, big.NewInt(1))
		assert.Equal(t, ReasonSingleLimit, a.checkLocked("t", over), "fraction %v over limit", fraction)
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"nil cap", func(p *Policy) { p.SpendCap = nil }},
		{"negative cap", func(p *Policy) { p.SpendCap = big.NewInt(-1) }},
		{"zero fraction", func(p *Policy) { p.MaxSingleFraction = 0 }},
		{"fraction above one", func(p *Policy) { p.MaxSingleFraction = 1.5 }},
		{"negative cooldown", func(p *Policy) { p.Cooldown = -time.Second }},
		{"no retries", func(p *Policy) { p.MaxRetries = 0 }},
		{"no timeout", func(p *Policy) { p.RequestTimeout = 0 }},
		{"inverted backoff", func(p *Policy) { p.BackoffMax = p.BackoffBase / 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())

			_, err := New(p)
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
spend_cap: "2000000000000000000"
max_single_fraction: 0.25
cooldown: 30s
max_retries: 5
backoff_max: 1m
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, "2000000000000000000", p.SpendCap.String())
	assert.Equal(t, "500000000000000000", p.MaxSinglePayment().String())
	assert.Equal(t, 30*time.Second, p.Cooldown)
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, time.Minute, p.BackoffMax)
	// untouched keys keep defaults
	assert.Equal(t, DefaultPolicy().RequestTimeout, p.RequestTimeout)
	assert.Equal(t, DefaultPolicy().SettleDelay, p.SettleDelay)
}

func TestLoadPolicyErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad cap":      `spend_cap: "lots"`,
		"bad duration": `cooldown: soon`,
		"invalid":      `max_single_fraction: 2`,
		"not yaml":     `spend_cap: [`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadPolicy(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	base, limit := 500*time.Millisecond, 10*time.Second

	assert.Equal(t, 500*time.Millisecond, backoff(base, limit, 0))
	assert.Equal(t, time.Second, backoff(base, limit, 1))
	assert.Equal(t, 2*time.Second, backoff(base, limit, 2))
	assert.Equal(t, 8*time.Second, backoff(base, limit, 4))
	assert.Equal(t, limit, backoff(base, limit, 5))
	assert.Equal(t, limit, backoff(base, limit, 200))
	assert.Equal(t, time.Duration(0), backoff(0, limit, 3))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
