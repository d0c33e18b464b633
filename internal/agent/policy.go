package agent

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy bounds what an Agent is willing to pay.
type Policy struct {
	SpendCap          *big.Int      // total, smallest currency unit
	MaxSingleFraction float64       // of SpendCap, in (0, 1]
	Cooldown          time.Duration // minimum gap between payments
	MaxRetries        int           // transport retries and circuit threshold

	RequestTimeout time.Duration
	SettleDelay    time.Duration // simulated confirmation wait before verifying
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// oneUnit is 10^18 smallest units, one whole coin.
var oneUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func DefaultPolicy() Policy {
	return Policy{
		SpendCap:          new(big.Int).Set(oneUnit),
		MaxSingleFraction: 0.5,
		Cooldown:          5 * time.Second,
		MaxRetries:        3,
		RequestTimeout:    10 * time.Second,
		SettleDelay:       1500 * time.Millisecond,
		BackoffBase:       500 * time.Millisecond,
		BackoffMax:        10 * time.Second,
	}
}

// MaxSinglePayment is SpendCap scaled by MaxSingleFraction, rounded down.
// The fraction is taken as the shortest decimal that round-trips its float64,
// so 0.3 of the cap is exactly 3/10 of it.
func (p Policy) MaxSinglePayment() *big.Int {
	frac, ok := new(big.Rat).SetString(strconv.FormatFloat(p.MaxSingleFraction, 'g', -1, 64))
	if !ok {
		return new(big.Int)
	}
	r := new(big.Rat).SetInt(p.SpendCap)
	r.Mul(r, frac)
	return new(big.Int).Quo(r.Num(), r.Denom())
}

func (p Policy) Validate() error {
	if p.SpendCap == nil || p.SpendCap.Sign() < 0 {
		return fmt.Errorf("spend cap must be a non-negative integer")
	}
	if p.MaxSingleFraction <= 0 || p.MaxSingleFraction > 1 {
		return fmt.Errorf("max single fraction must be in (0, 1], got %v", p.MaxSingleFraction)
	}
	if p.Cooldown < 0 || p.SettleDelay < 0 {
		return fmt.Errorf("cooldown and settle delay must not be negative")
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if p.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if p.BackoffBase < 0 || p.BackoffMax < p.BackoffBase {
		return fmt.Errorf("backoff max must be at least backoff base")
	}
	return nil
}

// policyFile is the YAML form of Policy. Durations use time.ParseDuration
// syntax; the cap is a decimal string since it rarely fits in 64 bits.
type policyFile struct {
	SpendCap          string  `yaml:"spend_cap"`
	MaxSingleFraction float64 `yaml:"max_single_fraction"`
	Cooldown          string  `yaml:"cooldown"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestTimeout    string  `yaml:"request_timeout"`
	SettleDelay       string  `yaml:"settle_delay"`
	BackoffBase       string  `yaml:"backoff_base"`
	BackoffMax        string  `yaml:"backoff_max"`
}

// LoadPolicy reads a YAML policy file. Keys left out keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read policy file: %w", err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return p, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if f.SpendCap != "" {
		n, ok := new(big.Int).SetString(f.SpendCap, 10)
		if !ok {
			return p, fmt.Errorf("invalid spend_cap %q", f.SpendCap)
		}
		p.SpendCap = n
	}
	if f.MaxSingleFraction != 0 {
		p.MaxSingleFraction = f.MaxSingleFraction
	}
	if f.MaxRetries != 0 {
		p.MaxRetries = f.MaxRetries
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cooldown", f.Cooldown, &p.Cooldown},
		{"request_timeout", f.RequestTimeout, &p.RequestTimeout},
		{"settle_delay", f.SettleDelay, &p.SettleDelay},
		{"backoff_base", f.BackoffBase, &p.BackoffBase},
		{"backoff_max", f.BackoffMax, &p.BackoffMax},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return p, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}
