package agent

import (
	"math/big"
	"time"
)

// HistoryEntry records one payment attempt that reached the verifier.
type HistoryEntry struct {
	Target    string    `json:"target"`
	InvoiceID string    `json:"invoiceId"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Proof     string    `json:"proof"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// SpendingStats is a snapshot of the budget state.
type SpendingStats struct {
	TotalSpent  *big.Int       `json:"totalSpent"`
	SpendCap    *big.Int       `json:"spendCap"`
	Remaining   *big.Int       `json:"remaining"`
	LastPayment time.Time      `json:"lastPayment"`
	Payments    int            `json:"payments"`
	Failures    map[string]int `json:"failures"`
}

// History returns a copy of every recorded payment attempt, oldest first.
func (a *Agent) History() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Agent) SpendingStats() SpendingStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	remaining := new(big.Int).Sub(a.policy.SpendCap, a.totalSpent)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	failures := make(map[string]int, len(a.failures))
	for k, v := range a.failures {
		failures[k] = v
	}

	payments := 0
	for _, h := range a.history {
		if h.Success {
			payments++
		}
	}

	return SpendingStats{
		TotalSpent:  new(big.Int).Set(a.totalSpent),
		SpendCap:    new(big.Int).Set(a.policy.SpendCap),
		Remaining:   remaining,
		LastPayment: a.lastPayment,
		Payments:    payments,
		Failures:    failures,
	}
}
