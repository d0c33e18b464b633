// Package agent implements a client that pays HTTP 402 challenges on its own,
// within a spending policy.
//
// Each CallAPI is a loop over five states: requesting, payment required,
// paying, retrying and transport error. Payments are serialised per Agent so
// concurrent calls share one spend cap.
package agent

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/paygate/internal/challenge"
	"github.com/punchamoorthee/paygate/internal/models"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_agent_payments_total",
		Help: "Payment decisions taken by agents, labeled by outcome",
	}, []string{"outcome"})

	transportRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_agent_transport_retries_total",
		Help: "Requests re-issued after a transport failure",
	})

	agentSpend = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paygate_agent_spend",
		Help: "Total settled by the most recently paying agent, in the smallest unit",
	})
)

const maxBodyBytes = 1 << 20

type state int

const (
	stateRequesting state = iota
	statePaymentRequired
	statePaying
	stateRetrying
	stateTransportError
)

func (s state) String() string {
	switch s {
	case stateRequesting:
		return "requesting"
	case statePaymentRequired:
		return "payment_required"
	case statePaying:
		return "paying"
	case stateRetrying:
		return "retrying"
	case stateTransportError:
		return "transport_error"
	}
	return "unknown"
}

// Result is the outcome of a successful CallAPI.
type Result struct {
	StatusCode int
	Body       interface{} // decoded JSON, or the raw text if it was not JSON
	InvoiceID  string      // last invoice paid or presented, if any
	Payments   int         // payments made during this call
}

type Agent struct {
	policy    Policy
	client    *http.Client
	verifyURL string
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	totalSpent  *big.Int
	lastPayment time.Time
	failures    map[string]int
	history     []HistoryEntry
}

type Option func(*Agent)

// WithVerifyURL fixes the verification endpoint. By default it is /verify
// on the target's origin.
func WithVerifyURL(u string) Option {
	return func(a *Agent) { a.verifyURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

func New(policy Policy, opts ...Option) (*Agent, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy.SpendCap = new(big.Int).Set(policy.SpendCap)

	a := &Agent{
		policy:     policy,
		client:     &http.Client{},
		logger:     slog.Default(),
		now:        time.Now,
		totalSpent: new(big.Int),
		failures:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent")
	a.logger.Info("agent initialised", "spend_cap", policy.SpendCap.String(), "max_single", policy.MaxSinglePayment().String())
	return a, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// CallAPI fetches target, paying any challenge the policy allows, and
// returns the decoded body. invoiceID may be empty.
func (a *Agent) CallAPI(ctx context.Context, target, invoiceID string) (*Result, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}

	st := stateRequesting
	paid := make(map[string]bool)
	var (
		attempt, rounds, payments int
		resp                      *response
		ch                        models.Challenge
		lastErr                   error
	)

	for {
		a.logger.Debug("call state", "target", target, "state", st.String(), "attempt", attempt)
		switch st {
		case stateRequesting:
			resp, lastErr = a.fetch(ctx, target, invoiceID)
			switch {
			case lastErr != nil:
				st = stateTransportError
			case resp.status == http.StatusPaymentRequired:
				st = statePaymentRequired
			case resp.status >= 200 && resp.status < 300:
				a.logger.Debug("request succeeded", "target", target, "status", resp.status)
				return &Result{
					StatusCode: resp.status,
					Body:       decodeBody(resp.body),
					InvoiceID:  invoiceID,
					Payments:   payments,
				}, nil
			case resp.status >= 500:
				lastErr = fmt.Errorf("server returned %d", resp.status)
				st = stateTransportError
			default:
				return nil, &StatusError{Target: target, StatusCode: resp.status, Body: truncate(resp.body, 256)}
			}

		case statePaymentRequired:
			var err error
			ch, err = challenge.Decode(resp.header, resp.body)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
			}
			if paid[ch.InvoiceID] {
				return nil, fmt.Errorf("%w: invoice %s was paid but challenged again", ErrProtocolViolation, ch.InvoiceID)
			}
			if rounds > a.policy.MaxRetries {
				return nil, fmt.Errorf("%w: gave up after %d payment rounds", ErrProtocolViolation, rounds)
			}
			rounds++
			a.logger.Info("encountered paywall", "target", target, "invoice_id", ch.InvoiceID, "amount", ch.Amount, "description", ch.Description)
			st = statePaying

		case statePaying:
			if err := a.pay(ctx, target, ch); err != nil {
				return nil, err
			}
			paid[ch.InvoiceID] = true
			payments++
			st = stateRetrying

		case stateRetrying:
			invoiceID = ch.InvoiceID
			a.logger.Info("retrying with paid invoice", "target", target, "invoice_id", invoiceID)
			st = stateRequesting

		case stateTransportError:
			if ctx.Err() != nil {
				return nil, &TransportError{Target: target, Attempts: attempt + 1, Err: ctx.Err()}
			}
			if attempt >= a.policy.MaxRetries {
				return nil, &TransportError{Target: target, Attempts: attempt + 1, Err: lastErr}
			}
			wait := backoff(a.policy.BackoffBase, a.policy.BackoffMax, attempt)
			a.logger.Warn("request failed, backing off", "target", target, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := sleep(ctx, wait); err != nil {
				return nil, &TransportError{Target: target, Attempts: attempt + 1, Err: err}
			}
			attempt++
			transportRetries.Inc()
			st = stateRequesting
		}
	}
}

// fetch issues one GET with the per-attempt timeout.
func (a *Agent) fetch(ctx context.Context, target, invoiceID string) (*response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if invoiceID != "" {
		q := u.Query()
		q.Set("invoiceId", invoiceID)
		u.RawQuery = q.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.policy.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// pay runs the policy check and, if it passes, the payment itself. The whole
// check-pay-update sequence holds the mutex.
func (a *Agent) pay(ctx context.Context, target string, ch models.Challenge) error {
	amount, err := challenge.Amount(ch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if reason := a.checkLocked(target, amount); reason != "" {
		a.failures[target]++
		paymentsTotal.WithLabelValues("denied").Inc()
		a.logger.Warn("payment denied", "target", target, "invoice_id", ch.InvoiceID, "amount", ch.Amount, "reason", reason)
		return &BudgetDeniedError{Target: target, InvoiceID: ch.InvoiceID, Amount: ch.Amount, Reason: reason}
	}

	proof, err := newProof()
	if err != nil {
		return fmt.Errorf("generating proof: %w", err)
	}
	a.logger.Info("transaction broadcast", "invoice_id", ch.InvoiceID, "tx_hash", proof)

	if err := sleep(ctx, a.policy.SettleDelay); err != nil {
		return fmt.Errorf("payment for invoice %s aborted before submission: %w", ch.InvoiceID, err)
	}

	entry := HistoryEntry{
		Target:    target,
		InvoiceID: ch.InvoiceID,
		Amount:    ch.Amount,
		Proof:     proof,
	}

	// Once submitted, the verification is not abandoned on caller cancellation.
	submitErr := a.submit(context.WithoutCancel(ctx), target, ch.InvoiceID, proof)
	entry.Timestamp = a.now()
	if submitErr != nil {
		entry.Error = submitErr.Error()
		a.history = append(a.history, entry)
		a.failures[target]++
		paymentsTotal.WithLabelValues("failed").Inc()
		a.logger.Error("payment submission failed", "invoice_id", ch.InvoiceID, "error", submitErr)
		return &PaymentSubmissionError{InvoiceID: ch.InvoiceID, Err: submitErr}
	}

	entry.Success = true
	a.history = append(a.history, entry)
	a.totalSpent.Add(a.totalSpent, amount)
	a.lastPayment = entry.Timestamp
	a.failures[target] = 0
	paymentsTotal.WithLabelValues("paid").Inc()
	spent, _ := new(big.Float).SetInt(a.totalSpent).Float64()
	agentSpend.Set(spent)
	a.logger.Info("payment successful", "invoice_id", ch.InvoiceID, "total_spent", a.totalSpent.String())
	return nil
}

// checkLocked returns the first rule amount breaks, or "" if it may be paid.
func (a *Agent) checkLocked(target string, amount *big.Int) string {
	next := new(big.Int).Add(a.totalSpent, amount)
	switch {
	case next.Cmp(a.policy.SpendCap) > 0:
		return ReasonBudgetExceeded
	case amount.Cmp(a.policy.MaxSinglePayment()) > 0:
		return ReasonSingleLimit
	case !a.lastPayment.IsZero() && a.now().Sub(a.lastPayment) < a.policy.Cooldown:
		return ReasonCooldown
	case a.failures[target] >= a.policy.MaxRetries:
		return ReasonCircuitOpen
	}
	return ""
}

// submit posts the proof to the verification endpoint.
func (a *Agent) submit(ctx context.Context, target, invoiceID, proof string) error {
	verifyURL, err := a.verifyEndpoint(target)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(models.VerifyRequest{InvoiceID: invoiceID, TxHash: proof})
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.policy.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, verifyURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	var vr models.VerifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return fmt.Errorf("verifier returned %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if resp.StatusCode != http.StatusOK || !vr.Success {
		msg := vr.Message
		if msg == "" {
			msg = truncate(body, 256)
		}
		return fmt.Errorf("verifier returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func (a *Agent) verifyEndpoint(target string) (string, error) {
	if a.verifyURL != "" {
		return a.verifyURL, nil
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("cannot derive verify url from %q", target)
	}
	return u.Scheme + "://" + u.Host + "/verify", nil
}

// newProof simulates a transaction hash.
func newProof() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

func decodeBody(body []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
