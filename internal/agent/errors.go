package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation means the server answered in a way the exchange
	// does not allow. Never retried.
	ErrProtocolViolation = errors.New("protocol violation")
	ErrBudgetDenied      = errors.New("payment denied by budget policy")
	ErrTransport         = errors.New("transport failure")
	ErrPaymentSubmission = errors.New("payment submission failed")
)

// Rejection reasons, in the order they are checked.
const (
	ReasonBudgetExceeded = "Budget exceeded"
	ReasonSingleLimit    = "Single payment exceeds limit"
	ReasonCooldown       = "Cooldown active"
	ReasonCircuitOpen    = "Circuit open for target"
)

type BudgetDeniedError struct {
	Target    string
	InvoiceID string
	Amount    string
	Reason    string
}

func (e *BudgetDeniedError) Error() string {
	return fmt.Sprintf("payment of %s for invoice %s denied: %s", e.Amount, e.InvoiceID, e.Reason)
}

func (e *BudgetDeniedError) Unwrap() error { return ErrBudgetDenied }

// TransportError is returned once the retry budget for a request is spent.
type TransportError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

type PaymentSubmissionError struct {
	InvoiceID string
	Err       error
}

func (e *PaymentSubmissionError) Error() string {
	return fmt.Sprintf("payment for invoice %s not accepted: %v", e.InvoiceID, e.Err)
}

func (e *PaymentSubmissionError) Unwrap() []error { return []error{ErrPaymentSubmission, e.Err} }

// StatusError is a terminal non-2xx answer other than 402 or 5xx.
type StatusError struct {
	Target     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Target, e.StatusCode, e.Body)
}
