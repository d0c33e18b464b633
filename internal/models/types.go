package models

import "github.com/punchamoorthee/paygate/internal/domain"

// Challenge is the wire projection of an invoice sent with a 402 response.
// Clients must echo InvoiceID unchanged when retrying.
type Challenge struct {
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Nonce       string `json:"nonce"`
	Expiry      int64  `json:"expiry"` // unix seconds
	Endpoint    string `json:"endpoint"`
	InvoiceID   string `json:"invoiceId"`
	Description string `json:"description"`
}

// PaymentRequiredResponse is the 402 body.
type PaymentRequiredResponse struct {
	Error     string     `json:"error"`
	Message   string     `json:"message"`
	Challenge *Challenge `json:"challenge,omitempty"`
}

// ResourceResponse is the body served once an invoice is paid.
type ResourceResponse struct {
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	InvoiceID string      `json:"invoiceId"`
}

// VerifyRequest is the payload submitted to /verify.
type VerifyRequest struct {
	InvoiceID string `json:"invoiceId"`
	TxHash    string `json:"txHash"`
}

// VerifyResponse is returned by /verify when both fields were present.
type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// InvoiceView is returned by the invoice inspection endpoint.
type InvoiceView struct {
	Invoice *domain.Invoice `json:"invoice"`
	Receipt *domain.Receipt `json:"receipt,omitempty"`
}
