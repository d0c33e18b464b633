package domain

import "time"

// Status is the settlement state of an invoice. It only ever moves from
// pending to paid.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// Invoice is a server-issued payment obligation tied to one resource access.
type Invoice struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	Amount      string    `json:"amount"` // decimal, smallest currency unit
	Token       string    `json:"token"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expires_at"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Paid reports whether the invoice has been settled.
func (i *Invoice) Paid() bool {
	return i.Status == StatusPaid
}

// Receipt records the proof token accepted for a settled invoice.
// There is exactly one per paid invoice.
type Receipt struct {
	InvoiceID string    `json:"invoice_id"`
	Proof     string    `json:"proof"`
	SettledAt time.Time `json:"settled_at"`
}
