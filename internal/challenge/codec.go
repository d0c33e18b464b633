// Package challenge converts invoices to and from HTTP 402 responses. The
// challenge travels twice: as the JSON body and mirrored in X-Payment-*
// headers, so clients that only see one of them can still pay.
package challenge

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/punchamoorthee/paygate/internal/models"
)

const (
	HeaderRequired    = "X-Payment-Required"
	HeaderAmount      = "X-Payment-Amount"
	HeaderToken       = "X-Payment-Token"
	HeaderNonce       = "X-Payment-Nonce"
	HeaderExpiry      = "X-Payment-Expiry"
	HeaderEndpoint    = "X-Payment-Endpoint"
	HeaderInvoiceID   = "X-Payment-Invoice-Id"
	HeaderDescription = "X-Payment-Description"
)

// ExposedHeaders lists the headers browsers need to be allowed to read.
var ExposedHeaders = []string{
	HeaderRequired, HeaderAmount, HeaderToken, HeaderNonce,
	HeaderExpiry, HeaderEndpoint, HeaderInvoiceID, HeaderDescription,
}

var ErrMalformed = errors.New("malformed payment challenge")

// Encode builds the 402 body for ch.
func Encode(ch models.Challenge) models.PaymentRequiredResponse {
	return models.PaymentRequiredResponse{
		Error:     "Payment Required",
		Message:   ch.Description,
		Challenge: &ch,
	}
}

// Headers mirrors every challenge field in an X-Payment-* header.
func Headers(ch models.Challenge) http.Header {
	h := make(http.Header)
	h.Set(HeaderRequired, "true")
	h.Set(HeaderAmount, ch.Amount)
	h.Set(HeaderToken, ch.Token)
	h.Set(HeaderNonce, ch.Nonce)
	h.Set(HeaderExpiry, strconv.FormatInt(ch.Expiry, 10))
	h.Set(HeaderEndpoint, ch.Endpoint)
	h.Set(HeaderInvoiceID, ch.InvoiceID)
	h.Set(HeaderDescription, ch.Description)
	return h
}

// Write sends a complete 402 response for ch.
func Write(w http.ResponseWriter, ch models.Challenge) error {
	for k, v := range Headers(ch) {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusPaymentRequired)
	return json.NewEncoder(w).Encode(Encode(ch))
}

// Decode reads a challenge from a 402 response. The body wins; any field it
// lacks is taken from the headers, and either source may be absent.
func Decode(header http.Header, body []byte) (models.Challenge, error) {
	var ch models.Challenge

	if len(body) > 0 {
		var resp models.PaymentRequiredResponse
		if err := json.Unmarshal(body, &resp); err == nil && resp.Challenge != nil {
			ch = *resp.Challenge
		}
	}

	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = header.Get(key)
		}
	}
	fill(&ch.Amount, HeaderAmount)
	fill(&ch.Token, HeaderToken)
	fill(&ch.Nonce, HeaderNonce)
	fill(&ch.Endpoint, HeaderEndpoint)
	fill(&ch.InvoiceID, HeaderInvoiceID)
	fill(&ch.Description, HeaderDescription)

	if ch.Expiry == 0 {
		if raw := header.Get(HeaderExpiry); raw != "" {
			exp, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return models.Challenge{}, fmt.Errorf("%w: bad expiry %q", ErrMalformed, raw)
			}
			ch.Expiry = exp
		}
	}

	if ch.InvoiceID == "" {
		return models.Challenge{}, fmt.Errorf("%w: missing invoice id", ErrMalformed)
	}
	if _, err := Amount(ch); err != nil {
		return models.Challenge{}, err
	}
	return ch, nil
}

// Amount parses the challenge amount as a non-negative integer.
func Amount(ch models.Challenge) (*big.Int, error) {
	n, ok := new(big.Int).SetString(ch.Amount, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformed, ch.Amount)
	}
	return n, nil
}
