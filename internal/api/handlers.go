package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/paygate/internal/challenge"
	"github.com/punchamoorthee/paygate/internal/config"
	"github.com/punchamoorthee/paygate/internal/models"
	"github.com/punchamoorthee/paygate/internal/service"
)

const maxVerifyBody = 1 << 16

type Handler struct {
	ledger *service.Ledger
	logger *slog.Logger
}

func NewHandler(l *service.Ledger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: l, logger: logger.With("component", "api")}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Resource serves res to callers holding a paid invoice and answers everyone
// else with a freshly minted 402 challenge.
func (h *Handler) Resource(res config.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := r.URL.Query().Get("invoiceId")
		if h.ledger.IsPaidFor(r.Context(), invoiceID, res.Path) {
			respondWithJSON(w, http.StatusOK, models.ResourceResponse{
				Data:      res.Data,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				InvoiceID: invoiceID,
			})
			return
		}

		ch, err := h.ledger.CreateInvoice(r.Context(), res.Path, res.Amount, res.Description)
		if err != nil {
			h.logger.Error("invoice creation failed", "endpoint", res.Path, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		if err := challenge.Write(w, ch); err != nil {
			h.logger.Warn("challenge write failed", "invoice_id", ch.InvoiceID, "error", err)
		}
	}
}

func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	// 1. Read and decode
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxVerifyBody))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Stream read error")
		return
	}

	var req models.VerifyRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	// 2. Validate
	if req.InvoiceID == "" || req.TxHash == "" {
		respondWithError(w, http.StatusBadRequest, "Missing invoiceId or txHash")
		return
	}

	// 3. Settle
	ok, err := h.ledger.Settle(r.Context(), req.InvoiceID, req.TxHash)
	if err != nil {
		h.logger.Error("settlement failed", "invoice_id", req.InvoiceID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !ok {
		respondWithJSON(w, http.StatusBadRequest, models.VerifyResponse{Success: false, Message: "Payment verification failed"})
		return
	}

	respondWithJSON(w, http.StatusOK, models.VerifyResponse{Success: true, Message: "Payment verified"})
}

func (h *Handler) GetInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inv, rcpt, err := h.ledger.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrUnknownInvoice) {
			respondWithError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		h.logger.Error("invoice lookup failed", "invoice_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	respondWithJSON(w, http.StatusOK, models.InvoiceView{Invoice: inv, Receipt: rcpt})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
