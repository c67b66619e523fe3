package controller

import (
	"net/http"
	"strconv"

	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxListLimit = 100

// PayoutController handles payout-related HTTP requests.
type PayoutController struct {
	payoutService *service.PayoutService
}

func NewPayoutController(payoutService *service.PayoutService) *PayoutController {
	return &PayoutController{payoutService: payoutService}
}

// CreatePayout handles POST /api/v1/payouts. New payouts answer 202 since
// submission happens asynchronously; a replayed Idempotency-Key answers 200.
func (h *PayoutController) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	receiverType, err := masspay.ParseReceiverType(req.ReceiverType)
	if err != nil {
		writeError(w, err)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	resp, err := h.payoutService.CreatePayout(r.Context(), req.toService(idempotencyKey, receiverType))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if resp.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/v1/payouts/"+resp.Payout.ID.String())
	writeJSON(w, status, FromPayout(resp.Payout, true))
}

// PreviewPayout handles POST /api/v1/payouts/preview.
func (h *PayoutController) PreviewPayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	receiverType, err := masspay.ParseReceiverType(req.ReceiverType)
	if err != nil {
		writeError(w, err)
		return
	}

	preview, err := h.payoutService.PreviewPayout(req.toService("", receiverType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPreview(preview))
}

// GetPayout handles GET /api/v1/payouts/{id}
func (h *PayoutController) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePayoutID(w, r)
	if !ok {
		return
	}

	p, err := h.payoutService.GetPayout(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayout(p, true))
}

// ListPayouts handles GET /api/v1/payouts
func (h *PayoutController) ListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payout.ListFilter{
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if s := q.Get("status"); s != "" {
		status := payout.Status(s)
		filter.Status = &status
	}
	if s := q.Get("provider"); s != "" {
		prov := payout.Provider(s)
		filter.Provider = &prov
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	filter.Limit = min(filter.Limit, maxListLimit)
	filter.Offset = max(filter.Offset, 0)

	payouts, err := h.payoutService.ListPayouts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*PayoutResponse, 0, len(payouts))
	for _, p := range payouts {
		resp = append(resp, FromPayout(p, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelPayout handles POST /api/v1/payouts/{id}/cancel
func (h *PayoutController) CancelPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePayoutID(w, r)
	if !ok {
		return
	}

	p, err := h.payoutService.CancelPayout(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayout(p, false))
}

func parsePayoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payout id", Code: "invalid_id"})
		return uuid.Nil, false
	}
	return id, true
}
