package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies. A 250-recipient chunk with notes fits
// comfortably; larger batches are split server side.
const maxBodyBytes = 8 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrArityMismatch, http.StatusUnprocessableEntity, "arity_mismatch"},
	{domainErrors.ErrPayoutNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrNoRecipients, http.StatusBadRequest, "no_recipients"},
	{domainErrors.ErrTooManyRecipients, http.StatusBadRequest, "too_many_recipients"},
	{domainErrors.ErrInvalidReceiver, http.StatusBadRequest, "invalid_receiver_type"},
	{domainErrors.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domainErrors.ErrInvalidCurrency, http.StatusBadRequest, "invalid_currency"},
	{domainErrors.ErrProviderNotFound, http.StatusBadRequest, "unknown_provider"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrMaxRetriesExceeded, http.StatusConflict, "max_retries_exceeded"},
	{domainErrors.ErrOptimisticLockFailed, http.StatusConflict, "conflict"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		resp.Field = validationErr.Field
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.err == domainErrors.ErrOptimisticLockFailed {
				resp.Error = "payout is being processed, please retry"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
