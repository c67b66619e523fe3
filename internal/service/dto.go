package service

import (
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/shopspring/decimal"
)

// CreatePayoutRequest is the service input for a new payout. The recipient
// slices are parallel: entry i of each describes recipient i.
//
// UniqueIDs and Notes with no entries are treated as absent, the same as
// omitting them in JSON. With entries they must match the receivers in
// length. They are sent to the provider only when at least one entry is
// non-empty, both in previews and in stored payouts.
// Controllers convert their HTTP DTOs to this type.
type CreatePayoutRequest struct {
	IdempotencyKey      string
	Provider            payout.Provider
	ReceiverType        masspay.ReceiverType
	Currency            string
	EmailSubject        string
	ReceiverIdentifiers []string
	Amounts             []decimal.Decimal
	UniqueIDs           []string
	Notes               []string
}

func (r CreatePayoutRequest) massPayOptions() masspay.Options {
	return masspay.Options{
		ReceiverIdentifiers: r.ReceiverIdentifiers,
		Amounts:             r.Amounts,
		UniqueIDs:           nilIfEmpty(r.UniqueIDs),
		Notes:               nilIfEmpty(r.Notes),
		ReceiverType:        r.ReceiverType,
		CurrencyCode:        r.Currency,
		EmailSubject:        r.EmailSubject,
	}
}

// nilIfEmpty treats an optional array without entries as absent.
func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

// recipients zips the parallel slices. Callers check arity first.
func (r CreatePayoutRequest) recipients() []payout.Recipient {
	out := make([]payout.Recipient, len(r.ReceiverIdentifiers))
	for i, id := range r.ReceiverIdentifiers {
		out[i] = payout.Recipient{Identifier: id, Amount: r.Amounts[i]}
		if len(r.UniqueIDs) > 0 {
			out[i].UniqueID = r.UniqueIDs[i]
		}
		if len(r.Notes) > 0 {
			out[i].Note = r.Notes[i]
		}
	}
	return out
}

type CreatePayoutResponse struct {
	Payout *payout.Payout
	// Replayed is true when the idempotency key matched an existing payout.
	Replayed bool
}

// Preview is the provider request a payout would produce, one entry per chunk.
type Preview struct {
	Recipients int
	Total      decimal.Decimal
	Requests   []masspay.Fields
}
