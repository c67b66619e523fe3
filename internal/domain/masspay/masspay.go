package masspay

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/shopspring/decimal"
)

const (
	// Method is the remote operation name sent in every request.
	Method = "MassPay"

	// DefaultCurrency is used when Options.CurrencyCode is empty.
	DefaultCurrency = "USD"

	// MaxRecipientsPerCall is the provider's limit on recipients in a single MassPay call.
	MaxRecipientsPerCall = 250
)

// Field names of the flat request.
const (
	FieldMethod       = "method"
	FieldReceiverType = "receivertype"
	FieldCurrencyCode = "currency_code"
	FieldEmailSubject = "email_subject"

	fieldAmount   = "l_amt"
	fieldUniqueID = "l_uniqueid"
	fieldNote     = "l_note"
)

// ReceiverType selects how recipients are identified.
type ReceiverType string

const (
	ReceiverUserID       ReceiverType = "UserID"
	ReceiverEmailAddress ReceiverType = "EmailAddress"
)

// identifierFields maps a receiver type to the prefix of its per-recipient identifier field.
var identifierFields = map[ReceiverType]string{
	ReceiverUserID:       "l_receiverid",
	ReceiverEmailAddress: "l_email",
}

// Valid reports whether t is a known receiver type.
func (t ReceiverType) Valid() bool {
	_, ok := identifierFields[t]
	return ok
}

// identifierField returns the identifier prefix for t. Anything other than
// UserID is sent as an email address.
func (t ReceiverType) identifierField() string {
	if t == ReceiverUserID {
		return identifierFields[ReceiverUserID]
	}
	return identifierFields[ReceiverEmailAddress]
}

// ParseReceiverType parses a receiver type name case-insensitively.
// An empty string yields the default, ReceiverEmailAddress.
func ParseReceiverType(s string) (ReceiverType, error) {
	switch {
	case s == "":
		return ReceiverEmailAddress, nil
	case strings.EqualFold(s, string(ReceiverUserID)):
		return ReceiverUserID, nil
	case strings.EqualFold(s, string(ReceiverEmailAddress)):
		return ReceiverEmailAddress, nil
	default:
		return "", fmt.Errorf("%q: %w", s, domainErrors.ErrInvalidReceiver)
	}
}

// Options holds the caller-supplied input for a MassPay request.
// UniqueIDs and Notes are optional: nil means absent, which is not the same as empty.
type Options struct {
	ReceiverIdentifiers []string
	Amounts             []decimal.Decimal
	ReceiverType        ReceiverType
	CurrencyCode        string
	EmailSubject        string
	UniqueIDs           []string
	Notes               []string
}

// Fields is the flat field-name/value mapping sent to the provider.
// Enumeration order carries no meaning.
type Fields map[string]string

// Values converts the mapping into form values for the transport.
func (f Fields) Values() url.Values {
	v := make(url.Values, len(f))
	for k, val := range f {
		v.Set(k, val)
	}
	return v
}

// ArityError reports parallel arrays whose length differs from the number of receivers.
type ArityError struct {
	Expected   int
	Mismatches []string
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("Arity mismatch: %d user identifiers, but ", e.Expected) +
		strings.Join(e.Mismatches, " and ")
}

func (e *ArityError) Unwrap() error {
	return domainErrors.ErrArityMismatch
}

// Request is a validated MassPay request. It is built once by New and has no setters;
// the input slices are copied so later changes by the caller do not leak in.
type Request struct {
	receiverIdentifiers []string
	amounts             []decimal.Decimal
	receiverType        ReceiverType
	currencyCode        string
	emailSubject        string
	uniqueIDs           []string
	notes               []string

	// n is the expected arity, fixed at construction.
	n int
}

// New builds a request from opts, applying defaults and checking arity.
// It returns an *ArityError when any parallel array disagrees in length with
// ReceiverIdentifiers.
func New(opts Options) (*Request, error) {
	if opts.ReceiverType == "" {
		opts.ReceiverType = ReceiverEmailAddress
	}
	if opts.CurrencyCode == "" {
		opts.CurrencyCode = DefaultCurrency
	}

	r := &Request{
		receiverIdentifiers: slices.Clone(opts.ReceiverIdentifiers),
		amounts:             slices.Clone(opts.Amounts),
		receiverType:        opts.ReceiverType,
		currencyCode:        opts.CurrencyCode,
		emailSubject:        opts.EmailSubject,
		uniqueIDs:           slices.Clone(opts.UniqueIDs),
		notes:               slices.Clone(opts.Notes),
		n:                   len(opts.ReceiverIdentifiers),
	}

	if err := r.CheckArity(); err != nil {
		return nil, err
	}
	return r, nil
}

// CheckArity verifies that amounts, and unique ids and notes when present,
// have one entry per receiver. Every mismatching array is reported.
func (r *Request) CheckArity() error {
	var mismatches []string
	if len(r.amounts) != r.n {
		mismatches = append(mismatches, fmt.Sprintf("amounts has %d values", len(r.amounts)))
	}
	if r.uniqueIDs != nil && len(r.uniqueIDs) != r.n {
		mismatches = append(mismatches, fmt.Sprintf("unique_ids has %d values", len(r.uniqueIDs)))
	}
	if r.notes != nil && len(r.notes) != r.n {
		mismatches = append(mismatches, fmt.Sprintf("notes has %d values", len(r.notes)))
	}

	if len(mismatches) > 0 {
		return &ArityError{Expected: r.n, Mismatches: mismatches}
	}
	return nil
}

// Serialize re-checks arity and returns the flat request fields.
func (r *Request) Serialize() (Fields, error) {
	if err := r.CheckArity(); err != nil {
		return nil, err
	}

	f := make(Fields, 4+r.n*4)
	f[FieldMethod] = Method
	f[FieldReceiverType] = string(r.receiverType)
	f[FieldCurrencyCode] = r.currencyCode
	f[FieldEmailSubject] = r.emailSubject

	idField := r.receiverType.identifierField()
	for i := 0; i < r.n; i++ {
		idx := strconv.Itoa(i)
		f[idField+idx] = r.receiverIdentifiers[i]
		f[fieldAmount+idx] = r.amounts[i].String()
		if r.uniqueIDs != nil {
			f[fieldUniqueID+idx] = r.uniqueIDs[i]
		}
		if r.notes != nil {
			f[fieldNote+idx] = r.notes[i]
		}
	}
	return f, nil
}

// Split breaks the request into requests of at most size recipients each, keeping
// the shared fields. A size outside (0, MaxRecipientsPerCall] is clamped to
// MaxRecipientsPerCall. A request without recipients yields itself.
func (r *Request) Split(size int) ([]*Request, error) {
	if err := r.CheckArity(); err != nil {
		return nil, err
	}
	if size <= 0 || size > MaxRecipientsPerCall {
		size = MaxRecipientsPerCall
	}
	if r.n <= size {
		return []*Request{r}, nil
	}

	parts := make([]*Request, 0, (r.n+size-1)/size)
	for start := 0; start < r.n; start += size {
		end := min(start+size, r.n)
		part, err := New(Options{
			ReceiverIdentifiers: r.receiverIdentifiers[start:end],
			Amounts:             r.amounts[start:end],
			ReceiverType:        r.receiverType,
			CurrencyCode:        r.currencyCode,
			EmailSubject:        r.emailSubject,
			UniqueIDs:           window(r.uniqueIDs, start, end),
			Notes:               window(r.notes, start, end),
		})
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func window(s []string, start, end int) []string {
	if s == nil {
		return nil
	}
	return s[start:end]
}

// Len returns the number of recipients.
func (r *Request) Len() int { return r.n }

func (r *Request) ReceiverType() ReceiverType { return r.receiverType }
func (r *Request) CurrencyCode() string       { return r.currencyCode }
func (r *Request) EmailSubject() string       { return r.emailSubject }

func (r *Request) ReceiverIdentifiers() []string { return slices.Clone(r.receiverIdentifiers) }
func (r *Request) Amounts() []decimal.Decimal    { return slices.Clone(r.amounts) }
func (r *Request) UniqueIDs() []string           { return slices.Clone(r.uniqueIDs) }
func (r *Request) Notes() []string               { return slices.Clone(r.notes) }

// Total returns the sum of all amounts.
func (r *Request) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.amounts {
		total = total.Add(a)
	}
	return total
}
