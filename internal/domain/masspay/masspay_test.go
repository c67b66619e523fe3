package masspay_test

import (
	"fmt"
	"testing"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amounts(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a@x.com"},
		Amounts:             amounts(10),
	})
	require.NoError(t, err)

	assert.Equal(t, masspay.ReceiverEmailAddress, r.ReceiverType())
	assert.Equal(t, "USD", r.CurrencyCode())
	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.UniqueIDs())
	assert.Nil(t, r.Notes())
}

func TestSerialize_EmailReceivers(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a@x.com", "b@x.com"},
		Amounts:             amounts(10, 20),
		EmailSubject:        "You got paid",
	})
	require.NoError(t, err)

	fields, err := r.Serialize()
	require.NoError(t, err)

	assert.Equal(t, masspay.Fields{
		"method":        "MassPay",
		"receivertype":  "EmailAddress",
		"currency_code": "USD",
		"email_subject": "You got paid",
		"l_email0":      "a@x.com",
		"l_amt0":        "10",
		"l_email1":      "b@x.com",
		"l_amt1":        "20",
	}, fields)
}

func TestSerialize_UserIDReceivers(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"USER1", "USER2"},
		Amounts:             amounts(10, 20),
		ReceiverType:        masspay.ReceiverUserID,
		EmailSubject:        "You got paid",
	})
	require.NoError(t, err)

	fields, err := r.Serialize()
	require.NoError(t, err)

	assert.Equal(t, "UserID", fields["receivertype"])
	assert.Equal(t, "USER1", fields["l_receiverid0"])
	assert.Equal(t, "USER2", fields["l_receiverid1"])
	assert.NotContains(t, fields, "l_email0")
	assert.NotContains(t, fields, "l_email1")
}

func TestSerialize_OptionalArrays(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a@x.com", "b@x.com"},
		Amounts:             []decimal.Decimal{decimal.RequireFromString("10.25"), decimal.RequireFromString("0.5")},
		CurrencyCode:        "EUR",
		UniqueIDs:           []string{"u-1", "u-2"},
		Notes:               []string{"thanks", ""},
	})
	require.NoError(t, err)

	fields, err := r.Serialize()
	require.NoError(t, err)

	assert.Equal(t, "EUR", fields["currency_code"])
	assert.Equal(t, "10.25", fields["l_amt0"])
	assert.Equal(t, "0.5", fields["l_amt1"])
	assert.Equal(t, "u-1", fields["l_uniqueid0"])
	assert.Equal(t, "u-2", fields["l_uniqueid1"])
	assert.Equal(t, "thanks", fields["l_note0"])
	assert.Equal(t, "", fields["l_note1"])
	assert.Contains(t, fields, "l_note1")
	assert.Len(t, fields, 4+2*4)
}

func TestSerialize_NoRecipients(t *testing.T) {
	r, err := masspay.New(masspay.Options{EmailSubject: "nothing"})
	require.NoError(t, err)

	fields, err := r.Serialize()
	require.NoError(t, err)

	assert.Equal(t, masspay.Fields{
		"method":        "MassPay",
		"receivertype":  "EmailAddress",
		"currency_code": "USD",
		"email_subject": "nothing",
	}, fields)
}

func TestSerialize_EmptySubjectStillPresent(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a@x.com"},
		Amounts:             amounts(1),
	})
	require.NoError(t, err)

	fields, err := r.Serialize()
	require.NoError(t, err)
	assert.Contains(t, fields, "email_subject")
	assert.Equal(t, "", fields["email_subject"])
}

func TestSerialize_Idempotent(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a@x.com", "b@x.com", "c@x.com"},
		Amounts:             amounts(1, 2, 3),
		Notes:               []string{"n1", "n2", "n3"},
	})
	require.NoError(t, err)

	first, err := r.Serialize()
	require.NoError(t, err)
	second, err := r.Serialize()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNew_ArityMismatch(t *testing.T) {
	tests := []struct {
		name     string
		opts     masspay.Options
		expected string
	}{
		{
			name: "amounts too long",
			opts: masspay.Options{
				ReceiverIdentifiers: []string{"a@x.com", "b@x.com"},
				Amounts:             amounts(1, 2, 3),
			},
			expected: "Arity mismatch: 2 user identifiers, but amounts has 3 values",
		},
		{
			name: "amounts and notes",
			opts: masspay.Options{
				ReceiverIdentifiers: []string{"a@x.com", "b@x.com"},
				Amounts:             amounts(1, 2, 3),
				Notes:               []string{"only one"},
			},
			expected: "Arity mismatch: 2 user identifiers, but amounts has 3 values and notes has 1 values",
		},
		{
			name: "unique ids only",
			opts: masspay.Options{
				ReceiverIdentifiers: []string{"a@x.com"},
				Amounts:             amounts(1),
				UniqueIDs:           []string{},
			},
			expected: "Arity mismatch: 1 user identifiers, but unique_ids has 0 values",
		},
		{
			name: "every array wrong",
			opts: masspay.Options{
				ReceiverIdentifiers: []string{"a@x.com"},
				Amounts:             nil,
				UniqueIDs:           []string{"u1", "u2"},
				Notes:               []string{"n1", "n2", "n3"},
			},
			expected: "Arity mismatch: 1 user identifiers, but amounts has 0 values and unique_ids has 2 values and notes has 3 values",
		},
		{
			name: "no receivers but amounts",
			opts: masspay.Options{
				Amounts: amounts(5),
			},
			expected: "Arity mismatch: 0 user identifiers, but amounts has 1 values",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := masspay.New(tt.opts)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.Equal(t, tt.expected, err.Error())
			assert.ErrorIs(t, err, domainErrors.ErrArityMismatch)

			var arityErr *masspay.ArityError
			require.ErrorAs(t, err, &arityErr)
			assert.Equal(t, len(tt.opts.ReceiverIdentifiers), arityErr.Expected)
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	ids := []string{"a@x.com", "b@x.com"}
	amts := amounts(10, 20)

	r, err := masspay.New(masspay.Options{ReceiverIdentifiers: ids, Amounts: amts})
	require.NoError(t, err)

	ids[0] = "mallory@x.com"
	amts[1] = decimal.NewFromInt(9999)

	fields, err := r.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", fields["l_email0"])
	assert.Equal(t, "20", fields["l_amt1"])
}

func TestAccessors_ReturnCopies(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a@x.com"},
		Amounts:             amounts(10),
		Notes:               []string{"note"},
	})
	require.NoError(t, err)

	got := r.ReceiverIdentifiers()
	got[0] = "changed"
	notes := r.Notes()
	notes[0] = "changed"

	assert.Equal(t, []string{"a@x.com"}, r.ReceiverIdentifiers())
	assert.Equal(t, []string{"note"}, r.Notes())
}

func TestTotal(t *testing.T) {
	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: []string{"a", "b", "c"},
		Amounts: []decimal.Decimal{
			decimal.RequireFromString("10.10"),
			decimal.RequireFromString("0.90"),
			decimal.RequireFromString("4"),
		},
		ReceiverType: masspay.ReceiverUserID,
	})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("15").Equal(r.Total()))
}

func TestSplit(t *testing.T) {
	const n = 7
	ids := make([]string, n)
	notes := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("user%d@x.com", i)
		notes[i] = fmt.Sprintf("note %d", i)
	}
	amts := amounts(1, 2, 3, 4, 5, 6, 7)

	r, err := masspay.New(masspay.Options{
		ReceiverIdentifiers: ids,
		Amounts:             amts,
		CurrencyCode:        "GBP",
		EmailSubject:        "monthly",
		Notes:               notes,
	})
	require.NoError(t, err)

	parts, err := r.Split(3)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, 3, parts[0].Len())
	assert.Equal(t, 3, parts[1].Len())
	assert.Equal(t, 1, parts[2].Len())

	last, err := parts[2].Serialize()
	require.NoError(t, err)
	assert.Equal(t, "user6@x.com", last["l_email0"])
	assert.Equal(t, "7", last["l_amt0"])
	assert.Equal(t, "note 6", last["l_note0"])
	assert.Equal(t, "GBP", last["currency_code"])
	assert.Equal(t, "monthly", last["email_subject"])
	assert.NotContains(t, last, "l_uniqueid0")

	total := decimal.Zero
	for _, p := range parts {
		total = total.Add(p.Total())
	}
	assert.True(t, r.Total().Equal(total))
}

func TestSplit_ClampsSize(t *testing.T) {
	const n = masspay.MaxRecipientsPerCall + 1
	ids := make([]string, n)
	amts := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("U%d", i)
		amts[i] = decimal.NewFromInt(1)
	}

	r, err := masspay.New(masspay.Options{ReceiverIdentifiers: ids, Amounts: amts, ReceiverType: masspay.ReceiverUserID})
	require.NoError(t, err)

	for _, size := range []int{0, -1, 1000} {
		parts, err := r.Split(size)
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, masspay.MaxRecipientsPerCall, parts[0].Len())
		assert.Equal(t, 1, parts[1].Len())
		assert.Equal(t, masspay.ReceiverUserID, parts[1].ReceiverType())
	}
}

func TestSplit_SmallRequestReturnsItself(t *testing.T) {
	r, err := masspay.New(masspay.Options{ReceiverIdentifiers: []string{"a"}, Amounts: amounts(1)})
	require.NoError(t, err)

	parts, err := r.Split(10)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Same(t, r, parts[0])
}

func TestParseReceiverType(t *testing.T) {
	tests := []struct {
		in      string
		want    masspay.ReceiverType
		wantErr bool
	}{
		{"", masspay.ReceiverEmailAddress, false},
		{"EmailAddress", masspay.ReceiverEmailAddress, false},
		{"emailaddress", masspay.ReceiverEmailAddress, false},
		{"UserID", masspay.ReceiverUserID, false},
		{"userid", masspay.ReceiverUserID, false},
		{"PhoneNumber", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := masspay.ParseReceiverType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domainErrors.ErrInvalidReceiver)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestFields_Values(t *testing.T) {
	f := masspay.Fields{"method": "MassPay", "l_amt0": "10"}
	v := f.Values()

	assert.Equal(t, "MassPay", v.Get("method"))
	assert.Equal(t, "10", v.Get("l_amt0"))
	assert.Len(t, v, 2)
}
