package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnqueue(t *testing.T) {
	tests := []struct {
		name    string
		jobType JobType
		payload string
		wantErr string
	}{
		{name: "receipt with items", jobType: JobTypeReceipt, payload: `{"items":[{"name":"Bread","price":1.2}]}`},
		{name: "storno with items", jobType: JobTypeStorno, payload: `{"items":[{"name":"Bread"}]}`},
		{name: "zreport without payload", jobType: JobTypeZReport, payload: ``},
		{name: "xreport null payload", jobType: JobTypeXReport, payload: `null`},
		{name: "cash", jobType: JobTypeCash, payload: `{"action":"in","amount":10}`},
		{name: "unknown type", jobType: "invoice", payload: `{}`, wantErr: "invalid type"},
		{name: "receipt without items", jobType: JobTypeReceipt, payload: `{}`, wantErr: "payload.items"},
		{name: "receipt empty items", jobType: JobTypeReceipt, payload: `{"items":[]}`, wantErr: "payload.items"},
		{name: "receipt items not a list", jobType: JobTypeReceipt, payload: `{"items":{"name":"x"}}`, wantErr: "payload.items"},
		{name: "storno null items", jobType: JobTypeStorno, payload: `{"items":null}`, wantErr: "payload.items"},
		{name: "payload not an object", jobType: JobTypeZReport, payload: `[1,2]`, wantErr: "invalid payload"},
		{name: "payload not json", jobType: JobTypeZReport, payload: `{oops`, wantErr: "invalid payload"},
		{name: "cash without action or amount", jobType: JobTypeCash, payload: `{}`, wantErr: "payload.action"},
		{name: "cash without amount", jobType: JobTypeCash, payload: `{"action":"out"}`, wantErr: "payload.amount"},
		{name: "receipt with unknown payment", jobType: JobTypeReceipt, payload: `{"items":[{"name":"x"}],"payment_method":"barter"}`, wantErr: "payload.payment_method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnqueue(tt.jobType, json.RawMessage(tt.payload))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("receipt defaults to cash", func(t *testing.T) {
		p, err := DecodePayload(JobTypeReceipt, json.RawMessage(`{"items":[{"name":"Milk","price":2,"cart_price":1.5,"quantity":1,"cart_quantity":3}]}`))
		require.NoError(t, err)
		assert.Equal(t, PaymentCash, p.PaymentMethod)
		require.Len(t, p.Items, 1)
		assert.Equal(t, 1.5, p.Items[0].UnitPrice())
		assert.Equal(t, 3.0, p.Items[0].Qty())
		assert.InDelta(t, 4.5, p.Total(), 0.0001)
	})

	t.Run("unknown payment method", func(t *testing.T) {
		_, err := DecodePayload(JobTypeReceipt, json.RawMessage(`{"items":[{"name":"x"}],"payment_method":"barter"}`))
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("cash requires action and amount", func(t *testing.T) {
		_, err := DecodePayload(JobTypeCash, json.RawMessage(`{"action":"sideways","amount":5}`))
		assert.ErrorContains(t, err, "payload.action")

		_, err = DecodePayload(JobTypeCash, json.RawMessage(`{"action":"out","amount":0}`))
		assert.ErrorContains(t, err, "payload.amount")
	})
}

func TestItemFallbacks(t *testing.T) {
	price := 2.5
	qty := 2.0
	zero := 0.0

	assert.Equal(t, 2.5, Item{Price: &price}.UnitPrice())
	assert.Equal(t, 0.0, Item{}.UnitPrice())
	assert.Equal(t, 2.0, Item{Quantity: &qty}.Qty())
	assert.Equal(t, 1.0, Item{}.Qty())
	assert.Equal(t, 2.0, Item{CartQuantity: &zero, Quantity: &qty}.Qty())
}

func TestMergeHeader(t *testing.T) {
	header := &CompanyHeaderSnapshot{Name: "ACME Ltd", Address: "1 Main St", TaxID: "123456789"}

	t.Run("adds missing header", func(t *testing.T) {
		merged, err := MergeHeader(json.RawMessage(`{"items":[{"name":"x"}]}`), header)
		require.NoError(t, err)

		var p Payload
		require.NoError(t, json.Unmarshal(merged, &p))
		require.NotNil(t, p.Header)
		assert.Equal(t, "ACME Ltd", p.Header.Name)
		assert.Len(t, p.Items, 1)
	})

	t.Run("keeps existing header", func(t *testing.T) {
		raw := json.RawMessage(`{"header":{"name":"Old Name"}}`)
		merged, err := MergeHeader(raw, header)
		require.NoError(t, err)
		assert.JSONEq(t, string(raw), string(merged))
	})

	t.Run("replaces empty header", func(t *testing.T) {
		merged, err := MergeHeader(json.RawMessage(`{"header":{}}`), header)
		require.NoError(t, err)
		assert.Contains(t, string(merged), "ACME Ltd")
	})

	t.Run("zero source header is a no-op", func(t *testing.T) {
		raw := json.RawMessage(`{"a":1}`)
		merged, err := MergeHeader(raw, &CompanyHeaderSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, raw, merged)
	})
}

func TestJobTypeAndStatus(t *testing.T) {
	assert.True(t, JobTypeSetHeaders.Valid())
	assert.False(t, JobType("pdf").Valid())
	assert.True(t, JobTypeStorno.RequiresItems())
	assert.False(t, JobTypeCash.RequiresItems())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPrinting.Terminal())
}
