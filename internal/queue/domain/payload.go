package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payment methods
const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

// Cash movement actions
const (
	CashIn  = "in"
	CashOut = "out"
)

// CompanyHeaderSnapshot is the company identity printed atop every receipt,
// copied into a job so later settings edits do not affect it.
type CompanyHeaderSnapshot struct {
	Name      string `json:"name" yaml:"name"`
	Address   string `json:"address" yaml:"address"`
	TaxID     string `json:"tax_id" yaml:"tax_id"`
	VATNumber string `json:"vat_number" yaml:"vat_number"`
}

// IsZero reports whether the snapshot carries nothing printable
func (h *CompanyHeaderSnapshot) IsZero() bool {
	return h == nil || (strings.TrimSpace(h.Name) == "" &&
		strings.TrimSpace(h.Address) == "" &&
		strings.TrimSpace(h.TaxID) == "" &&
		strings.TrimSpace(h.VATNumber) == "")
}

// Item is one receipt line. Cart fields override catalog fields.
type Item struct {
	Name         string   `json:"name"`
	Price        *float64 `json:"price,omitempty"`
	Quantity     *float64 `json:"quantity,omitempty"`
	CartPrice    *float64 `json:"cart_price,omitempty"`
	CartQuantity *float64 `json:"cart_quantity,omitempty"`
	VATClass     string   `json:"vat_class,omitempty"`
}

// UnitPrice prefers the cart price over the catalog price
func (i Item) UnitPrice() float64 {
	switch {
	case i.CartPrice != nil:
		return *i.CartPrice
	case i.Price != nil:
		return *i.Price
	}
	return 0
}

// Qty prefers the cart quantity over the catalog quantity, defaulting to 1
func (i Item) Qty() float64 {
	switch {
	case i.CartQuantity != nil && *i.CartQuantity > 0:
		return *i.CartQuantity
	case i.Quantity != nil && *i.Quantity > 0:
		return *i.Quantity
	}
	return 1
}

// Payload is the typed view of a job payload
type Payload struct {
	Items         []Item                 `json:"items,omitempty"`
	PaymentMethod string                 `json:"payment_method,omitempty"`
	Header        *CompanyHeaderSnapshot `json:"header,omitempty"`
	Action        string                 `json:"action,omitempty"`
	Amount        float64                `json:"amount,omitempty"`
	Text          string                 `json:"text,omitempty"`
}

// Total sums the resolved line amounts
func (p *Payload) Total() float64 {
	var total float64
	for _, item := range p.Items {
		total += item.UnitPrice() * item.Qty()
	}
	return total
}

// NormalizePayload returns raw as a JSON object, substituting an empty object
// for a missing payload.
func NormalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, &ValidationError{Field: "payload", Reason: "must be a JSON object"}
	}
	return json.RawMessage(trimmed), nil
}

// ValidateEnqueue checks a job before it is queued. It applies the same
// rules the agent applies before printing, so nothing is queued that could
// only ever fail.
func ValidateEnqueue(t JobType, raw json.RawMessage) error {
	_, err := DecodePayload(t, raw)
	return err
}

// DecodePayload parses and checks the payload for the given job type
func DecodePayload(t JobType, raw json.RawMessage) (*Payload, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", t)}
	}

	normalized, err := NormalizePayload(raw)
	if err != nil {
		return nil, err
	}

	if t.RequiresItems() {
		if err := checkItems(normalized); err != nil {
			return nil, err
		}
	}

	var p Payload
	if err := json.Unmarshal(normalized, &p); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}

	switch p.PaymentMethod {
	case "":
		p.PaymentMethod = PaymentCash
	case PaymentCash, PaymentCard:
	default:
		return nil, &ValidationError{Field: "payload.payment_method", Reason: fmt.Sprintf("unknown payment method %q", p.PaymentMethod)}
	}

	if t == JobTypeCash {
		if p.Action != CashIn && p.Action != CashOut {
			return nil, &ValidationError{Field: "payload.action", Reason: fmt.Sprintf("must be %q or %q", CashIn, CashOut)}
		}
		if p.Amount <= 0 {
			return nil, &ValidationError{Field: "payload.amount", Reason: "must be positive"}
		}
	}

	return &p, nil
}

// checkItems requires a non-empty JSON list under "items"
func checkItems(payload json.RawMessage) error {
	var probe struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	var items []json.RawMessage
	if len(probe.Items) == 0 || json.Unmarshal(probe.Items, &items) != nil || len(items) == 0 {
		return &ValidationError{Field: "payload.items", Reason: "must be a non-empty list"}
	}
	return nil
}

// MergeHeader sets payload.header when the payload does not already carry a
// usable snapshot.
func MergeHeader(raw json.RawMessage, header *CompanyHeaderSnapshot) (json.RawMessage, error) {
	if header.IsZero() {
		return raw, nil
	}

	payload, err := NormalizePayload(raw)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	if existing, ok := fields["header"]; ok {
		var current CompanyHeaderSnapshot
		if json.Unmarshal(existing, &current) == nil && !current.IsZero() {
			return payload, nil
		}
	}

	encoded, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	fields["header"] = encoded

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return merged, nil
}
