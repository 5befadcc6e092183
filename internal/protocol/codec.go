package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type variant struct {
	name     string
	required []string
	new      func() Operation
}

var variants = map[OperationKind]variant{
	TransferKind: {"transfer", []string{"fee", "from", "to", "amount"},
		func() Operation { return new(TransferOperation) }},
	LimitOrderCreateKind: {"limit_order_create", []string{"fee", "seller", "amount_to_sell", "min_to_receive", "expiration", "fill_or_kill"},
		func() Operation { return new(LimitOrderCreateOperation) }},
	LimitOrderCancelKind: {"limit_order_cancel", []string{"fee", "fee_paying_account", "order"},
		func() Operation { return new(LimitOrderCancelOperation) }},
	CallOrderUpdateKind: {"call_order_update", []string{"fee", "funding_account", "delta_collateral", "delta_debt"},
		func() Operation { return new(CallOrderUpdateOperation) }},
	FillOrderKind: {"fill_order", []string{"fee", "order_id", "account_id", "pays", "receives", "fill_price", "is_maker"},
		func() Operation { return new(FillOrderOperation) }},
	AccountCreateKind: {"account_create", []string{"fee", "registrar", "referrer", "referrer_percent", "name"},
		func() Operation { return new(AccountCreateOperation) }},
	AccountUpdateKind: {"account_update", []string{"fee", "account"},
		func() Operation { return new(AccountUpdateOperation) }},
	AccountUpgradeKind: {"account_upgrade", []string{"fee", "account_to_upgrade", "upgrade_to_lifetime_member"},
		func() Operation { return new(AccountUpgradeOperation) }},
	AssetIssueKind: {"asset_issue", []string{"fee", "issuer", "asset_to_issue", "issue_to_account"},
		func() Operation { return new(AssetIssueOperation) }},
	AssetReserveKind: {"asset_reserve", []string{"fee", "payer", "amount_to_reserve"},
		func() Operation { return new(AssetReserveOperation) }},
	FbaDistributeKind: {"fba_distribute", []string{"fee", "account_id", "fba_id", "amount"},
		func() Operation { return new(FbaDistributeOperation) }},
}

// KindByName resolves an operation name such as "transfer"
func KindByName(name string) (OperationKind, bool) {
	for kind, v := range variants {
		if v.name == name {
			return kind, true
		}
	}
	return 0, false
}

// ErrUnknownOperation is wrapped by the FormatError of an operation whose
// tag is outside the supported set
var ErrUnknownOperation = errors.New("unsupported operation kind")

// FormatError reports an encoded operation that cannot be decoded
type FormatError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := "malformed operation: " + e.Reason
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Encode returns the canonical [tag, {fields}] form of op
func Encode(op Operation) []byte {
	data, err := json.Marshal([]interface{}{op.Kind(), op})
	if err != nil {
		// operation structs only hold marshalable fields
		panic(fmt.Sprintf("encode %s operation: %v", op.Kind(), err))
	}
	return data
}

// Decode parses the canonical form produced by Encode. The tag may be the
// numeric kind or the operation name.
func Decode(data []byte) (Operation, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, &FormatError{Reason: "expected [tag, object] pair", Err: err}
	}
	if len(pair) != 2 {
		return nil, &FormatError{Reason: fmt.Sprintf("expected 2 elements, got %d", len(pair))}
	}

	kind, err := decodeTag(pair[0])
	if err != nil {
		return nil, err
	}
	v, ok := variants[kind]
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("unknown operation tag %d", kind), Err: ErrUnknownOperation}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(pair[1], &fields); err != nil || fields == nil {
		return nil, &FormatError{Reason: v.name + " body must be an object", Err: err}
	}
	for _, name := range v.required {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, &FormatError{Field: name, Reason: "missing required " + v.name + " field"}
		}
	}

	op := v.new()
	if err := json.Unmarshal(pair[1], op); err != nil {
		return nil, &FormatError{Reason: "invalid " + v.name + " body", Err: err}
	}
	return op, nil
}

func decodeTag(raw json.RawMessage) (OperationKind, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		kind, ok := KindByName(name)
		if !ok {
			return 0, &FormatError{Reason: fmt.Sprintf("unknown operation name %q", name), Err: ErrUnknownOperation}
		}
		return kind, nil
	}
	var tag int
	if err := json.Unmarshal(raw, &tag); err != nil {
		return 0, &FormatError{Reason: "operation tag must be a number", Err: err}
	}
	if tag < 0 || tag > 255 {
		return 0, &FormatError{Reason: fmt.Sprintf("unknown operation tag %d", tag), Err: ErrUnknownOperation}
	}
	return OperationKind(tag), nil
}

// ResultKind is the static-variant tag of an operation result
type ResultKind uint8

const (
	VoidResult     ResultKind = 0
	ObjectIDResult ResultKind = 1
	AssetResult    ResultKind = 2
)

// OperationResult is what applying an operation produced. Result kinds the
// bridge does not interpret are kept verbatim in Raw.
type OperationResult struct {
	Kind     ResultKind
	ObjectID ObjectID
	Asset    Asset
	Raw      json.RawMessage
}

// MarshalJSON renders the [tag, value] form
func (r OperationResult) MarshalJSON() ([]byte, error) {
	var value interface{}
	switch r.Kind {
	case VoidResult:
		value = struct{}{}
	case ObjectIDResult:
		value = r.ObjectID
	case AssetResult:
		value = r.Asset
	default:
		value = r.Raw
		if len(r.Raw) == 0 {
			value = struct{}{}
		}
	}
	return json.Marshal([]interface{}{r.Kind, value})
}

// UnmarshalJSON parses the [tag, value] form
func (r *OperationResult) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return &FormatError{Reason: "operation result must be a [tag, value] pair", Err: err}
	}
	if len(pair) != 2 {
		return &FormatError{Reason: fmt.Sprintf("operation result has %d elements", len(pair))}
	}
	var kind ResultKind
	if err := json.Unmarshal(pair[0], &kind); err != nil {
		return &FormatError{Reason: "operation result tag must be a number", Err: err}
	}

	out := OperationResult{Kind: kind}
	switch kind {
	case VoidResult:
	case ObjectIDResult:
		if err := json.Unmarshal(pair[1], &out.ObjectID); err != nil {
			return &FormatError{Reason: "invalid object id result", Err: err}
		}
	case AssetResult:
		if err := json.Unmarshal(pair[1], &out.Asset); err != nil {
			return &FormatError{Reason: "invalid asset result", Err: err}
		}
	default:
		out.Raw = append(json.RawMessage(nil), pair[1]...)
	}
	*r = out
	return nil
}
