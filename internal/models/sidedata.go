package models

import (
	"errors"

	"github.com/ety001/op-history-bridge/internal/protocol"
)

// SideDataKind tags the variant held by a SideData value
type SideDataKind uint8

const (
	SideDataNone SideDataKind = iota
	SideDataFee
	SideDataTransfer
	SideDataFill
)

func (k SideDataKind) String() string {
	switch k {
	case SideDataFee:
		return "fee"
	case SideDataTransfer:
		return "transfer"
	case SideDataFill:
		return "fill"
	default:
		return "none"
	}
}

// SideData is derived, queryable data attached to a document. Exactly one
// variant is held; NoSideData is the empty case.
type SideData interface {
	Kind() SideDataKind
	isSideData()
}

// NoSideData marks a document without side data
type NoSideData struct{}

// FeeData describes the fee paid by an operation
type FeeData struct {
	Asset       protocol.ObjectID `json:"asset"`
	AssetName   string            `json:"asset_name"`
	Amount      int64             `json:"amount"`
	AmountUnits float64           `json:"amount_units"`
}

// TransferData describes the amount moved by a transfer
type TransferData struct {
	Asset       protocol.ObjectID `json:"asset"`
	AssetName   string            `json:"asset_name"`
	Amount      int64             `json:"amount"`
	AmountUnits float64           `json:"amount_units"`
	From        protocol.ObjectID `json:"from"`
	To          protocol.ObjectID `json:"to"`
}

// FillData describes one side of a filled order
type FillData struct {
	OrderID             protocol.ObjectID `json:"order_id"`
	AccountID           protocol.ObjectID `json:"account_id"`
	PaysAssetID         protocol.ObjectID `json:"pays_asset_id"`
	PaysAssetName       string            `json:"pays_asset_name"`
	PaysAmount          int64             `json:"pays_amount"`
	PaysAmountUnits     float64           `json:"pays_amount_units"`
	ReceivesAssetID     protocol.ObjectID `json:"receives_asset_id"`
	ReceivesAssetName   string            `json:"receives_asset_name"`
	ReceivesAmount      int64             `json:"receives_amount"`
	ReceivesAmountUnits float64           `json:"receives_amount_units"`
	FillPrice           float64           `json:"fill_price"`
	FillPriceUnits      float64           `json:"fill_price_units"`
	IsMaker             bool              `json:"is_maker"`
}

func (NoSideData) Kind() SideDataKind    { return SideDataNone }
func (*FeeData) Kind() SideDataKind      { return SideDataFee }
func (*TransferData) Kind() SideDataKind { return SideDataTransfer }
func (*FillData) Kind() SideDataKind     { return SideDataFill }

func (NoSideData) isSideData()    {}
func (*FeeData) isSideData()      {}
func (*TransferData) isSideData() {}
func (*FillData) isSideData()     {}

// AdditionalData is the wire form of SideData: at most one field is set
type AdditionalData struct {
	FeeData      *FeeData      `json:"fee_data,omitempty"`
	TransferData *TransferData `json:"transfer_data,omitempty"`
	FillData     *FillData     `json:"fill_data,omitempty"`
}

// NewAdditionalData converts side data to its wire form; nil means none
func NewAdditionalData(sd SideData) *AdditionalData {
	switch d := sd.(type) {
	case *FeeData:
		return &AdditionalData{FeeData: d}
	case *TransferData:
		return &AdditionalData{TransferData: d}
	case *FillData:
		return &AdditionalData{FillData: d}
	default:
		return nil
	}
}

var errMultipleSideData = errors.New("additional data holds more than one variant")

// SideData converts the wire form back, rejecting more than one variant
func (a *AdditionalData) SideData() (SideData, error) {
	if a == nil {
		return NoSideData{}, nil
	}
	var out []SideData
	if a.FeeData != nil {
		out = append(out, a.FeeData)
	}
	if a.TransferData != nil {
		out = append(out, a.TransferData)
	}
	if a.FillData != nil {
		out = append(out, a.FillData)
	}
	switch len(out) {
	case 0:
		return NoSideData{}, nil
	case 1:
		return out[0], nil
	default:
		return nil, errMultipleSideData
	}
}
