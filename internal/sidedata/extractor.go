// Package sidedata derives the fee, transfer and fill fields attached to
// indexed operations. Extraction is a pure function of the operation and
// the asset metadata supplied by the caller.
package sidedata

import (
	"fmt"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/shopspring/decimal"
)

// AssetBook resolves the metadata of assets referenced by an operation
type AssetBook interface {
	Asset(id protocol.ObjectID) (protocol.AssetInfo, bool)
}

// Assets is an AssetBook backed by a map
type Assets map[protocol.ObjectID]protocol.AssetInfo

// Asset implements AssetBook
func (a Assets) Asset(id protocol.ObjectID) (protocol.AssetInfo, bool) {
	info, ok := a[id]
	return info, ok
}

// ComputationError reports side data that cannot be derived
type ComputationError struct {
	Kind   protocol.OperationKind
	Reason string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("cannot derive %s side data: %s", e.Kind, e.Reason)
}

// Extract returns the side data for op. Transfers and fills get their own
// variant, other user operations describe their fee and remaining virtual
// operations carry none.
func Extract(op protocol.Operation, assets AssetBook) (models.SideData, error) {
	switch o := op.(type) {
	case *protocol.TransferOperation:
		return transferData(o, assets)
	case *protocol.FillOrderOperation:
		return fillData(o, assets)
	case *protocol.FbaDistributeOperation:
		return models.NoSideData{}, nil
	case *protocol.LimitOrderCreateOperation,
		*protocol.LimitOrderCancelOperation,
		*protocol.CallOrderUpdateOperation,
		*protocol.AccountCreateOperation,
		*protocol.AccountUpdateOperation,
		*protocol.AccountUpgradeOperation,
		*protocol.AssetIssueOperation,
		*protocol.AssetReserveOperation:
		return feeData(op, assets)
	default:
		return models.NoSideData{}, nil
	}
}

// Units scales a raw amount by the asset precision: amount / 10^precision
func Units(amount protocol.ShareType, precision uint8) float64 {
	f, _ := scaled(amount, precision).Float64()
	return f
}

func scaled(amount protocol.ShareType, precision uint8) decimal.Decimal {
	return decimal.New(int64(amount), -int32(precision))
}

func lookup(kind protocol.OperationKind, assets AssetBook, id protocol.ObjectID) (protocol.AssetInfo, error) {
	info, ok := assets.Asset(id)
	if !ok {
		return protocol.AssetInfo{}, &ComputationError{Kind: kind, Reason: "unknown asset " + id.String()}
	}
	return info, nil
}

func feeData(op protocol.Operation, assets AssetBook) (models.SideData, error) {
	fee := op.FeeAsset()
	info, err := lookup(op.Kind(), assets, fee.AssetID)
	if err != nil {
		return models.NoSideData{}, err
	}
	return &models.FeeData{
		Asset:       fee.AssetID,
		AssetName:   info.Symbol,
		Amount:      int64(fee.Amount),
		AmountUnits: Units(fee.Amount, info.Precision),
	}, nil
}

func transferData(op *protocol.TransferOperation, assets AssetBook) (models.SideData, error) {
	info, err := lookup(op.Kind(), assets, op.Amount.AssetID)
	if err != nil {
		return models.NoSideData{}, err
	}
	return &models.TransferData{
		Asset:       op.Amount.AssetID,
		AssetName:   info.Symbol,
		Amount:      int64(op.Amount.Amount),
		AmountUnits: Units(op.Amount.Amount, info.Precision),
		From:        op.From,
		To:          op.To,
	}, nil
}

// fillData prices the trade from the maker's point of view so that both
// records of one trade carry the same price: the maker record divides what
// it received by what it paid, the taker record uses the inverse.
func fillData(op *protocol.FillOrderOperation, assets AssetBook) (models.SideData, error) {
	if op.Pays.Amount == 0 || op.Receives.Amount == 0 {
		return models.NoSideData{}, &ComputationError{Kind: op.Kind(), Reason: "fill moves a zero amount"}
	}
	paysInfo, err := lookup(op.Kind(), assets, op.Pays.AssetID)
	if err != nil {
		return models.NoSideData{}, err
	}
	receivesInfo, err := lookup(op.Kind(), assets, op.Receives.AssetID)
	if err != nil {
		return models.NoSideData{}, err
	}

	pays := decimal.NewFromInt(int64(op.Pays.Amount))
	receives := decimal.NewFromInt(int64(op.Receives.Amount))
	paysUnits := scaled(op.Pays.Amount, paysInfo.Precision)
	receivesUnits := scaled(op.Receives.Amount, receivesInfo.Precision)

	price, priceUnits := receives.Div(pays), receivesUnits.Div(paysUnits)
	if !op.IsMaker {
		price, priceUnits = pays.Div(receives), paysUnits.Div(receivesUnits)
	}
	fillPrice, _ := price.Float64()
	fillPriceUnits, _ := priceUnits.Float64()

	paysAmountUnits, _ := paysUnits.Float64()
	receivesAmountUnits, _ := receivesUnits.Float64()

	return &models.FillData{
		OrderID:             op.OrderID,
		AccountID:           op.AccountID,
		PaysAssetID:         op.Pays.AssetID,
		PaysAssetName:       paysInfo.Symbol,
		PaysAmount:          int64(op.Pays.Amount),
		PaysAmountUnits:     paysAmountUnits,
		ReceivesAssetID:     op.Receives.AssetID,
		ReceivesAssetName:   receivesInfo.Symbol,
		ReceivesAmount:      int64(op.Receives.Amount),
		ReceivesAmountUnits: receivesAmountUnits,
		FillPrice:           fillPrice,
		FillPriceUnits:      fillPriceUnits,
		IsMaker:             op.IsMaker,
	}, nil
}

// Matches reports whether sd is a variant that Extract can produce for kind.
// NoSideData always matches since extraction may be disabled or fail.
func Matches(kind protocol.OperationKind, sd models.SideData) bool {
	if sd == nil || sd.Kind() == models.SideDataNone {
		return true
	}
	switch kind {
	case protocol.TransferKind:
		return sd.Kind() == models.SideDataTransfer
	case protocol.FillOrderKind:
		return sd.Kind() == models.SideDataFill
	default:
		return !kind.IsVirtual() && sd.Kind() == models.SideDataFee
	}
}
