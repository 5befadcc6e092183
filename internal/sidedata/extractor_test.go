package sidedata

import (
	"errors"
	"math"
	"testing"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/ety001/op-history-bridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bts = protocol.AssetInfo{ID: protocol.AssetID(0), Symbol: "BTS", Precision: 5}
	cny = protocol.AssetInfo{ID: protocol.AssetID(113), Symbol: "CNY", Precision: 4}
	obj = protocol.AssetInfo{ID: protocol.AssetID(200), Symbol: "OBJ", Precision: 0}

	book = Assets{bts.ID: bts, cny.ID: cny, obj.ID: obj}
)

func asset(amount int64, info protocol.AssetInfo) protocol.Asset {
	return protocol.Asset{Amount: protocol.ShareType(amount), AssetID: info.ID}
}

func TestExtractTransfer(t *testing.T) {
	op := &protocol.TransferOperation{
		Fee:    asset(20, bts),
		From:   protocol.AccountID(17),
		To:     protocol.AccountID(18),
		Amount: asset(150000, bts),
	}

	sd, err := Extract(op, book)
	require.NoError(t, err)
	require.Equal(t, models.SideDataTransfer, sd.Kind())

	transfer := sd.(*models.TransferData)
	assert.Equal(t, 1.5, transfer.AmountUnits)
	assert.Equal(t, int64(150000), transfer.Amount)
	assert.Equal(t, "BTS", transfer.AssetName)
	assert.Equal(t, protocol.AccountID(17), transfer.From)
	assert.Equal(t, protocol.AccountID(18), transfer.To)
}

func TestExtractFee(t *testing.T) {
	ops := []protocol.Operation{
		&protocol.LimitOrderCreateOperation{Fee: asset(578, bts)},
		&protocol.LimitOrderCancelOperation{Fee: asset(578, bts)},
		&protocol.CallOrderUpdateOperation{Fee: asset(578, bts)},
		&protocol.AccountCreateOperation{Fee: asset(578, bts)},
		&protocol.AccountUpdateOperation{Fee: asset(578, bts)},
		&protocol.AccountUpgradeOperation{Fee: asset(578, bts)},
		&protocol.AssetIssueOperation{Fee: asset(578, bts)},
		&protocol.AssetReserveOperation{Fee: asset(578, bts)},
	}
	for _, op := range ops {
		t.Run(op.Kind().String(), func(t *testing.T) {
			sd, err := Extract(op, book)
			require.NoError(t, err)
			fee, ok := sd.(*models.FeeData)
			require.True(t, ok, "got %T", sd)
			assert.Equal(t, 0.00578, fee.AmountUnits)
			assert.Equal(t, "BTS", fee.AssetName)
			assert.True(t, Matches(op.Kind(), sd))
		})
	}
}

func TestExtractVirtualWithoutSideData(t *testing.T) {
	sd, err := Extract(&protocol.FbaDistributeOperation{Amount: 5}, book)
	require.NoError(t, err)
	assert.Equal(t, models.SideDataNone, sd.Kind())
}

func TestUnitsExact(t *testing.T) {
	amounts := []int64{0, 1, 7, 150000, 123456789, -400, 9007199254740991}
	for _, amount := range amounts {
		for _, precision := range []uint8{0, 3, 5, 8, 12} {
			want := float64(amount) / math.Pow10(int(precision))
			assert.Equal(t, want, Units(protocol.ShareType(amount), precision), "amount %d precision %d", amount, precision)
		}
	}
}

// The price is quoted in the maker's orientation, so
// fill_price * pays_units ≈ receives_units holds on the maker record as
// written. The taker pays what the maker receives, so on its record the
// same price relates the two sides with pays and receives exchanged, and
// both records of the trade report one market price.
func TestExtractFillPrice(t *testing.T) {
	// one trade: the maker sells 500 BTS for 2 CNY, the taker the reverse
	maker := &protocol.FillOrderOperation{
		OrderID: protocol.LimitOrderID(1), AccountID: protocol.AccountID(30),
		Pays: asset(50000000, bts), Receives: asset(20000, cny), IsMaker: true,
	}
	taker := &protocol.FillOrderOperation{
		OrderID: protocol.LimitOrderID(2), AccountID: protocol.AccountID(31),
		Pays: asset(20000, cny), Receives: asset(50000000, bts), IsMaker: false,
	}

	makerSD, err := Extract(maker, book)
	require.NoError(t, err)
	takerSD, err := Extract(taker, book)
	require.NoError(t, err)

	makerFill := makerSD.(*models.FillData)
	takerFill := takerSD.(*models.FillData)

	assert.Equal(t, 500.0, makerFill.PaysAmountUnits)
	assert.Equal(t, 2.0, makerFill.ReceivesAmountUnits)
	assert.InDelta(t, makerFill.ReceivesAmountUnits, makerFill.FillPriceUnits*makerFill.PaysAmountUnits, 1e-9)
	assert.InDelta(t, 20000.0/50000000.0, makerFill.FillPrice, 1e-15)

	assert.InDelta(t, takerFill.PaysAmountUnits, takerFill.FillPriceUnits*takerFill.ReceivesAmountUnits, 1e-9)
	assert.InDelta(t, makerFill.FillPriceUnits, takerFill.FillPriceUnits, 1e-15)
	assert.InDelta(t, makerFill.FillPrice, takerFill.FillPrice, 1e-15)
	assert.NotEqual(t, makerFill.IsMaker, takerFill.IsMaker)
	assert.Equal(t, "CNY", makerFill.ReceivesAssetName)
}

func TestExtractComputationErrors(t *testing.T) {
	tests := []struct {
		name string
		op   protocol.Operation
	}{
		{"zero pays", &protocol.FillOrderOperation{Pays: asset(0, bts), Receives: asset(1, cny)}},
		{"zero receives", &protocol.FillOrderOperation{Pays: asset(1, bts), Receives: asset(0, cny), IsMaker: true}},
		{"unknown fee asset", &protocol.AccountUpdateOperation{Fee: protocol.Asset{Amount: 1, AssetID: protocol.AssetID(999)}}},
		{"unknown transfer asset", &protocol.TransferOperation{Amount: protocol.Asset{Amount: 1, AssetID: protocol.AssetID(999)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd, err := Extract(tt.op, book)
			var compErr *ComputationError
			require.True(t, errors.As(err, &compErr), "got %v", err)
			assert.Equal(t, tt.op.Kind(), compErr.Kind)
			assert.Equal(t, models.SideDataNone, sd.Kind())
		})
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(protocol.TransferKind, &models.TransferData{}))
	assert.False(t, Matches(protocol.TransferKind, &models.FeeData{}))
	assert.True(t, Matches(protocol.FillOrderKind, &models.FillData{}))
	assert.False(t, Matches(protocol.FbaDistributeKind, &models.FeeData{}))
	assert.True(t, Matches(protocol.FbaDistributeKind, models.NoSideData{}))
	assert.True(t, Matches(protocol.AssetIssueKind, nil))
}
