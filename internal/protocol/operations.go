package protocol

import "encoding/json"

// OperationKind is the static-variant tag of an operation
type OperationKind uint8

// Supported operation kinds, numbered as on chain
const (
	TransferKind         OperationKind = 0
	LimitOrderCreateKind OperationKind = 1
	LimitOrderCancelKind OperationKind = 2
	CallOrderUpdateKind  OperationKind = 3
	FillOrderKind        OperationKind = 4
	AccountCreateKind    OperationKind = 5
	AccountUpdateKind    OperationKind = 6
	AccountUpgradeKind   OperationKind = 8
	AssetIssueKind       OperationKind = 14
	AssetReserveKind     OperationKind = 15
	FbaDistributeKind    OperationKind = 44
)

// String returns the operation name used on chain
func (k OperationKind) String() string {
	if v, ok := variants[k]; ok {
		return v.name
	}
	return "unknown"
}

// IsVirtual reports whether operations of this kind are generated by the
// chain rather than submitted by users
func (k OperationKind) IsVirtual() bool {
	return k == FillOrderKind || k == FbaDistributeKind
}

// Operation is the closed set of ledger operations the bridge understands.
// Only types in this package implement it.
type Operation interface {
	Kind() OperationKind
	FeeAsset() Asset
	isOperation()
}

// Memo is an encrypted transfer memo
type Memo struct {
	From    string      `json:"from"`
	To      string      `json:"to"`
	Nonce   json.Number `json:"nonce"`
	Message string      `json:"message"`
}

// AccountOptions is the subset of account options tracked in history
type AccountOptions struct {
	MemoKey       string   `json:"memo_key"`
	VotingAccount ObjectID `json:"voting_account"`
	NumWitness    uint16   `json:"num_witness"`
	NumCommittee  uint16   `json:"num_committee"`
}

type TransferOperation struct {
	Fee    Asset    `json:"fee"`
	From   ObjectID `json:"from"`
	To     ObjectID `json:"to"`
	Amount Asset    `json:"amount"`
	Memo   *Memo    `json:"memo,omitempty"`
}

type LimitOrderCreateOperation struct {
	Fee          Asset    `json:"fee"`
	Seller       ObjectID `json:"seller"`
	AmountToSell Asset    `json:"amount_to_sell"`
	MinToReceive Asset    `json:"min_to_receive"`
	Expiration   Time     `json:"expiration"`
	FillOrKill   bool     `json:"fill_or_kill"`
}

type LimitOrderCancelOperation struct {
	Fee              Asset    `json:"fee"`
	FeePayingAccount ObjectID `json:"fee_paying_account"`
	Order            ObjectID `json:"order"`
}

type CallOrderUpdateOperation struct {
	Fee             Asset    `json:"fee"`
	FundingAccount  ObjectID `json:"funding_account"`
	DeltaCollateral Asset    `json:"delta_collateral"`
	DeltaDebt       Asset    `json:"delta_debt"`
}

// FillOrderOperation is the virtual operation emitted for each side of a trade
type FillOrderOperation struct {
	Fee       Asset    `json:"fee"`
	OrderID   ObjectID `json:"order_id"`
	AccountID ObjectID `json:"account_id"`
	Pays      Asset    `json:"pays"`
	Receives  Asset    `json:"receives"`
	FillPrice Price    `json:"fill_price"`
	IsMaker   bool     `json:"is_maker"`
}

type AccountCreateOperation struct {
	Fee             Asset    `json:"fee"`
	Registrar       ObjectID `json:"registrar"`
	Referrer        ObjectID `json:"referrer"`
	ReferrerPercent uint16   `json:"referrer_percent"`
	Name            string   `json:"name"`
}

type AccountUpdateOperation struct {
	Fee        Asset           `json:"fee"`
	Account    ObjectID        `json:"account"`
	NewOptions *AccountOptions `json:"new_options,omitempty"`
}

type AccountUpgradeOperation struct {
	Fee                     Asset    `json:"fee"`
	AccountToUpgrade        ObjectID `json:"account_to_upgrade"`
	UpgradeToLifetimeMember bool     `json:"upgrade_to_lifetime_member"`
}

type AssetIssueOperation struct {
	Fee            Asset    `json:"fee"`
	Issuer         ObjectID `json:"issuer"`
	AssetToIssue   Asset    `json:"asset_to_issue"`
	IssueToAccount ObjectID `json:"issue_to_account"`
	Memo           *Memo    `json:"memo,omitempty"`
}

type AssetReserveOperation struct {
	Fee             Asset    `json:"fee"`
	Payer           ObjectID `json:"payer"`
	AmountToReserve Asset    `json:"amount_to_reserve"`
}

// FbaDistributeOperation is the virtual payout of a fee-backed asset pool
type FbaDistributeOperation struct {
	Fee       Asset     `json:"fee"`
	AccountID ObjectID  `json:"account_id"`
	FbaID     ObjectID  `json:"fba_id"`
	Amount    ShareType `json:"amount"`
}

func (*TransferOperation) Kind() OperationKind         { return TransferKind }
func (*LimitOrderCreateOperation) Kind() OperationKind { return LimitOrderCreateKind }
func (*LimitOrderCancelOperation) Kind() OperationKind { return LimitOrderCancelKind }
func (*CallOrderUpdateOperation) Kind() OperationKind  { return CallOrderUpdateKind }
func (*FillOrderOperation) Kind() OperationKind        { return FillOrderKind }
func (*AccountCreateOperation) Kind() OperationKind    { return AccountCreateKind }
func (*AccountUpdateOperation) Kind() OperationKind    { return AccountUpdateKind }
func (*AccountUpgradeOperation) Kind() OperationKind   { return AccountUpgradeKind }
func (*AssetIssueOperation) Kind() OperationKind       { return AssetIssueKind }
func (*AssetReserveOperation) Kind() OperationKind     { return AssetReserveKind }
func (*FbaDistributeOperation) Kind() OperationKind    { return FbaDistributeKind }

func (op *TransferOperation) FeeAsset() Asset         { return op.Fee }
func (op *LimitOrderCreateOperation) FeeAsset() Asset { return op.Fee }
func (op *LimitOrderCancelOperation) FeeAsset() Asset { return op.Fee }
func (op *CallOrderUpdateOperation) FeeAsset() Asset  { return op.Fee }
func (op *FillOrderOperation) FeeAsset() Asset        { return op.Fee }
func (op *AccountCreateOperation) FeeAsset() Asset    { return op.Fee }
func (op *AccountUpdateOperation) FeeAsset() Asset    { return op.Fee }
func (op *AccountUpgradeOperation) FeeAsset() Asset   { return op.Fee }
func (op *AssetIssueOperation) FeeAsset() Asset       { return op.Fee }
func (op *AssetReserveOperation) FeeAsset() Asset     { return op.Fee }
func (op *FbaDistributeOperation) FeeAsset() Asset    { return op.Fee }

func (*TransferOperation) isOperation()         {}
func (*LimitOrderCreateOperation) isOperation() {}
func (*LimitOrderCancelOperation) isOperation() {}
func (*CallOrderUpdateOperation) isOperation()  {}
func (*FillOrderOperation) isOperation()        {}
func (*AccountCreateOperation) isOperation()    {}
func (*AccountUpdateOperation) isOperation()    {}
func (*AccountUpgradeOperation) isOperation()   {}
func (*AssetIssueOperation) isOperation()       {}
func (*AssetReserveOperation) isOperation()     {}
func (*FbaDistributeOperation) isOperation()    {}

// ImpactedAccounts returns the accounts whose history includes op, in a
// stable order without duplicates
func ImpactedAccounts(op Operation) []ObjectID {
	var accounts []ObjectID
	switch o := op.(type) {
	case *TransferOperation:
		accounts = []ObjectID{o.From, o.To}
	case *LimitOrderCreateOperation:
		accounts = []ObjectID{o.Seller}
	case *LimitOrderCancelOperation:
		accounts = []ObjectID{o.FeePayingAccount}
	case *CallOrderUpdateOperation:
		accounts = []ObjectID{o.FundingAccount}
	case *FillOrderOperation:
		accounts = []ObjectID{o.AccountID}
	case *AccountCreateOperation:
		accounts = []ObjectID{o.Registrar, o.Referrer}
	case *AccountUpdateOperation:
		accounts = []ObjectID{o.Account}
	case *AccountUpgradeOperation:
		accounts = []ObjectID{o.AccountToUpgrade}
	case *AssetIssueOperation:
		accounts = []ObjectID{o.Issuer, o.IssueToAccount}
	case *AssetReserveOperation:
		accounts = []ObjectID{o.Payer}
	case *FbaDistributeOperation:
		accounts = []ObjectID{o.AccountID}
	}
	return dedup(accounts)
}

// ReferencedAssets returns every asset whose metadata is needed to describe op
func ReferencedAssets(op Operation) []ObjectID {
	assets := []ObjectID{op.FeeAsset().AssetID}
	switch o := op.(type) {
	case *TransferOperation:
		assets = append(assets, o.Amount.AssetID)
	case *LimitOrderCreateOperation:
		assets = append(assets, o.AmountToSell.AssetID, o.MinToReceive.AssetID)
	case *CallOrderUpdateOperation:
		assets = append(assets, o.DeltaCollateral.AssetID, o.DeltaDebt.AssetID)
	case *FillOrderOperation:
		assets = append(assets, o.Pays.AssetID, o.Receives.AssetID)
	case *AssetIssueOperation:
		assets = append(assets, o.AssetToIssue.AssetID)
	case *AssetReserveOperation:
		assets = append(assets, o.AmountToReserve.AssetID)
	}
	return dedup(assets)
}

func dedup(ids []ObjectID) []ObjectID {
	seen := make(map[ObjectID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
