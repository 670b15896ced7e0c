package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"OptionLedger/internal/errs"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrUnknownAsset          = errs.Input("ledger: unknown asset")
	ErrAssetExists           = errs.Input("ledger: asset already registered")
	ErrZeroAddress           = errs.Input("ledger: zero address")
	ErrInvalidAmount         = errs.Input("ledger: invalid amount")
	ErrInsufficientBalance   = errs.Invariant("ledger: insufficient balance")
	ErrInsufficientAllowance = errs.Auth("ledger: insufficient allowance")
)

type allowanceKey struct {
	Owner   common.Address
	Spender common.Address
	AssetID AssetID
}

// TokenLedger holds every fungible token balance in the system. Each movement
// is a double-entry journal against the BalanceTracker; journals produced
// while a transaction is open are collected into its Batch.
type TokenLedger struct {
	assets     map[AssetID]Asset
	bySymbol   map[string]AssetID
	tracker    *BalanceTracker
	validator  *InvariantValidator
	allowances map[allowanceKey]*big.Int

	batch *Batch
}

func NewTokenLedger() *TokenLedger {
	tracker := NewBalanceTracker()
	return &TokenLedger{
		assets:     make(map[AssetID]Asset),
		bySymbol:   make(map[string]AssetID),
		tracker:    tracker,
		validator:  NewInvariantValidator(tracker),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// RegisterAsset adds a token. IDs are assigned in registration order starting at 1.
func (l *TokenLedger) RegisterAsset(symbol string, decimals uint8) (Asset, error) {
	if _, ok := l.bySymbol[symbol]; ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrAssetExists, symbol)
	}
	a := Asset{ID: AssetID(len(l.assets) + 1), Symbol: symbol, Decimals: decimals}
	l.assets[a.ID] = a
	l.bySymbol[symbol] = a.ID
	return a, nil
}

func (l *TokenLedger) Asset(symbol string) (Asset, bool) {
	id, ok := l.bySymbol[symbol]
	if !ok {
		return Asset{}, false
	}
	return l.assets[id], true
}

func (l *TokenLedger) AssetByID(id AssetID) (Asset, bool) {
	a, ok := l.assets[id]
	return a, ok
}

// Assets returns registered assets ordered by ID.
func (l *TokenLedger) Assets() []Asset {
	out := make([]Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *TokenLedger) Tracker() *BalanceTracker       { return l.tracker }
func (l *TokenLedger) Validator() *InvariantValidator { return l.validator }

func (l *TokenLedger) BalanceOf(owner common.Address, asset AssetID) *big.Int {
	return l.tracker.GetBalance(NewHolderKey(owner, asset))
}

func (l *TokenLedger) Allowance(owner, spender common.Address, asset AssetID) *big.Int {
	if v, ok := l.allowances[allowanceKey{owner, spender, asset}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Approve sets spender's allowance over owner's tokens, replacing any previous value.
func (l *TokenLedger) Approve(owner, spender common.Address, asset AssetID, amount *big.Int) error {
	if _, ok := l.assets[asset]; !ok {
		return ErrUnknownAsset
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	key := allowanceKey{owner, spender, asset}
	if amount.Sign() == 0 {
		delete(l.allowances, key)
		return nil
	}
	l.allowances[key] = new(big.Int).Set(amount)
	return nil
}

// CanTransfer reports whether from could send amount right now.
func (l *TokenLedger) CanTransfer(from common.Address, asset AssetID, amount *big.Int) error {
	if _, ok := l.assets[asset]; !ok {
		return ErrUnknownAsset
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	have := l.BalanceOf(from, asset)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have, amount)
	}
	return nil
}

// Transfer moves amount from one holder to another. A zero amount is a no-op.
func (l *TokenLedger) Transfer(from, to common.Address, asset AssetID, amount *big.Int, jt JournalType) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := l.CanTransfer(from, asset, amount); err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	l.post(NewHolderKey(to, asset), NewHolderKey(from, asset), asset, amount, jt)
	return nil
}

// TransferFrom spends allowance granted by from to spender.
func (l *TokenLedger) TransferFrom(spender, from, to common.Address, asset AssetID, amount *big.Int) error {
	if spender != from {
		allowed := l.Allowance(from, spender, asset)
		if amount == nil || allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s may spend %s", ErrInsufficientAllowance, spender.Hex(), allowed)
		}
		if err := l.Transfer(from, to, asset, amount, JournalTypeTransfer); err != nil {
			return err
		}
		return l.Approve(from, spender, asset, allowed.Sub(allowed, amount))
	}
	return l.Transfer(from, to, asset, amount, JournalTypeTransfer)
}

// Mint issues new tokens out of the external issuance account.
func (l *TokenLedger) Mint(to common.Address, asset AssetID, amount *big.Int) error {
	if _, ok := l.assets[asset]; !ok {
		return ErrUnknownAsset
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.post(NewHolderKey(to, asset), NewIssuanceKey(asset), asset, amount, JournalTypeMint)
	return nil
}

func (l *TokenLedger) post(debit, credit AccountKey, asset AssetID, amount *big.Int, jt JournalType) {
	j := Journal{
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       asset,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
	}
	if l.batch != nil {
		j.BatchID = l.batch.BatchID
		j.EventRef = l.batch.EventRef
		j.Sequence = l.batch.Sequence
		j.Timestamp = l.batch.Timestamp
		j.JournalID = uuid.NewSHA1(l.batch.BatchID, []byte(strconv.Itoa(len(l.batch.Journals))))
		l.batch.Journals = append(l.batch.Journals, j)
	}
	l.tracker.ApplyJournal(j)
}

// Begin opens a batch collecting the journals of one transaction.
func (l *TokenLedger) Begin(eventRef string, sequence, timestamp int64) {
	l.batch = &Batch{
		BatchID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventRef)),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Commit closes the open batch and returns it.
func (l *TokenLedger) Commit() *Batch {
	b := l.batch
	l.batch = nil
	return b
}

// Discard reverses every journal posted since Begin and closes the batch.
func (l *TokenLedger) Discard() {
	if l.batch == nil {
		return
	}
	for i := len(l.batch.Journals) - 1; i >= 0; i-- {
		j := l.batch.Journals[i]
		j.DebitAccount, j.CreditAccount = j.CreditAccount, j.DebitAccount
		l.tracker.ApplyJournal(j)
	}
	l.batch = nil
}

// --- Snapshot support ---

type BalanceEntry struct {
	Scope   AccountScope   `json:"scope"`
	Owner   common.Address `json:"owner"`
	AssetID AssetID        `json:"asset_id"`
	Amount  *big.Int       `json:"amount"`
}

type AllowanceEntry struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	AssetID AssetID        `json:"asset_id"`
	Amount  *big.Int       `json:"amount"`
}

type LedgerState struct {
	Assets     []Asset          `json:"assets"`
	Balances   []BalanceEntry   `json:"balances"`
	Allowances []AllowanceEntry `json:"allowances"`
}

// Export returns the ledger state in a deterministic order.
func (l *TokenLedger) Export() LedgerState {
	st := LedgerState{Assets: l.Assets()}
	for key, amount := range l.tracker.Snapshot() {
		st.Balances = append(st.Balances, BalanceEntry{
			Scope: key.Scope, Owner: key.Owner, AssetID: key.AssetID, Amount: amount,
		})
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		a, b := st.Balances[i], st.Balances[j]
		return AccountKey{a.Scope, a.Owner, a.AssetID}.AccountPath() <
			AccountKey{b.Scope, b.Owner, b.AssetID}.AccountPath()
	})
	for key, amount := range l.allowances {
		st.Allowances = append(st.Allowances, AllowanceEntry{
			Owner: key.Owner, Spender: key.Spender, AssetID: key.AssetID, Amount: new(big.Int).Set(amount),
		})
	}
	sort.Slice(st.Allowances, func(i, j int) bool {
		a, b := st.Allowances[i], st.Allowances[j]
		return a.Owner.Hex()+a.Spender.Hex()+strconv.Itoa(int(a.AssetID)) <
			b.Owner.Hex()+b.Spender.Hex()+strconv.Itoa(int(b.AssetID))
	})
	return st
}

// Restore replaces all ledger state with st.
func (l *TokenLedger) Restore(st LedgerState) {
	fresh := NewTokenLedger()
	for _, a := range st.Assets {
		fresh.assets[a.ID] = a
		fresh.bySymbol[a.Symbol] = a.ID
	}
	for _, b := range st.Balances {
		fresh.tracker.SetBalance(AccountKey{Scope: b.Scope, Owner: b.Owner, AssetID: b.AssetID}, b.Amount)
	}
	for _, a := range st.Allowances {
		fresh.allowances[allowanceKey{a.Owner, a.Spender, a.AssetID}] = new(big.Int).Set(a.Amount)
	}
	*l = *fresh
}
