package query

import (
	"math/big"

	"OptionLedger/internal/core"
	"OptionLedger/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// Amount is an on-chain integer amount with its human-readable rendering.
type Amount struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

// BalanceResponse is one token balance of an account, from projections.
type BalanceResponse struct {
	Asset   string `json:"asset"`
	AssetID uint16 `json:"asset_id"`
	Balance Amount `json:"balance"`
	// LastSequence is the transaction that last changed this balance.
	LastSequence int64 `json:"last_sequence"`
}

type AccountBalances struct {
	Owner        common.Address    `json:"owner"`
	Balances     []BalanceResponse `json:"balances"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// PoolResponse is the live aggregate state of a pool.
type PoolResponse struct {
	Address          common.Address `json:"address"`
	Asset            string         `json:"asset"`
	TotalBalance     Amount         `json:"total_balance"`
	LockedAmount     Amount         `json:"locked_amount"`
	AvailableBalance Amount         `json:"available_balance"`
	HedgedBalance    Amount         `json:"hedged_balance"`
	UnhedgedBalance  Amount         `json:"unhedged_balance"`
	TotalShare       string         `json:"total_share"`
	HedgedShare      string         `json:"hedged_share"`
	UnhedgedShare    string         `json:"unhedged_share"`
	// Utilization is lockedAmount/totalBalance in the 1e8 scale.
	Utilization  string         `json:"utilization"`
	HedgeFeeRate uint64         `json:"hedge_fee_rate"`
	HedgePool    common.Address `json:"hedge_pool"`
	LockupPeriod uint64         `json:"lockup_period"`
	Tranches     int            `json:"tranches"`
	Locks        int            `json:"locks"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type TrancheResponse struct {
	Pool         common.Address `json:"pool"`
	ID           uint64         `json:"id"`
	Owner        common.Address `json:"owner"`
	Approved     common.Address `json:"approved"`
	State        string         `json:"state"`
	Share        string         `json:"share"`
	Amount       Amount         `json:"amount"`
	Value        *Amount        `json:"value,omitempty"`
	Hedged       bool           `json:"hedged"`
	CreatedAt    uint64         `json:"created_at"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type LockResponse struct {
	Pool           common.Address `json:"pool"`
	ID             uint64         `json:"id"`
	Amount         Amount         `json:"amount"`
	HedgePremium   Amount         `json:"hedge_premium"`
	UnhedgePremium Amount         `json:"unhedge_premium"`
	Locked         bool           `json:"locked"`
	AsOfSequence   int64          `json:"as_of_sequence"`
}

type OptionResponse struct {
	ID                uint64         `json:"id"`
	State             string         `json:"state"`
	Type              string         `json:"option_type"`
	Holder            common.Address `json:"holder"`
	Approved          common.Address `json:"approved"`
	Strike            Amount         `json:"strike"`
	Amount            Amount         `json:"amount"`
	Expiration        uint64         `json:"expiration"`
	CreatedAt         uint64         `json:"created_at"`
	Pool              common.Address `json:"pool"`
	LockedLiquidityID uint64         `json:"locked_liquidity_id"`
	SettlementFee     Amount         `json:"settlement_fee"`
	Premium           Amount         `json:"premium"`
	AsOfSequence      int64          `json:"as_of_sequence"`
}

type QuoteResponse struct {
	Type          string `json:"option_type"`
	Period        uint64 `json:"period"`
	Amount        Amount `json:"amount"`
	Strike        Amount `json:"strike"`
	SettlementFee Amount `json:"settlement_fee"`
	Premium       Amount `json:"premium"`
	Total         Amount `json:"total"`
	Asset         string `json:"asset"`
}

type StatusResponse struct {
	Sequence            int64           `json:"sequence"`
	StateHash           string          `json:"state_hash"`
	ProjectionWatermark int64           `json:"projection_watermark"`
	Price               *Amount         `json:"price,omitempty"`
	Engine              core.EngineInfo `json:"engine"`
}

// JournalHistoryEntry is one token movement touching an account.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	TxID          string `json:"tx_id"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        Amount `json:"amount"`
	JournalType   string `json:"journal_type"`
	BlockTime     int64  `json:"block_time"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// SupplyChecked is false unless the projections, the event log and the
	// core are all at the same sequence.
	SupplyChecked    bool             `json:"supply_checked"`
	SupplyMismatches []SupplyMismatch `json:"supply_mismatches,omitempty"`
}

// SupplyMismatch is an asset whose projected holder balances do not add up
// to its circulating supply.
type SupplyMismatch struct {
	AssetID   uint16 `json:"asset_id"`
	Projected string `json:"projected"`
	Supply    string `json:"supply"`
}

func utilization(s pool.Stats) *big.Int {
	if s.TotalBalance == nil || s.TotalBalance.Sign() == 0 {
		return new(big.Int)
	}
	u := new(big.Int).Mul(s.LockedAmount, big.NewInt(100_000_000))
	return u.Quo(u, s.TotalBalance)
}
