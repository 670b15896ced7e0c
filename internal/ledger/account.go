package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeHolder is any address holding tokens: users, pools,
	// fee recipients and hedge pools alike.
	AccountScopeHolder AccountScope = iota
	// AccountScopeExternal is the issuance boundary. It is the only scope
	// allowed to carry a negative balance.
	AccountScopeExternal
)

// AssetID maps asset symbols to numeric IDs for compact keys
type AssetID uint16

// Asset is a registered fungible token.
type Asset struct {
	ID       AssetID `json:"id" yaml:"id"`
	Symbol   string  `json:"symbol" yaml:"symbol"`
	Decimals uint8   `json:"decimals" yaml:"decimals"`
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address
	AssetID AssetID
}

// NewHolderKey creates a key for an address-owned balance
func NewHolderKey(owner common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeHolder,
		Owner:   owner,
		AssetID: assetID,
	}
}

// NewIssuanceKey creates the external boundary account that mints draw from
func NewIssuanceKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%d", k.Owner.Hex(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%d", k.AssetID)
	}
	return "unknown"
}
