// Package oracle supplies the reference price of the underlying asset.
package oracle

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/errs"
	fpmath "OptionLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoPrice      = errs.Stale("oracle: no price published yet")
	ErrNotFeeder    = errs.Auth("oracle: sender is not the price feeder")
	ErrInvalidPrice = errs.Input("oracle: price must be positive")
)

// PriceOracle returns the current price with 8 decimals.
type PriceOracle interface {
	CurrentPrice() (*big.Int, error)
}

// Feed is a push oracle: a single feeder publishes prices as transactions.
// Ordering of updates is enforced by the caller.
type Feed struct {
	feeder    common.Address
	price     *big.Int
	updatedAt int64
}

func NewFeed(feeder common.Address) *Feed {
	return &Feed{feeder: feeder}
}

func (f *Feed) Update(sender common.Address, price *big.Int, at int64) error {
	if sender != f.feeder {
		return fmt.Errorf("%w: %s", ErrNotFeeder, sender.Hex())
	}
	if err := fpmath.CheckUint256(price); err != nil || price.Sign() == 0 {
		return ErrInvalidPrice
	}
	f.price = new(big.Int).Set(price)
	f.updatedAt = at
	return nil
}

func (f *Feed) CurrentPrice() (*big.Int, error) {
	if f.price == nil {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(f.price), nil
}

func (f *Feed) Feeder() common.Address { return f.feeder }
func (f *Feed) UpdatedAt() int64       { return f.updatedAt }

// FeedState is the serializable form of a Feed.
type FeedState struct {
	Feeder    common.Address `json:"feeder"`
	Price     *big.Int       `json:"price,omitempty"`
	UpdatedAt int64          `json:"updated_at"`
}

func (f *Feed) Export() FeedState {
	st := FeedState{Feeder: f.feeder, UpdatedAt: f.updatedAt}
	if f.price != nil {
		st.Price = new(big.Int).Set(f.price)
	}
	return st
}

func RestoreFeed(st FeedState) *Feed {
	f := &Feed{feeder: st.Feeder, updatedAt: st.UpdatedAt}
	if st.Price != nil {
		f.price = new(big.Int).Set(st.Price)
	}
	return f
}

// Fixed always reports the same price.
type Fixed struct {
	Price *big.Int
}

func (f Fixed) CurrentPrice() (*big.Int, error) {
	if f.Price == nil {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(f.Price), nil
}
