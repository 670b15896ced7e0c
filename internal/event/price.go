package event

import (
	"fmt"
	"math/big"
)

// PriceUpdate publishes a new oracle price (8 decimals).
type PriceUpdate struct {
	Header
	Price         *big.Int `json:"price"`
	PriceSequence int64    `json:"price_sequence"` // Monotonic per feed
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%d", p.PriceSequence)
}

func (*PriceUpdate) EventType() EventType { return EventTypePriceUpdate }

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
