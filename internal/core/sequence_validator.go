package core

import (
	"fmt"

	"OptionLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
)

// PricePartition orders oracle updates. Every other transaction is ordered
// per sender.
const PricePartition = "price"

func senderPartition(sender common.Address) string {
	return "sender:" + sender.Hex()
}

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only accessed from the single-threaded core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// CheckSequence validates a sender nonce without consuming it. The nonce is
// consumed by Advance once the transaction has been applied, so a rejected
// transaction can be resubmitted with the same nonce.
func (sv *SequenceValidator) CheckSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrNonceTooLow, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrNonceGap, partition, expected, sourceSequence)
}

// Advance consumes sourceSequence.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	sv.expectedNextSeq[partition] = sourceSequence + 1
}

// AcceptPrice reports whether a price update is newer than the last applied
// one. Gaps are tolerated; stale updates are ignored.
func (sv *SequenceValidator) AcceptPrice(priceSequence int64) bool {
	expected := sv.expectedNextSeq[PricePartition]
	if priceSequence < expected {
		if sv.metrics != nil {
			sv.metrics.StalePriceUpdates.Inc()
		}
		return false
	}
	if priceSequence > expected && expected > 0 && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(PricePartition).Inc()
	}
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets the next expected sequence during recovery
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.expectedNextSeq[partition] = next
}

// GetAllPartitions copies the validator state for snapshots
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}
