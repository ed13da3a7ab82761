package casper

import (
	"testing"

	"github.com/holiman/uint256"
)

// TestDepositDeltaConservation covers invariant 3: total_deposits after
// newEpoch(e) equals the sum of total_deposit_deltas[e'] for e' <= e.
func TestDepositDeltaConservation(t *testing.T) {
	config := DefaultConfig()
	em := NewEpochManager(config)

	em.AddDelta(0, uint256.NewInt(100))
	em.AddDelta(1, uint256.NewInt(50))
	em.AddDelta(2, uint256.NewInt(25))

	var counts [NumBuckets]uint64

	if err := em.NewEpoch(config.EpochLength, counts); err != nil {
		t.Fatalf("NewEpoch(e=0): %v", err)
	}
	if got := em.TotalDeposits().Uint64(); got != 100 {
		t.Fatalf("total_deposits after epoch 0 = %d, want 100", got)
	}

	if err := em.NewEpoch(2*config.EpochLength, counts); err != nil {
		t.Fatalf("NewEpoch(e=1): %v", err)
	}
	if got := em.TotalDeposits().Uint64(); got != 150 {
		t.Fatalf("total_deposits after epoch 1 = %d, want 150", got)
	}

	if err := em.NewEpoch(3*config.EpochLength, counts); err != nil {
		t.Fatalf("NewEpoch(e=2): %v", err)
	}
	if got := em.TotalDeposits().Uint64(); got != 175 {
		t.Fatalf("total_deposits after epoch 2 = %d, want 175", got)
	}
}

// TestNewEpochRejectsOutOfSequence covers newEpoch's idempotence-under-
// replay requirement: it must reject any call that isn't exactly the
// one epoch boundary currently due.
func TestNewEpochRejectsOutOfSequence(t *testing.T) {
	config := DefaultConfig()
	em := NewEpochManager(config)
	var counts [NumBuckets]uint64

	if err := em.NewEpoch(2*config.EpochLength, counts); err != ErrWrongEpoch {
		t.Fatalf("NewEpoch skipping ahead = %v, want ErrWrongEpoch", err)
	}
	if err := em.NewEpoch(config.EpochLength, counts); err != nil {
		t.Fatalf("NewEpoch(e=0): %v", err)
	}
	if err := em.NewEpoch(config.EpochLength, counts); err != ErrWrongEpoch {
		t.Fatalf("replaying the same boundary = %v, want ErrWrongEpoch", err)
	}
}
