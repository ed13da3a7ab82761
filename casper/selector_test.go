package casper

import (
	"math"
	"testing"

	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
)

func testAddr(b byte) types.Address {
	var a types.Address
	a[len(a)-1] = b
	return a
}

// depositFixture bundles a built Registry/EpochManager/Selector plus
// the (bucket, slot) pair each deposit landed in.
type depositFixture struct {
	st       *state.State
	registry *Registry
	epochs   *EpochManager
	selector *Selector
}

// depositTwoAndAdvance builds the fixture scenario S2 describes: two
// deposits at epoch 0 in distinct buckets, advanced to block_number=10
// via two newEpoch calls so both validators are live at the epoch
// Selector.Pick consults.
func depositTwoAndAdvance(t *testing.T) (fx depositFixture, bSmall, slotSmall, bBig, slotBig int) {
	t.Helper()
	config := DefaultConfig()
	config.EpochLength = 5
	config.GenesisTimestamp = 0

	fx.st = state.NewInMemory(state.DefaultChainConfig())
	fx.registry = NewRegistry(config, testAddr(0xc0))
	fx.epochs = NewEpochManager(config)
	fx.selector = NewSelector(fx.registry, fx.epochs)

	from1 := testAddr(0x01)
	from2 := testAddr(0x02)
	if err := fx.st.SetBalance(from1, BucketSize(0)); err != nil {
		t.Fatalf("fund from1: %v", err)
	}
	if err := fx.st.SetBalance(from2, BucketSize(1)); err != nil {
		t.Fatalf("fund from2: %v", err)
	}

	var err error
	bSmall, slotSmall, err = fx.registry.Deposit(fx.st, fx.epochs, from1, BucketSize(0), []byte("validator-A"), types.HexToHash("0xaaaa"))
	if err != nil {
		t.Fatalf("Deposit(64): %v", err)
	}
	bBig, slotBig, err = fx.registry.Deposit(fx.st, fx.epochs, from2, BucketSize(1), []byte("validator-B"), types.HexToHash("0xbbbb"))
	if err != nil {
		t.Fatalf("Deposit(128): %v", err)
	}

	if err := fx.epochs.NewEpoch(5, fx.registry.Counts()); err != nil {
		t.Fatalf("NewEpoch(block=5): %v", err)
	}
	if err := fx.epochs.NewEpoch(10, fx.registry.Counts()); err != nil {
		t.Fatalf("NewEpoch(block=10): %v", err)
	}

	return fx, bSmall, slotSmall, bBig, slotBig
}

// TestProposerSelectionWeighting covers invariant 4 and scenario S2:
// across varied skip-derived hash inputs, the 128-unit validator should
// be picked with empirical frequency close to 128/(64+128).
func TestProposerSelectionWeighting(t *testing.T) {
	fx, bSmall, slotSmall, bBig, slotBig := depositTwoAndAdvance(t)

	const trials = 5000
	bigHits := 0
	smallHits := 0
	for skips := uint64(0); skips < trials; skips++ {
		b, slot, err := fx.selector.Pick(skips)
		if err != nil {
			t.Fatalf("Pick(%d): %v", skips, err)
		}
		switch {
		case b == bBig && slot == slotBig:
			bigHits++
		case b == bSmall && slot == slotSmall:
			smallHits++
		default:
			t.Fatalf("Pick(%d) returned unknown validator (%d,%d)", skips, b, slot)
		}
	}

	total := bigHits + smallHits
	if total != trials {
		t.Fatalf("hits do not cover all trials: %d != %d", total, trials)
	}
	freq := float64(bigHits) / float64(total)
	want := 128.0 / (64.0 + 128.0)
	if math.Abs(freq-want) > 0.05 {
		t.Fatalf("big-validator selection frequency = %.4f, want ~%.4f (±0.05)", freq, want)
	}
}

// TestPickRetriesPastInactiveValidator covers the rehash-on-retry
// deviation documented in DESIGN.md: a validator that has been
// retired (not live) must never be returned, even though its slot
// still occupies a bucket-weight range.
func TestPickRetriesPastInactiveValidator(t *testing.T) {
	config := DefaultConfig()
	config.EpochLength = 5
	st := state.NewInMemory(state.DefaultChainConfig())
	registry := NewRegistry(config, testAddr(0xc1))
	em := NewEpochManager(config)
	selector := NewSelector(registry, em)

	from := testAddr(0x03)
	if err := st.SetBalance(from, BucketSize(0)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	b, slot, err := registry.Deposit(st, em, from, BucketSize(0), []byte("validator-C"), types.HexToHash("0xcccc"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := em.NewEpoch(5, registry.Counts()); err != nil {
		t.Fatalf("NewEpoch: %v", err)
	}
	if err := em.NewEpoch(10, registry.Counts()); err != nil {
		t.Fatalf("NewEpoch: %v", err)
	}

	// Pick should succeed while the validator is live.
	if _, _, err := selector.Pick(0); err != nil {
		t.Fatalf("Pick while live: %v", err)
	}

	// Retire the validator without freeing its slot (simulates the
	// window between end_epoch and an eventual withdraw): only the
	// Active flag flips, so the bucket-weight walk still lands in its
	// range but IsLive must now reject it.
	registry.mu.Lock()
	v := registry.lookupLocked(b, slot)
	v.Active = false
	registry.mu.Unlock()

	if _, _, err := selector.Pick(0); err != ErrNoLiveValidator {
		t.Fatalf("Pick against the only, now-inactive validator = %v, want ErrNoLiveValidator", err)
	}
}
