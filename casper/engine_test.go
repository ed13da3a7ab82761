package casper

import (
	"testing"

	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
	"github.com/holiman/uint256"
)

// TestEngineCloneIsolation covers the isolation Engine.Clone promises:
// mutating a clone's Registry/EpochManager/Selector must leave the
// original Engine's components untouched, mirroring how
// state.State.EphemeralClone isolates a speculative State from its
// parent.
func TestEngineCloneIsolation(t *testing.T) {
	config := DefaultConfig()
	engine := NewEngine(config, testAddr(0xe0), HMACValidationCode{})

	st := state.NewInMemory(state.DefaultChainConfig())
	from := testAddr(0x01)
	if err := st.SetBalance(from, BucketSize(0)); err != nil {
		t.Fatalf("fund from: %v", err)
	}
	b, slot, err := engine.Registry.Deposit(st, engine.Epochs, from, BucketSize(0), []byte("validator-A"), types.HexToHash("0xaa"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	clone := engine.Clone()
	before, _ := engine.Registry.Get(b, slot)

	delta := uint256.NewInt(42)
	if err := clone.Registry.AddReward(b, slot, delta, false); err != nil {
		t.Fatalf("clone AddReward: %v", err)
	}
	clone.Epochs.AddSkips(7)
	clone.Selector.MixRandao([32]byte{0x01})

	after, _ := engine.Registry.Get(b, slot)
	if after.Deposit.Cmp(before.Deposit) != 0 {
		t.Fatalf("original registry mutated by clone: %s -> %s", before.Deposit, after.Deposit)
	}
	if engine.Epochs.TotalSkips() != 0 {
		t.Fatalf("original epoch manager mutated by clone: total_skips = %d", engine.Epochs.TotalSkips())
	}
	if engine.Selector.GlobalRandao() != [32]byte{} {
		t.Fatalf("original selector mutated by clone: randao = %x", engine.Selector.GlobalRandao())
	}

	cloneAfter, _ := clone.Registry.Get(b, slot)
	wantCloneDeposit := new(uint256.Int).Add(before.Deposit, delta)
	if cloneAfter.Deposit.Cmp(wantCloneDeposit) != 0 {
		t.Fatalf("clone registry = %s, want %s", cloneAfter.Deposit, wantCloneDeposit)
	}
	if clone.Epochs.TotalSkips() != 7 {
		t.Fatalf("clone epoch manager total_skips = %d, want 7", clone.Epochs.TotalSkips())
	}
}
