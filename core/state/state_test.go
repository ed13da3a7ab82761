package state

import (
	"testing"

	"github.com/eth2030/eth2030/core/types"
	"github.com/holiman/uint256"
)

func mustAddr(b byte) types.Address {
	var a types.Address
	a[len(a)-1] = b
	return a
}

// TestGenesisCommitDeterministic covers scenario S1: loading a
// pre-allocation and committing must produce a root that is a pure
// function of the allocation, independent of incidental map-iteration
// order, and stable across repeated builds from the same inputs.
func TestGenesisCommitDeterministic(t *testing.T) {
	build := func() types.Hash {
		s := NewInMemory(DefaultChainConfig())
		addr := mustAddr(0xaa)
		if err := s.SetBalance(addr, uint256.NewInt(1_000_000_000_000_000_000)); err != nil {
			t.Fatalf("SetBalance: %v", err)
		}
		root, err := s.Commit(true)
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		return root
	}

	r1 := build()
	r2 := build()
	if r1 != r2 {
		t.Fatalf("genesis root not deterministic: %x != %x", r1, r2)
	}
	if r1 == types.EmptyRootHash {
		t.Fatalf("genesis root must differ from the empty trie root")
	}
}

// TestCommitIdempotent covers invariant 2: commit(); commit() leaves
// the trie root unchanged when nothing was mutated in between.
func TestCommitIdempotent(t *testing.T) {
	s := NewInMemory(DefaultChainConfig())
	addr := mustAddr(0x01)
	if err := s.SetBalance(addr, uint256.NewInt(42)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	root1, err := s.Commit(true)
	if err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	root2, err := s.Commit(true)
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if root1 != root2 {
		t.Fatalf("commit not idempotent: %x != %x", root1, root2)
	}
}

// TestSnapshotRevertRoundTrip covers invariant 1 and scenario S5:
// snapshotting, mutating, then reverting must restore the pre-snapshot
// balances and journal length exactly.
func TestSnapshotRevertRoundTrip(t *testing.T) {
	s := NewInMemory(DefaultChainConfig())
	a := mustAddr(0x0a)
	b := mustAddr(0x0b)

	if err := s.SetBalance(a, uint256.NewInt(5)); err != nil {
		t.Fatalf("seed SetBalance(a): %v", err)
	}
	if err := s.SetBalance(b, uint256.NewInt(7)); err != nil {
		t.Fatalf("seed SetBalance(b): %v", err)
	}

	snap := s.TakeSnapshot()
	journalLenAtSnap := snap.JournalLen

	if err := s.SetBalance(a, uint256.NewInt(10)); err != nil {
		t.Fatalf("SetBalance(a): %v", err)
	}
	if err := s.SetBalance(b, uint256.NewInt(20)); err != nil {
		t.Fatalf("SetBalance(b): %v", err)
	}

	if err := s.Revert(snap); err != nil {
		t.Fatalf("Revert: %v", err)
	}

	balA, err := s.GetBalance(a)
	if err != nil {
		t.Fatalf("GetBalance(a): %v", err)
	}
	balB, err := s.GetBalance(b)
	if err != nil {
		t.Fatalf("GetBalance(b): %v", err)
	}
	if balA.Uint64() != 5 {
		t.Fatalf("GetBalance(a) after revert = %d, want 5", balA.Uint64())
	}
	if balB.Uint64() != 7 {
		t.Fatalf("GetBalance(b) after revert = %d, want 7", balB.Uint64())
	}
	if s.journal.length() != journalLenAtSnap {
		t.Fatalf("journal length after revert = %d, want %d", s.journal.length(), journalLenAtSnap)
	}
}

// TestRevertAcrossCommitRejected exercises the safety constraint Revert
// documents: a snapshot taken before an intervening Commit cannot be
// reverted to.
func TestRevertAcrossCommitRejected(t *testing.T) {
	s := NewInMemory(DefaultChainConfig())
	addr := mustAddr(0x42)
	if err := s.SetBalance(addr, uint256.NewInt(1)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	snap := s.TakeSnapshot()
	if _, err := s.Commit(true); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Revert(snap); err != ErrSnapshotAcrossCommit {
		t.Fatalf("Revert across commit = %v, want ErrSnapshotAcrossCommit", err)
	}
}

// TestTransferValue exercises transfer_value's balance-sufficiency
// gate and its all-or-nothing balance update.
func TestTransferValue(t *testing.T) {
	s := NewInMemory(DefaultChainConfig())
	from := mustAddr(0x01)
	to := mustAddr(0x02)
	if err := s.SetBalance(from, uint256.NewInt(100)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	ok, err := s.TransferValue(from, to, uint256.NewInt(1000))
	if err != nil {
		t.Fatalf("TransferValue (insufficient): %v", err)
	}
	if ok {
		t.Fatalf("TransferValue succeeded despite insufficient balance")
	}

	ok, err = s.TransferValue(from, to, uint256.NewInt(40))
	if err != nil {
		t.Fatalf("TransferValue: %v", err)
	}
	if !ok {
		t.Fatalf("TransferValue failed unexpectedly")
	}

	fromBal, _ := s.GetBalance(from)
	toBal, _ := s.GetBalance(to)
	if fromBal.Uint64() != 60 {
		t.Fatalf("from balance = %d, want 60", fromBal.Uint64())
	}
	if toBal.Uint64() != 40 {
		t.Fatalf("to balance = %d, want 40", toBal.Uint64())
	}
}

// TestEphemeralCloneIsolated verifies that writes to a clone are not
// visible on the parent, which keeps reading from its own cache and root.
func TestEphemeralCloneIsolated(t *testing.T) {
	s := NewInMemory(DefaultChainConfig())
	addr := mustAddr(0x99)
	if err := s.SetBalance(addr, uint256.NewInt(1)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if _, err := s.Commit(true); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	clone := s.EphemeralClone()
	if err := clone.SetBalance(addr, uint256.NewInt(999)); err != nil {
		t.Fatalf("clone SetBalance: %v", err)
	}

	parentBal, err := s.GetBalance(addr)
	if err != nil {
		t.Fatalf("parent GetBalance: %v", err)
	}
	if parentBal.Uint64() != 1 {
		t.Fatalf("parent balance leaked clone write: got %d, want 1", parentBal.Uint64())
	}
}

// TestAccountExistsSpuriousDragon exercises the EIP-161 existence
// predicate: an account with all-blank fields does not "exist" once
// SPURIOUS_DRAGON is active.
func TestAccountExistsSpuriousDragon(t *testing.T) {
	s := NewInMemory(DefaultChainConfig())
	addr := mustAddr(0x07)

	exists, err := s.AccountExists(addr)
	if err != nil {
		t.Fatalf("AccountExists: %v", err)
	}
	if exists {
		t.Fatalf("untouched address reported as existing")
	}

	if err := s.SetBalance(addr, uint256.NewInt(1)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	exists, err = s.AccountExists(addr)
	if err != nil {
		t.Fatalf("AccountExists: %v", err)
	}
	if !exists {
		t.Fatalf("funded address reported as not existing")
	}
}
