package casper

import (
	"testing"

	"github.com/eth2030/eth2030/core/types"
)

// TestDunkleExclusivity covers invariant 6: dunkles[h] transitions
// 0 -> t -> 0 and cannot be re-included while its timestamp is non-zero.
func TestDunkleExclusivity(t *testing.T) {
	ledger := NewDunkleLedger()
	h := types.HexToHash("0x1234")

	if ts := ledger.TimestampOf(h); ts != 0 {
		t.Fatalf("fresh ledger reports timestamp %d, want 0", ts)
	}

	if err := ledger.Include(h, 1000); err != nil {
		t.Fatalf("Include: %v", err)
	}
	if ts := ledger.TimestampOf(h); ts != 1000 {
		t.Fatalf("TimestampOf after Include = %d, want 1000", ts)
	}

	if err := ledger.Include(h, 2000); err != ErrDuplicateDunkle {
		t.Fatalf("re-Include while live = %v, want ErrDuplicateDunkle", err)
	}

	now := int64(1000 + DunkleMinAgeSeconds + 1)
	n, err := ledger.RemoveOld([]types.Hash{h}, now)
	if err != nil {
		t.Fatalf("RemoveOld: %v", err)
	}
	if n != 1 {
		t.Fatalf("RemoveOld returned %d, want 1", n)
	}
	if ts := ledger.TimestampOf(h); ts != 0 {
		t.Fatalf("TimestampOf after RemoveOld = %d, want 0", ts)
	}

	// Once cleared, the hash is no longer live and can be re-included.
	if err := ledger.Include(h, 3000); err != nil {
		t.Fatalf("Include after removal: %v", err)
	}
}

// TestDunkleRemoveOldRejectsYoung ensures RemoveOld enforces the age
// threshold atomically: if any hash in the batch is too young, none of
// the batch is cleared.
func TestDunkleRemoveOldRejectsYoung(t *testing.T) {
	ledger := NewDunkleLedger()
	old := types.HexToHash("0xaa")
	young := types.HexToHash("0xbb")

	now := int64(2 * DunkleMinAgeSeconds)
	if err := ledger.Include(old, 1); err != nil {
		t.Fatalf("Include(old): %v", err)
	}
	if err := ledger.Include(young, now-1); err != nil {
		t.Fatalf("Include(young): %v", err)
	}

	if _, err := ledger.RemoveOld([]types.Hash{old, young}, now); err != ErrDunkleTooYoung {
		t.Fatalf("RemoveOld with a young hash in the batch = %v, want ErrDunkleTooYoung", err)
	}
	if ts := ledger.TimestampOf(old); ts != 1 {
		t.Fatalf("old hash's record changed despite batch rejection: got %d, want 1", ts)
	}
}
