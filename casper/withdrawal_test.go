package casper

import (
	"testing"

	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
	"github.com/holiman/uint256"
)

// withdrawalFixture builds the two-deposit, two-rollover scenario S6
// needs: D1 seeds total_deposits so D2's lock_duration is computed
// against a non-zero base, then D2 is the validator under test.
type withdrawalFixture struct {
	depositFixture
	verifier  *HeaderVerifier
	d2Code    []byte
	d2Address types.Address
	d2Bucket  int
	d2Slot    int
}

// buildWithdrawalFixture deposits D1 (64 ETH) at epoch 0, rolls two
// epoch boundaries so total_deposits reflects D1's stake, then deposits
// D2 (64 ETH): its lock_duration is computed from that already-live
// total, giving lock_duration = 64e18 / 2e18 = 32 per spec.md §4.G.
// A further rollover brings current_epoch to 3, matching scenario S6's
// "startWithdrawal at epoch 3 sets end_epoch = 5".
func buildWithdrawalFixture(t *testing.T) withdrawalFixture {
	t.Helper()
	config := DefaultConfig()
	config.EpochLength = 5

	var fx withdrawalFixture
	fx.st = state.NewInMemory(state.DefaultChainConfig())
	fx.registry = NewRegistry(config, testAddr(0xd0))
	fx.epochs = NewEpochManager(config)
	fx.selector = NewSelector(fx.registry, fx.epochs)
	fx.verifier = NewHeaderVerifier(config, fx.registry, fx.epochs, fx.selector, HMACValidationCode{})

	d1 := testAddr(0xd1)
	if err := fx.st.SetBalance(d1, BucketSize(0)); err != nil {
		t.Fatalf("fund d1: %v", err)
	}
	if _, _, err := fx.registry.Deposit(fx.st, fx.epochs, d1, BucketSize(0), []byte("validator-D1"), types.HexToHash("0x1111")); err != nil {
		t.Fatalf("Deposit(d1): %v", err)
	}

	if err := fx.epochs.NewEpoch(5, fx.registry.Counts()); err != nil {
		t.Fatalf("NewEpoch(block=5): %v", err)
	}
	if err := fx.epochs.NewEpoch(10, fx.registry.Counts()); err != nil {
		t.Fatalf("NewEpoch(block=10): %v", err)
	}

	fx.d2Address = testAddr(0xd2)
	fx.d2Code = []byte("validator-D2")
	if err := fx.st.SetBalance(fx.d2Address, BucketSize(0)); err != nil {
		t.Fatalf("fund d2: %v", err)
	}
	var err error
	fx.d2Bucket, fx.d2Slot, err = fx.registry.Deposit(fx.st, fx.epochs, fx.d2Address, BucketSize(0), fx.d2Code, types.HexToHash("0x2222"))
	if err != nil {
		t.Fatalf("Deposit(d2): %v", err)
	}

	if err := fx.epochs.NewEpoch(15, fx.registry.Counts()); err != nil {
		t.Fatalf("NewEpoch(block=15): %v", err)
	}

	if got := fx.epochs.CurrentEpoch(); got != 3 {
		t.Fatalf("current_epoch before startWithdrawal = %d, want 3", got)
	}
	v, ok := fx.registry.Get(fx.d2Bucket, fx.d2Slot)
	if !ok || v.LockDuration != 32 {
		t.Fatalf("D2 lock_duration = %d, want 32 (ok=%v)", v.LockDuration, ok)
	}
	return fx
}

// TestStartWithdrawalRequiresValidSignature covers spec.md's
// startWithdrawal(i, j, sig) signature gate: sig must verify against the
// validator's own validation_code over keccak256("withdraw"x4), ported
// literally from original_source/ethereum/casper_contract.py.
func TestStartWithdrawalRequiresValidSignature(t *testing.T) {
	fx := buildWithdrawalFixture(t)

	badSig := SignHMAC([]byte("not-d2s-key"), withdrawalMessage)
	if err := fx.verifier.StartWithdrawal(fx.d2Bucket, fx.d2Slot, badSig); err != ErrInvalidSignature {
		t.Fatalf("StartWithdrawal with wrong key = %v, want ErrInvalidSignature", err)
	}

	v, _ := fx.registry.Get(fx.d2Bucket, fx.d2Slot)
	if v.EndEpoch != NoEndEpoch {
		t.Fatalf("end_epoch changed despite rejected signature: %d", v.EndEpoch)
	}

	goodSig := SignHMAC(fx.d2Code, withdrawalMessage)
	if err := fx.verifier.StartWithdrawal(fx.d2Bucket, fx.d2Slot, goodSig); err != nil {
		t.Fatalf("StartWithdrawal: %v", err)
	}
	v, _ = fx.registry.Get(fx.d2Bucket, fx.d2Slot)
	if v.EndEpoch != 5 {
		t.Fatalf("end_epoch after startWithdrawal = %d, want 5", v.EndEpoch)
	}
}

// TestWithdrawLockDurationGate covers S6's threshold check:
// end_epoch*epoch_length + lock_duration = 5*5+32 = 57. A withdraw
// attempt at or before that timestamp is rejected; one after it succeeds,
// pays out the deposit, and frees the slot for reuse (invariant 5).
func TestWithdrawLockDurationGate(t *testing.T) {
	fx := buildWithdrawalFixture(t)
	sig := SignHMAC(fx.d2Code, withdrawalMessage)
	if err := fx.verifier.StartWithdrawal(fx.d2Bucket, fx.d2Slot, sig); err != nil {
		t.Fatalf("StartWithdrawal: %v", err)
	}

	if err := fx.registry.Withdraw(fx.st, fx.d2Bucket, fx.d2Slot, 50); err != ErrLockNotExpired {
		t.Fatalf("Withdraw at t=50 = %v, want ErrLockNotExpired", err)
	}
	if _, ok := fx.registry.Get(fx.d2Bucket, fx.d2Slot); !ok {
		t.Fatalf("slot freed despite rejected withdraw")
	}

	contractBalBefore, err := fx.st.GetBalance(fx.registry.ContractAddress())
	if err != nil {
		t.Fatalf("GetBalance(contract): %v", err)
	}

	if err := fx.registry.Withdraw(fx.st, fx.d2Bucket, fx.d2Slot, 58); err != nil {
		t.Fatalf("Withdraw at t=58: %v", err)
	}

	d2Bal, err := fx.st.GetBalance(fx.d2Address)
	if err != nil {
		t.Fatalf("GetBalance(d2): %v", err)
	}
	if d2Bal.Cmp(BucketSize(0)) != 0 {
		t.Fatalf("d2 balance after withdraw = %s, want %s", d2Bal, BucketSize(0))
	}
	contractBalAfter, err := fx.st.GetBalance(fx.registry.ContractAddress())
	if err != nil {
		t.Fatalf("GetBalance(contract) after: %v", err)
	}
	want := new(uint256.Int).Sub(contractBalBefore, BucketSize(0))
	if contractBalAfter.Cmp(want) != 0 {
		t.Fatalf("contract balance after withdraw = %s, want %s", contractBalAfter, want)
	}

	if _, ok := fx.registry.Get(fx.d2Bucket, fx.d2Slot); ok {
		t.Fatalf("slot still occupied after a successful withdraw")
	}

	// Invariant 5: a fresh deposit into the same bucket reuses the freed slot.
	d3 := testAddr(0xd3)
	if err := fx.st.SetBalance(d3, BucketSize(fx.d2Bucket)); err != nil {
		t.Fatalf("fund d3: %v", err)
	}
	b3, slot3, err := fx.registry.Deposit(fx.st, fx.epochs, d3, BucketSize(fx.d2Bucket), []byte("validator-D3"), types.HexToHash("0x3333"))
	if err != nil {
		t.Fatalf("Deposit(d3): %v", err)
	}
	if b3 != fx.d2Bucket || slot3 != fx.d2Slot {
		t.Fatalf("Deposit(d3) landed at (%d,%d), want reused slot (%d,%d)", b3, slot3, fx.d2Bucket, fx.d2Slot)
	}
}
