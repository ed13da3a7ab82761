package casper

import (
	"math/big"
	"testing"

	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
	"github.com/holiman/uint256"
)

// buildSignedHeader constructs a header whose ExtraData and signature
// the given validation code will accept, using the HMAC validation
// sandbox test double.
func buildSignedHeader(t *testing.T, number uint64, timestamp uint64, randaoReveal [32]byte, skips uint64, bucket, slot int, validationCode []byte, salt byte) *types.Header {
	t.Helper()
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(1),
		Time:       timestamp,
		Coinbase:   testAddr(salt),
	}

	ed := ExtraData{RandaoReveal: randaoReveal, Skips: skips, Bucket: bucket, Slot: slot}
	header.Extra = ed.Encode()

	signingHash, err := sealHash(header)
	if err != nil {
		t.Fatalf("sealHash: %v", err)
	}
	ed.Signature = SignHMAC(validationCode, signingHash)
	header.Extra = ed.Encode()
	return header
}

// TestHeaderVerifyAcceptsAndCreditsReward covers scenario S3: a header
// carrying a correct randao preimage, matching (bucket, slot), difficulty
// 1 and a signature the validation code accepts must be accepted, credit
// the validator's deposit with block_reward, and update stored_randao to
// the revealed preimage.
func TestHeaderVerifyAcceptsAndCreditsReward(t *testing.T) {
	fx, bSmall, slotSmall, bBig, slotBig := depositHashChainFixture(t)

	b, slot, err := fx.selector.Pick(0)
	if err != nil {
		t.Fatalf("Pick(0): %v", err)
	}
	var validationCode []byte
	switch {
	case b == bBig && slot == slotBig:
		validationCode = []byte("validator-B")
	case b == bSmall && slot == slotSmall:
		validationCode = []byte("validator-A")
	default:
		t.Fatalf("Pick(0) landed on unknown validator (%d,%d)", b, slot)
	}

	before, _ := fx.registry.Get(b, slot)
	verifier := NewHeaderVerifier(fx.config, fx.registry, fx.epochs, fx.selector, HMACValidationCode{})

	header := buildSignedHeader(t, 11, 33, fx.preimage0, 0, b, slot, validationCode, 0x10)
	if err := verifier.VerifyHeader(fx.st, header); err != nil {
		t.Fatalf("VerifyHeader: %v", err)
	}

	after, _ := fx.registry.Get(b, slot)
	reward := fx.registry.GetBlockReward(fx.epochs)
	wantDeposit := new(uint256.Int).Add(before.Deposit, reward)
	if after.Deposit.Cmp(wantDeposit) != 0 {
		t.Fatalf("deposit after header accept = %s, want %s", after.Deposit, wantDeposit)
	}
	if after.Randao != types.Hash(fx.preimage0) {
		t.Fatalf("stored randao = %x, want revealed preimage %x", after.Randao, fx.preimage0)
	}

	contractBal, err := fx.st.GetBalance(fx.registry.ContractAddress())
	if err != nil {
		t.Fatalf("GetBalance(contract): %v", err)
	}
	wantBal := new(uint256.Int).Add(BucketSize(0), BucketSize(1))
	wantBal.Add(wantBal, reward)
	if contractBal.Cmp(wantBal) != 0 {
		t.Fatalf("contract balance = %s, want %s", contractBal, wantBal)
	}

	t.Run("dunkle", func(t *testing.T) { testDunkleAfterAccept(t, fx, verifier, b, slot, validationCode, reward) })
}

// testDunkleAfterAccept covers scenario S4: a second valid header at
// the same height with a distinct signature is accepted as a dunkle,
// decreasing the validator's deposit by block_reward - 1, and a
// resubmission of the same dunkle is rejected.
func testDunkleAfterAccept(t *testing.T, fx chainedFixture, verifier *HeaderVerifier, b, slot int, validationCode []byte, reward *uint256.Int) {
	ledger := NewDunkleLedger()
	before, _ := fx.registry.Get(b, slot)

	dunkleHeader := buildSignedHeader(t, 11, 33, fx.preimage1, 0, b, slot, validationCode, 0x20)
	canonical := types.HexToHash("0xdeadbeef")

	if err := verifier.IncludeDunkle(ledger, dunkleHeader, canonical, 12, 5_000_000); err != nil {
		t.Fatalf("IncludeDunkle: %v", err)
	}

	after, _ := fx.registry.Get(b, slot)
	penalty := new(uint256.Int).Sub(reward, uint256.NewInt(1))
	wantDeposit := new(uint256.Int).Sub(before.Deposit, penalty)
	if after.Deposit.Cmp(wantDeposit) != 0 {
		t.Fatalf("deposit after dunkle = %s, want %s", after.Deposit, wantDeposit)
	}

	if err := verifier.IncludeDunkle(ledger, dunkleHeader, canonical, 12, 5_000_001); err != ErrDuplicateDunkle {
		t.Fatalf("re-submitting the same dunkle = %v, want ErrDuplicateDunkle", err)
	}
}

// TestRemoveOldDunklesPaysCaller covers removeOldDunkleRecords' reward:
// once a batch of aged dunkles clears, BLOCK_REWARD*len/250 must move
// from the contract's own balance to the caller, mirroring the original
// contract's send(msg.sender, ...).
func TestRemoveOldDunklesPaysCaller(t *testing.T) {
	config := DefaultConfig()
	contract := testAddr(0xc3)
	registry := NewRegistry(config, contract)
	epochs := NewEpochManager(config)
	selector := NewSelector(registry, epochs)
	verifier := NewHeaderVerifier(config, registry, epochs, selector, HMACValidationCode{})
	ledger := NewDunkleLedger()

	st := state.NewInMemory(state.DefaultChainConfig())
	reward := registry.GetBlockReward(epochs)
	wantPayout := new(uint256.Int).Div(reward, uint256.NewInt(DunkleRewardDivisor))
	if err := st.SetBalance(contract, new(uint256.Int).Mul(wantPayout, uint256.NewInt(2))); err != nil {
		t.Fatalf("fund contract: %v", err)
	}

	h := types.HexToHash("0xcafe")
	if err := ledger.Include(h, 1); err != nil {
		t.Fatalf("Include: %v", err)
	}

	caller := testAddr(0xca)
	now := int64(1 + DunkleMinAgeSeconds + 1)
	if err := verifier.RemoveOldDunkles(ledger, st, caller, []types.Hash{h}, now); err != nil {
		t.Fatalf("RemoveOldDunkles: %v", err)
	}

	callerBal, err := st.GetBalance(caller)
	if err != nil {
		t.Fatalf("GetBalance(caller): %v", err)
	}
	if callerBal.Cmp(wantPayout) != 0 {
		t.Fatalf("caller balance after removal = %s, want %s", callerBal, wantPayout)
	}
	if ts := ledger.TimestampOf(h); ts != 0 {
		t.Fatalf("ledger record survived removal: %d", ts)
	}

	// A too-young batch must be rejected and pay nothing.
	h2 := types.HexToHash("0xbeef")
	if err := ledger.Include(h2, now); err != nil {
		t.Fatalf("Include(h2): %v", err)
	}
	if err := verifier.RemoveOldDunkles(ledger, st, caller, []types.Hash{h2}, now+1); err != ErrDunkleTooYoung {
		t.Fatalf("RemoveOldDunkles(young) = %v, want ErrDunkleTooYoung", err)
	}
	callerBal2, err := st.GetBalance(caller)
	if err != nil {
		t.Fatalf("GetBalance(caller) after rejected removal: %v", err)
	}
	if callerBal2.Cmp(callerBal) != 0 {
		t.Fatalf("caller balance changed despite rejected removal: %s -> %s", callerBal, callerBal2)
	}
}

// chainedFixture extends depositFixture with the hash-chained randao
// preimages S3/S4 need: preimage0 is revealed by the accepted header,
// and preimage1 (whose hash equals preimage0) is revealed by the dunkle.
type chainedFixture struct {
	depositFixture
	config    *Config
	preimage0 [32]byte
	preimage1 [32]byte
}

// depositHashChainFixture is depositTwoAndAdvance, but with the small
// validator's randao commitment built as keccak256(keccak256(preimage1))
// so that preimage0 = keccak256(preimage1) can serve as the header's
// reveal and preimage1 can later serve as the dunkle's reveal against
// the post-acceptance stored_randao.
func depositHashChainFixture(t *testing.T) (fx chainedFixture, bSmall, slotSmall, bBig, slotBig int) {
	t.Helper()
	config := DefaultConfig()
	config.EpochLength = 5
	config.GenesisTimestamp = 0
	fx.config = config

	fx.st = state.NewInMemory(state.DefaultChainConfig())
	fx.registry = NewRegistry(config, testAddr(0xc2))
	fx.epochs = NewEpochManager(config)
	fx.selector = NewSelector(fx.registry, fx.epochs)

	fx.preimage1 = [32]byte{0x01}
	var p0 [32]byte
	copy(p0[:], crypto.Keccak256(fx.preimage1[:]))
	fx.preimage0 = p0
	commitment := crypto.Keccak256Hash(fx.preimage0[:])

	from1 := testAddr(0x01)
	from2 := testAddr(0x02)
	if err := fx.st.SetBalance(from1, BucketSize(0)); err != nil {
		t.Fatalf("fund from1: %v", err)
	}
	if err := fx.st.SetBalance(from2, BucketSize(1)); err != nil {
		t.Fatalf("fund from2: %v", err)
	}

	var err error
	bSmall, slotSmall, err = fx.registry.Deposit(fx.st, fx.epochs, from1, BucketSize(0), []byte("validator-A"), commitment)
	if err != nil {
		t.Fatalf("Deposit(64): %v", err)
	}
	bBig, slotBig, err = fx.registry.Deposit(fx.st, fx.epochs, from2, BucketSize(1), []byte("validator-B"), commitment)
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
