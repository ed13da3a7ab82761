// header.go implements the Casper contract's main entry point: block
// header verification. Grounded in control-flow shape on
// consensus/header_validator.go's ValidateHeader (extract fields, run a
// fixed ordered sequence of checks, return the first failure), replaced
// in semantics with spec.md §4.H's seven-step PoS algorithm instead of
// parent-linkage/gas-limit checks.
package casper

import (
	"math/big"
	"time"

	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/metrics"
	"github.com/holiman/uint256"
)

// posDifficulty is the literal difficulty value PoS headers carry,
// distinguishing them from PoW headers per spec.md §4.H step 2.
var posDifficulty = big.NewInt(1)

// HeaderVerifier runs spec.md §4.H's seven-step header acceptance
// algorithm against a Registry/EpochManager/Selector/DunkleLedger and a
// State to mutate.
type HeaderVerifier struct {
	config   *Config
	registry *Registry
	epochs   *EpochManager
	selector *Selector
	sandbox  ValidationSandbox
	log      *log.Logger
}

// NewHeaderVerifier wires a HeaderVerifier over the given components.
func NewHeaderVerifier(config *Config, registry *Registry, epochs *EpochManager, selector *Selector, sandbox ValidationSandbox) *HeaderVerifier {
	if sandbox == nil {
		sandbox = HMACValidationCode{}
	}
	return &HeaderVerifier{
		config:   config,
		registry: registry,
		epochs:   epochs,
		selector: selector,
		sandbox:  sandbox,
		log:      log.Default().Module("casper"),
	}
}

// VerifyHeader implements spec.md §4.H. header.Extra carries the
// ExtraData prefix + signature tail; on success st's Casper-contract
// account is credited with the newly issued block_reward (mint, not a
// transfer, since PoS rewards are issued rather than moved from a
// payer) and the registry/epoch manager are mutated to match.
func (hv *HeaderVerifier) VerifyHeader(st *state.State, header *types.Header) error {
	start := time.Now()

	ed, err := ParseExtraData(header.Extra)
	if err != nil {
		return err
	}

	blockNumber := uint64(0)
	if header.Number != nil {
		blockNumber = header.Number.Uint64()
	}

	minTs := hv.config.MinTimestamp(blockNumber, hv.epochs.TotalSkips(), ed.Skips)
	if header.Time < minTs {
		return ErrInvalidTimestamp
	}
	if header.Difficulty == nil || header.Difficulty.Cmp(posDifficulty) != 0 {
		return ErrInvalidDifficulty
	}

	b, slot, err := hv.selector.Pick(ed.Skips)
	if err != nil {
		return err
	}
	if b != ed.Bucket || slot != ed.Slot {
		return ErrInvalidProposer
	}

	committed := hv.registry.Randao(b, slot)
	if crypto.Keccak256Hash(ed.RandaoReveal[:]) != committed {
		return ErrInvalidRandao
	}

	validationCode := hv.registry.ValidationCode(b, slot)
	signingHash, err := sealHash(header)
	if err != nil {
		return err
	}
	ok, err := hv.sandbox.Verify(validationCode, signingHash, ed.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}

	// Everything from here on mutates st, the registry, the epoch
	// manager and the selector's RANDAO accumulator together, and the
	// last of them (NewEpoch) can still fail on a malformed block
	// number. Snapshot all four first so that failure undoes the whole
	// sequence instead of leaving the earlier mutations applied with no
	// paired state-store change to match them.
	stSnap := st.TakeSnapshot()
	regSnap := hv.registry.snapshot()
	epochSnap := hv.epochs.snapshot()
	randaoSnap := hv.selector.snapshot()
	if err := hv.applyHeader(st, b, slot, ed, blockNumber); err != nil {
		if rerr := st.Revert(stSnap); rerr != nil {
			hv.log.Error("state revert after rejected header", "err", rerr)
		}
		hv.registry.restore(regSnap)
		hv.epochs.restore(epochSnap)
		hv.selector.restore(randaoSnap)
		return err
	}

	metrics.CasperHeaderVerifyTime.Observe(float64(time.Since(start).Microseconds()))
	metrics.CasperTotalDeposits.Set(int64(hv.epochs.TotalDeposits().Uint64()))
	metrics.CasperCurrentEpoch.Set(int64(hv.epochs.CurrentEpoch()))
	metrics.CasperTotalSkips.Set(int64(hv.epochs.TotalSkips()))
	hv.log.Info("header accepted", "bucket", b, "slot", slot, "block", blockNumber)
	return nil
}

// applyHeader runs VerifyHeader's mutating tail once every check has
// already passed: update stored_randao, mix the RANDAO accumulator,
// mint and credit the block reward, fold in skips, and roll the epoch
// over if this block is due for one.
func (hv *HeaderVerifier) applyHeader(st *state.State, b, slot int, ed ExtraData, blockNumber uint64) error {
	if err := hv.registry.SetRandao(b, slot, ed.RandaoReveal); err != nil {
		return err
	}
	hv.selector.MixRandao(ed.RandaoReveal)
	reward := hv.registry.GetBlockReward(hv.epochs)
	if err := hv.mintReward(st, b, slot, reward); err != nil {
		return err
	}
	hv.epochs.AddSkips(ed.Skips)

	if hv.config.EpochLength != 0 && blockNumber%hv.config.EpochLength == 0 {
		if err := hv.epochs.NewEpoch(blockNumber, hv.registry.Counts()); err != nil {
			return err
		}
	}
	return nil
}

// sealHash computes the hash validation_code signs over: the header
// RLP-encoded with Extra truncated to its fixed 128-byte prefix, so the
// signature tail that follows the prefix is never part of what it
// covers. Mirrors the common seal-hash idiom (hash the header sans its
// own seal) rather than the original contract's dedicated
// signing-hash precompile, which this codebase has no equivalent of.
func sealHash(header *types.Header) ([32]byte, error) {
	if len(header.Extra) < ExtraDataPrefixLen {
		return [32]byte{}, ErrInvalidHeader
	}
	stripped := *header
	stripped.Extra = header.Extra[:ExtraDataPrefixLen]
	enc, err := stripped.EncodeRLP()
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], crypto.Keccak256(enc))
	return out, nil
}

// withdrawalMessage is the fixed message startWithdrawal's signature
// covers, carried verbatim from the original contract's
// sha3("withdrawwithdrawwithdrawwithdraw").
var withdrawalMessage = crypto.Keccak256Hash([]byte("withdrawwithdrawwithdrawwithdraw"))

// StartWithdrawal implements spec.md's startWithdrawal(i, j, sig): it
// verifies sig against the validator's validation code over the fixed
// withdrawal message, then delegates the end_epoch/delta bookkeeping to
// Registry.StartWithdrawal.
func (hv *HeaderVerifier) StartWithdrawal(b, slot int, sig []byte) error {
	validationCode := hv.registry.ValidationCode(b, slot)
	if validationCode == nil {
		return ErrSlotNotFound
	}
	ok, err := hv.sandbox.Verify(validationCode, withdrawalMessage, sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return hv.registry.StartWithdrawal(hv.epochs, b, slot)
}

// mintReward credits the Casper contract's account with reward: PoS
// block rewards are issued by the protocol rather than transferred from
// a payer, so this adds directly to the contract's world-state balance
// instead of going through State.TransferValue, then mirrors the change
// into the registry's per-validator deposit bookkeeping.
func (hv *HeaderVerifier) mintReward(st *state.State, b, slot int, reward *uint256.Int) error {
	bal, err := st.GetBalance(hv.registry.ContractAddress())
	if err != nil {
		return err
	}
	newBal := new(uint256.Int).Add(bal, reward)
	if err := st.SetBalance(hv.registry.ContractAddress(), newBal); err != nil {
		return err
	}
	return hv.registry.AddReward(b, slot, reward, false)
}

// IncludeDunkle implements spec.md §4.I includeDunkle(raw_header): it
// runs the same signature/proposer checks as VerifyHeader against a
// non-canonical header, then requires the hash be unseen, distinct from
// the canonical hash at that height, and older than the current block.
func (hv *HeaderVerifier) IncludeDunkle(ledger *DunkleLedger, header *types.Header, canonicalHash types.Hash, currentBlockNumber uint64, now int64) error {
	ed, err := ParseExtraData(header.Extra)
	if err != nil {
		return err
	}

	b, slot, err := hv.selector.Pick(ed.Skips)
	if err != nil {
		return err
	}
	if b != ed.Bucket || slot != ed.Slot {
		return ErrInvalidProposer
	}
	committed := hv.registry.Randao(b, slot)
	if crypto.Keccak256Hash(ed.RandaoReveal[:]) != committed {
		return ErrInvalidRandao
	}
	validationCode := hv.registry.ValidationCode(b, slot)
	signingHash, err := sealHash(header)
	if err != nil {
		return err
	}
	ok, err := hv.sandbox.Verify(validationCode, signingHash, ed.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}

	h := header.Hash()
	if h == canonicalHash {
		return ErrDunkleCanonical
	}
	blockNumber := uint64(0)
	if header.Number != nil {
		blockNumber = header.Number.Uint64()
	}
	if blockNumber >= currentBlockNumber {
		return ErrDunkleNotOlder
	}

	ledgerSnap := ledger.snapshot()
	if err := ledger.Include(h, now); err != nil {
		return err
	}

	// deposit[i][j] -= block_reward - 1, per spec.md §4.I.
	penalty := new(uint256.Int).Sub(hv.registry.GetBlockReward(hv.epochs), uint256.NewInt(1))
	if err := hv.registry.AddReward(b, slot, penalty, true); err != nil {
		ledger.restore(ledgerSnap)
		return err
	}
	metrics.CasperDunklesIncluded.Inc()
	hv.log.Info("dunkle included", "hash", h.Hex(), "bucket", b, "slot", slot)
	return nil
}

// RemoveOldDunkles implements spec.md §4.I removeOldDunkleRecords(hashes):
// it clears every hash in ledger once each has aged past
// DunkleMinAgeSeconds, then pays BLOCK_REWARD*len(hashes)/
// DunkleRewardDivisor to caller. Mirrors the original contract's
// send(msg.sender, BLOCK_REWARD*len(hashes)/250) — a real transfer out
// of the contract's own balance via st.TransferValue, not a mint, since
// this reward comes out of value the contract already holds rather
// than being issued fresh the way a block reward is.
func (hv *HeaderVerifier) RemoveOldDunkles(ledger *DunkleLedger, st *state.State, caller types.Address, hashes []types.Hash, now int64) error {
	n, err := ledger.RemoveOld(hashes, now)
	if err != nil {
		return err
	}

	reward := hv.registry.GetBlockReward(hv.epochs)
	payout := new(uint256.Int).Mul(reward, uint256.NewInt(uint64(n)))
	payout.Div(payout, uint256.NewInt(DunkleRewardDivisor))

	ok, err := st.TransferValue(hv.registry.ContractAddress(), caller, payout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRequireFailed
	}
	metrics.CasperDunklesRemoved.Add(int64(n))
	hv.log.Info("old dunkles removed", "count", n, "caller", caller.Hex(), "payout", payout.String())
	return nil
}
