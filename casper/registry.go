// registry.go implements the validator-set half of the Casper contract:
// deposits into twelve fixed-size buckets, slot free-lists for retired
// validators, and the withdrawal lifecycle. Grounded in style on
// consensus/validator_registry_v2.go's mutex-guarded registry shape
// (Config/DefaultConfig pair, sentinel Err... vars, Stats() summary),
// replaced in semantics with the bucket/slot deposit model spec.md §3/§4.E
// describes. Deposits and withdrawals move real value: every call takes
// a *state.State and transfers through it, so the registry's bookkeeping
// and the account trie never disagree about where the ether is.
package casper

import (
	"sync"

	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/metrics"
	"github.com/holiman/uint256"
)

// Validator is the per-(bucket,slot) record spec.md §3 describes.
type Validator struct {
	ValidationCode []byte
	Address        types.Address
	StartEpoch     uint64
	EndEpoch       uint64
	Deposit        *uint256.Int
	Randao         types.Hash
	LockDuration   uint64
	Active         bool
}

// IsLive reports whether the validator is live at the given epoch:
// start_epoch <= epoch < end_epoch.
func (v *Validator) IsLive(epoch uint64) bool {
	return v.Active && v.StartEpoch <= epoch && epoch < v.EndEpoch
}

// bucket holds one deposit-size bucket's validator slots and free list.
type bucket struct {
	slots    []*Validator // nil entries are retired and await reuse
	freeList []int        // LIFO stack of retired slot indices
}

// Registry is the validator-set half of the Casper contract: twelve
// fixed-size deposit buckets with slot reuse, guarded by a single
// RWMutex (matching the teacher's ValidatorRegistryV2 — this also
// guards concurrent RPC-style queries like Stats running alongside
// block processing, even though block processing itself is
// single-threaded per spec.md §5).
type Registry struct {
	mu sync.RWMutex

	config          *Config
	contractAddress types.Address
	buckets         [NumBuckets]*bucket

	log *log.Logger
}

// NewRegistry creates an empty Registry whose deposits accumulate at
// contractAddress — the Casper contract's own account.
func NewRegistry(config *Config, contractAddress types.Address) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Registry{
		config:          config,
		contractAddress: contractAddress,
		log:             log.Default().Module("casper"),
	}
	for i := range r.buckets {
		r.buckets[i] = &bucket{}
	}
	return r
}

// ContractAddress returns the address deposits accumulate at.
func (r *Registry) ContractAddress() types.Address {
	return r.contractAddress
}

// Counts returns the live validator_counts[bucket] snapshot, for
// EpochManager.NewEpoch to record.
func (r *Registry) Counts() [NumBuckets]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out [NumBuckets]uint64
	for b, bk := range r.buckets {
		out[b] = uint64(len(bk.slots))
	}
	return out
}

// Deposit implements spec.md §4.E deposit(validation_code,
// randao_commitment) with attached value v: it transfers v from `from`
// to the contract address via st, assigns a bucket/slot (reusing a
// retired slot if one is free), and schedules the deposit into
// total_deposit_deltas[start_epoch] via em.
func (r *Registry) Deposit(st *state.State, em *EpochManager, from types.Address, v *uint256.Int, validationCode []byte, randaoCommitment types.Hash) (b int, slot int, err error) {
	b, ok := BucketForDeposit(v)
	if !ok {
		return 0, 0, ErrUnknownBucket
	}

	ok, err = st.TransferValue(from, r.contractAddress, v)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrRequireFailed
	}

	r.mu.Lock()
	bk := r.buckets[b]
	if n := len(bk.freeList); n > 0 {
		slot = bk.freeList[n-1]
		bk.freeList = bk.freeList[:n-1]
	} else {
		slot = len(bk.slots)
		bk.slots = append(bk.slots, nil)
	}

	startEpoch := em.CurrentEpoch() + 1
	val := &Validator{
		ValidationCode: append([]byte(nil), validationCode...),
		Address:        from,
		StartEpoch:     startEpoch,
		EndEpoch:       NoEndEpoch,
		Deposit:        new(uint256.Int).Set(v),
		Randao:         randaoCommitment,
		LockDuration:   r.getLockDurationLocked(em),
		Active:         true,
	}
	bk.slots[slot] = val
	r.mu.Unlock()

	em.AddDelta(startEpoch, v)
	metrics.CasperValidatorsAdmitted.Inc()
	r.log.Info("validator admitted", "bucket", b, "slot", slot, "address", from.Hex())
	return b, slot, nil
}

// Get returns a copy of the validator at (b, slot), or ok=false.
func (r *Registry) Get(b, slot int) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return Validator{}, false
	}
	cp := *v
	cp.Deposit = new(uint256.Int).Set(v.Deposit)
	return cp, true
}

func (r *Registry) lookupLocked(b, slot int) *Validator {
	if b < 0 || b >= NumBuckets {
		return nil
	}
	bk := r.buckets[b]
	if slot < 0 || slot >= len(bk.slots) {
		return nil
	}
	return bk.slots[slot]
}

// ValidationCode implements the original contract's getValidationCode(i,j).
func (r *Registry) ValidationCode(b, slot int) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return nil
	}
	return append([]byte(nil), v.ValidationCode...)
}

// Randao implements the original contract's getRandao(i,j).
func (r *Registry) Randao(b, slot int) types.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return types.Hash{}
	}
	return v.Randao
}

// StartEpochOf implements the original contract's getStartEpoch(i,j).
func (r *Registry) StartEpochOf(b, slot int) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return 0
	}
	return v.StartEpoch
}

// EndEpochOf implements the original contract's getEndEpoch(i,j).
func (r *Registry) EndEpochOf(b, slot int) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return 0
	}
	return v.EndEpoch
}

// AddReward credits deposit[b][slot] by delta, or debits it by delta
// when negative is true (clamping at zero), as the dunkle penalty path
// requires.
func (r *Registry) AddReward(b, slot int, delta *uint256.Int, negative bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return ErrSlotNotFound
	}
	if negative {
		if v.Deposit.Lt(delta) {
			v.Deposit.Clear()
		} else {
			v.Deposit.Sub(v.Deposit, delta)
		}
	} else {
		v.Deposit.Add(v.Deposit, delta)
	}
	return nil
}

// SetRandao updates stored_randao[i][j], the header verifier's step 6.
func (r *Registry) SetRandao(b, slot int, h types.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		return ErrSlotNotFound
	}
	v.Randao = h
	return nil
}

// StartWithdrawal implements spec.md's startWithdrawal(i, j, sig) once
// the caller has already verified sig against the validator's
// validation code: it sets end_epoch = current_epoch + 2 (once, if not
// already exiting) and reserves the bucket size for removal at that
// epoch.
func (r *Registry) StartWithdrawal(em *EpochManager, b, slot int) error {
	r.mu.Lock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		r.mu.Unlock()
		return ErrSlotNotFound
	}
	if v.EndEpoch != NoEndEpoch {
		r.mu.Unlock()
		return ErrAlreadyWithdrawing
	}
	endEpoch := em.CurrentEpoch() + 2
	v.EndEpoch = endEpoch
	r.mu.Unlock()

	em.SubDelta(endEpoch, BucketSize(b))
	return nil
}

// Withdraw implements spec.md's withdraw(i, j): iff
// end_epoch*epoch_length + lock_duration < timestamp, it transfers the
// validator's deposit back to its address, zeroes the deposit, and
// frees the slot for reuse.
func (r *Registry) Withdraw(st *state.State, b, slot int, timestamp uint64) error {
	r.mu.Lock()
	v := r.lookupLocked(b, slot)
	if v == nil {
		r.mu.Unlock()
		return ErrSlotNotFound
	}
	if v.EndEpoch == NoEndEpoch {
		r.mu.Unlock()
		return ErrNotExiting
	}
	threshold := v.EndEpoch*r.config.EpochLength + v.LockDuration
	if threshold >= timestamp {
		r.mu.Unlock()
		return ErrLockNotExpired
	}
	amount := new(uint256.Int).Set(v.Deposit)
	addr := v.Address
	r.mu.Unlock()

	ok, err := st.TransferValue(r.contractAddress, addr, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRequireFailed
	}

	r.mu.Lock()
	v = r.lookupLocked(b, slot)
	if v != nil {
		v.Deposit = new(uint256.Int)
		v.Active = false
	}
	bk := r.buckets[b]
	bk.slots[slot] = nil
	bk.freeList = append(bk.freeList, slot)
	r.mu.Unlock()
	return nil
}

// snapshot returns an independent deep copy of every bucket, aliasing
// nothing in the live Registry: VerifyHeader/IncludeDunkle pair it with
// restore to undo a mutating sequence that fails partway through, and
// Engine.Clone uses it to seed an independent Registry for speculative
// execution alongside state.State.EphemeralClone.
func (r *Registry) snapshot() [NumBuckets]*bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out [NumBuckets]*bucket
	for b, bk := range r.buckets {
		nb := &bucket{
			slots:    make([]*Validator, len(bk.slots)),
			freeList: append([]int(nil), bk.freeList...),
		}
		for i, v := range bk.slots {
			if v == nil {
				continue
			}
			cp := *v
			cp.Deposit = new(uint256.Int).Set(v.Deposit)
			cp.ValidationCode = append([]byte(nil), v.ValidationCode...)
			nb.slots[i] = &cp
		}
		out[b] = nb
	}
	return out
}

// restore replaces every bucket's contents with snap, undoing any
// mutation made since the paired snapshot call.
func (r *Registry) restore(snap [NumBuckets]*bucket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets = snap
}

// clone returns a Registry with its own independent copy of every
// bucket, for Engine.Clone.
func (r *Registry) clone() *Registry {
	return &Registry{
		config:          r.config,
		contractAddress: r.contractAddress,
		buckets:         r.snapshot(),
		log:             r.log,
	}
}

// GetBlockReward implements spec.md §4.G's reward formula:
// max(total_deposits, MinRewardBase) * BLOCK_MAKING_PPB / 10^9.
func (r *Registry) GetBlockReward(em *EpochManager) *uint256.Int {
	total := em.TotalDeposits()
	base := total
	if base.Lt(MinRewardBase) {
		base = MinRewardBase
	}
	reward := new(uint256.Int).Mul(base, uint256.NewInt(BlockMakingPPB))
	return reward.Div(reward, uint256.NewInt(1_000_000_000))
}

// GetLockDuration implements spec.md §4.G's lock_duration formula:
// clamp(total_deposits / (2*10^18), 2*epoch_length, 10^7).
func (r *Registry) GetLockDuration(em *EpochManager) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLockDurationLocked(em)
}

func (r *Registry) getLockDurationLocked(em *EpochManager) uint64 {
	total := em.TotalDeposits()
	divisor := new(uint256.Int).Mul(uint256.NewInt(2), uint256.NewInt(1_000_000_000_000_000_000))
	raw := new(uint256.Int).Div(total, divisor).Uint64()

	min := 2 * r.config.EpochLength
	const max = 10_000_000
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}

// GetEpochLength returns the configured epoch length (the original
// contract's getEpochLength(), also exposed on EpochManager).
func (r *Registry) GetEpochLength() uint64 {
	return r.config.EpochLength
}

// Stats is a point-in-time summary of the registry, for monitoring.
type Stats struct {
	LiveValidators [NumBuckets]int
	FreeSlots      [NumBuckets]int
}

// Stats returns a snapshot of per-bucket live/free slot counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	for b, bk := range r.buckets {
		s.FreeSlots[b] = len(bk.freeList)
		live := 0
		for _, v := range bk.slots {
			if v != nil {
				live++
			}
		}
		s.LiveValidators[b] = live
	}
	return s
}
