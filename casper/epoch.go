// epoch.go tracks per-epoch snapshots of the validator set: live bucket
// counts at the moment an epoch rolled over, the running total of
// deposits, and the pending deltas that newEpoch folds in. Grounded in
// style on consensus/epoch_manager.go's history-keyed registry shape;
// the committee/slot bookkeeping it does is replaced here with the
// deposit-bucket bookkeeping spec.md §4.F describes.
package casper

import (
	"sync"

	"github.com/holiman/uint256"
)

// EpochSnapshot is the historical record newEpoch writes once per
// epoch boundary: the live bucket counts and total deposits as they
// stood once the epoch's pending deltas were applied.
type EpochSnapshot struct {
	ValidatorCounts [NumBuckets]uint64
	TotalDeposits   *uint256.Int
}

// EpochManager owns current_epoch, total_skips, and the epoch-indexed
// history (historical_validator_counts, historical_total_deposits,
// total_deposit_deltas) spec.md §3 lists under "Epoch snapshots".
type EpochManager struct {
	mu sync.RWMutex

	config *Config

	currentEpoch uint64
	totalSkips   uint64

	totalDeposits *uint256.Int
	deltas        map[uint64]*uint256.Int
	history       map[uint64]EpochSnapshot
}

// NewEpochManager creates an EpochManager starting at epoch 0 with zero
// total deposits.
func NewEpochManager(config *Config) *EpochManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &EpochManager{
		config:        config,
		totalDeposits: new(uint256.Int),
		deltas:        make(map[uint64]*uint256.Int),
		history:       make(map[uint64]EpochSnapshot),
	}
}

// CurrentEpoch returns the current epoch number.
func (em *EpochManager) CurrentEpoch() uint64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.currentEpoch
}

// TotalSkips returns the cumulative proposer skip count.
func (em *EpochManager) TotalSkips() uint64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.totalSkips
}

// TotalDeposits returns the live total_deposits value.
func (em *EpochManager) TotalDeposits() *uint256.Int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return new(uint256.Int).Set(em.totalDeposits)
}

// AddSkips folds skips into total_skips, as the header verifier's step 6
// does on every accepted header.
func (em *EpochManager) AddSkips(skips uint64) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.totalSkips += skips
}

// AddDelta implements total_deposit_deltas[epoch] += v (or -= v when v
// is negative-signed by the caller via SubDelta). Used by deposit() and
// startWithdrawal().
func (em *EpochManager) AddDelta(epoch uint64, v *uint256.Int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.addDeltaLocked(epoch, v)
}

func (em *EpochManager) addDeltaLocked(epoch uint64, v *uint256.Int) {
	cur, ok := em.deltas[epoch]
	if !ok {
		cur = new(uint256.Int)
	}
	em.deltas[epoch] = new(uint256.Int).Add(cur, v)
}

// SubDelta implements total_deposit_deltas[epoch] -= v, used by
// startWithdrawal to reserve the bucket size for removal at end_epoch.
func (em *EpochManager) SubDelta(epoch uint64, v *uint256.Int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	cur, ok := em.deltas[epoch]
	if !ok {
		cur = new(uint256.Int)
	}
	em.deltas[epoch] = new(uint256.Int).Sub(cur, v)
}

// NewEpoch implements spec.md §4.F newEpoch(): rejects unless called
// exactly at the one epoch boundary it is due for, snapshots the live
// bucket counts, folds in the epoch's pending delta, and advances
// current_epoch. counts is the registry's live validator_counts at
// call time.
func (em *EpochManager) NewEpoch(blockNumber uint64, counts [NumBuckets]uint64) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.config.EpochLength == 0 || blockNumber/em.config.EpochLength == 0 {
		return ErrWrongEpoch
	}
	expected := blockNumber/em.config.EpochLength - 1
	if expected != em.currentEpoch {
		return ErrWrongEpoch
	}

	e := em.currentEpoch
	if delta, ok := em.deltas[e]; ok {
		em.totalDeposits = new(uint256.Int).Add(em.totalDeposits, delta)
	}

	em.history[e] = EpochSnapshot{
		ValidatorCounts: counts,
		TotalDeposits:   new(uint256.Int).Set(em.totalDeposits),
	}
	em.currentEpoch = e + 1
	return nil
}

// epochManagerSnapshot is an independent deep copy of every field
// NewEpoch/AddSkips/AddDelta/SubDelta can touch.
type epochManagerSnapshot struct {
	currentEpoch  uint64
	totalSkips    uint64
	totalDeposits *uint256.Int
	deltas        map[uint64]*uint256.Int
	history       map[uint64]EpochSnapshot
}

// snapshot returns an independent deep copy of the manager's state,
// aliasing nothing live: VerifyHeader pairs it with restore to undo a
// mutating sequence that fails partway through, and Engine.Clone uses
// it to seed an independent EpochManager for speculative execution.
func (em *EpochManager) snapshot() epochManagerSnapshot {
	em.mu.RLock()
	defer em.mu.RUnlock()
	deltas := make(map[uint64]*uint256.Int, len(em.deltas))
	for k, v := range em.deltas {
		deltas[k] = new(uint256.Int).Set(v)
	}
	history := make(map[uint64]EpochSnapshot, len(em.history))
	for k, v := range em.history {
		history[k] = EpochSnapshot{ValidatorCounts: v.ValidatorCounts, TotalDeposits: new(uint256.Int).Set(v.TotalDeposits)}
	}
	return epochManagerSnapshot{
		currentEpoch:  em.currentEpoch,
		totalSkips:    em.totalSkips,
		totalDeposits: new(uint256.Int).Set(em.totalDeposits),
		deltas:        deltas,
		history:       history,
	}
}

// restore replaces the manager's state with snap, undoing any mutation
// made since the paired snapshot call.
func (em *EpochManager) restore(snap epochManagerSnapshot) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.currentEpoch = snap.currentEpoch
	em.totalSkips = snap.totalSkips
	em.totalDeposits = snap.totalDeposits
	em.deltas = snap.deltas
	em.history = snap.history
}

// clone returns an EpochManager with its own independent copy of every
// field, for Engine.Clone.
func (em *EpochManager) clone() *EpochManager {
	snap := em.snapshot()
	return &EpochManager{
		config:        em.config,
		currentEpoch:  snap.currentEpoch,
		totalSkips:    snap.totalSkips,
		totalDeposits: snap.totalDeposits,
		deltas:        snap.deltas,
		history:       snap.history,
	}
}

// HistoricalValidatorCount implements the original contract's
// getHistoricalValidatorCount(epoch, bucket) accessor.
func (em *EpochManager) HistoricalValidatorCount(epoch uint64, bucket int) uint64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	snap, ok := em.history[epoch]
	if !ok || bucket < 0 || bucket >= NumBuckets {
		return 0
	}
	return snap.ValidatorCounts[bucket]
}

// HistoricalTotalDeposits implements the original contract's
// getHistoricalTotalDeposits(epoch) accessor.
func (em *EpochManager) HistoricalTotalDeposits(epoch uint64) *uint256.Int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	snap, ok := em.history[epoch]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(snap.TotalDeposits)
}

// HistoricalCounts returns the full bucket-count snapshot for epoch, and
// whether one was ever recorded.
func (em *EpochManager) HistoricalCounts(epoch uint64) ([NumBuckets]uint64, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()
	snap, ok := em.history[epoch]
	return snap.ValidatorCounts, ok
}

// GetEpochLength returns the configured epoch length, mirroring the
// original contract's getEpochLength() query.
func (em *EpochManager) GetEpochLength() uint64 {
	return em.config.EpochLength
}
