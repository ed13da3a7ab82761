// selector.go implements deposit-weighted proposer selection: a
// deterministic hash walk over the live validator buckets, weighted by
// each bucket's total stake. Grounded on consensus/proposer_election.go's
// selector shape and consensus/randao.go's hash-and-walk pattern
// (ComputeShuffledIndexRandao's per-round pivot hash), generalized here
// to a single weighted bucket walk instead of committee shuffling.
package casper

import (
	"sync"

	"github.com/eth2030/eth2030/crypto"
	"github.com/holiman/uint256"
)

// Selector picks the proposer for a slot from the registry's live
// validator set, using the epoch manager's historical snapshots and a
// running RANDAO accumulator.
type Selector struct {
	mu           sync.RWMutex
	registry     *Registry
	epochs       *EpochManager
	globalRandao uint256.Int
}

// NewSelector creates a Selector over registry and epochs, with a zero
// initial RANDAO accumulator.
func NewSelector(registry *Registry, epochs *EpochManager) *Selector {
	return &Selector{registry: registry, epochs: epochs}
}

// GlobalRandao returns the current mixed RANDAO accumulator.
func (s *Selector) GlobalRandao() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalRandao.Bytes32()
}

// MixRandao folds a revealed preimage into the accumulator via additive
// mixing mod 2^256 — global_randao += reveal — kept verbatim from the
// original contract's self.randao += sigdata[0] rather than XORed, per
// the Open Question resolved in favor of preserving the original
// formula unless a deliberate consensus change is being made.
func (s *Selector) MixRandao(reveal [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r uint256.Int
	r.SetBytes32(reveal[:])
	s.globalRandao.Add(&s.globalRandao, &r)
}

// snapshot returns the current RANDAO accumulator value, for
// VerifyHeader to pair with restore and undo MixRandao when a later
// step in the same header acceptance fails, or for Engine.Clone to
// seed an independent Selector.
func (s *Selector) snapshot() uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalRandao
}

// restore replaces the RANDAO accumulator with snap, undoing any
// mutation made since the paired snapshot call.
func (s *Selector) restore(snap uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalRandao = snap
}

// Pick implements spec.md §4.E getValidator(skips): walks the live
// validator buckets at epoch = max(0, current_epoch-1), weighted by
// each bucket's deposit size, landing on the validator whose cumulative
// weight range contains x = keccak256(randao || skips) mod
// historical_total_deposits[epoch]. If the landed validator is not live,
// it rehashes with an incrementing retry counter
// (x' = keccak256(randao || skips || retry)) rather than replaying the
// original's ambiguous same-x retry loop — a documented deviation (see
// DESIGN.md), bounded by MaxProposerRetries.
func (s *Selector) Pick(skips uint64) (bucket int, slot int, err error) {
	s.mu.RLock()
	randao := s.globalRandao.Bytes32()
	s.mu.RUnlock()

	epoch := uint64(0)
	if cur := s.epochs.CurrentEpoch(); cur > 0 {
		epoch = cur - 1
	}

	total := s.epochs.HistoricalTotalDeposits(epoch)
	if total.IsZero() {
		return 0, 0, ErrNoLiveValidator
	}
	counts, ok := s.epochs.HistoricalCounts(epoch)
	if !ok {
		return 0, 0, ErrNoLiveValidator
	}

	skipsB := uint256.NewInt(skips).Bytes32()

	for retry := 0; retry < MaxProposerRetries; retry++ {
		var x uint256.Int
		if retry == 0 {
			x.SetBytes(crypto.Keccak256(randao[:], skipsB[:]))
		} else {
			retryB := uint256.NewInt(uint64(retry)).Bytes32()
			x.SetBytes(crypto.Keccak256(randao[:], skipsB[:], retryB[:]))
		}
		x.Mod(&x, total)

		b, sl, ok := walkBuckets(&x, counts)
		if !ok {
			continue
		}
		v, found := s.registry.Get(b, sl)
		if found && v.IsLive(epoch) {
			return b, sl, nil
		}
	}
	return 0, 0, ErrNoLiveValidator
}

// walkBuckets finds the bucket whose cumulative deposit-weight range
// contains x, per spec.md §4.E: walk buckets in order, and where
// x < counts[b]*size[b], slot = x / size[b]; else subtract that weight
// and continue.
func walkBuckets(x *uint256.Int, counts [NumBuckets]uint64) (bucket, slot int, ok bool) {
	remaining := new(uint256.Int).Set(x)
	for b := 0; b < NumBuckets; b++ {
		if counts[b] == 0 {
			continue
		}
		size := BucketSize(b)
		weight := new(uint256.Int).Mul(size, uint256.NewInt(counts[b]))
		if remaining.Lt(weight) {
			sl := new(uint256.Int).Div(remaining, size)
			return b, int(sl.Uint64()), true
		}
		remaining.Sub(remaining, weight)
	}
	return 0, 0, false
}
