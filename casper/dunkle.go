// dunkle.go implements the dunkle ledger: a deduplicated record of
// penalised, non-canonical headers. Grounded in style on the teacher's
// small mutex-guarded registries (consensus/checkpoint_store.go).
package casper

import (
	"sync"

	"github.com/eth2030/eth2030/core/types"
)

// DunkleLedger is a map[hash]timestamp of included dunkles guarded by a
// single mutex, per spec.md §3: "dunkles: H256 -> timestamp of
// inclusion; a key is alive while its value is non-zero".
type DunkleLedger struct {
	mu      sync.Mutex
	records map[types.Hash]int64
}

// NewDunkleLedger creates an empty ledger.
func NewDunkleLedger() *DunkleLedger {
	return &DunkleLedger{records: make(map[types.Hash]int64)}
}

// Include implements spec.md §4.I includeDunkle's bookkeeping once the
// caller has already verified the header's signature/proposer shape:
// requires an unseen hash and records it at timestamp.
func (d *DunkleLedger) Include(h types.Hash, timestamp int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.records[h]; ok && t != 0 {
		return ErrDuplicateDunkle
	}
	d.records[h] = timestamp
	return nil
}

// TimestampOf returns the recorded inclusion timestamp for h, or 0 if
// h has never been included (or has since been removed).
func (d *DunkleLedger) TimestampOf(h types.Hash) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records[h]
}

// RemoveOld implements spec.md §4.I removeOldDunkleRecords(hashes):
// requires every hash be present and more than DunkleMinAgeSeconds old
// as of now, then clears them. Returns the count removed (== len(hashes)
// on success) for the caller to compute the BLOCK_REWARD*len/250 payout.
func (d *DunkleLedger) RemoveOld(hashes []types.Hash, now int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range hashes {
		t, ok := d.records[h]
		if !ok || t == 0 {
			return 0, ErrRequireFailed
		}
		if now-t <= DunkleMinAgeSeconds {
			return 0, ErrDunkleTooYoung
		}
	}
	for _, h := range hashes {
		delete(d.records, h)
	}
	return len(hashes), nil
}

// snapshot returns an independent deep copy of the ledger's records,
// aliasing nothing live: IncludeDunkle pairs it with restore to undo
// Include when the reward/penalty step that follows it fails, and
// Engine.Clone uses it to seed an independent DunkleLedger.
func (d *DunkleLedger) snapshot() map[types.Hash]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make(map[types.Hash]int64, len(d.records))
	for k, v := range d.records {
		cp[k] = v
	}
	return cp
}

// restore replaces the ledger's records with snap, undoing any
// mutation made since the paired snapshot call.
func (d *DunkleLedger) restore(snap map[types.Hash]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = snap
}

// clone returns a DunkleLedger with its own independent copy of every
// record, for Engine.Clone.
func (d *DunkleLedger) clone() *DunkleLedger {
	return &DunkleLedger{records: d.snapshot()}
}

// Len returns the number of currently live dunkle records.
func (d *DunkleLedger) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}
