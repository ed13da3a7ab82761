package state

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
)

// journalEntry is the single reversible-mutation shape the state engine
// uses for every cache write, regardless of which field changed. This
// collapses what would otherwise be one typed entry per field (balance,
// nonce, code, storage, ...) into one generic record, per the journal
// granularity design note: "each mutation produces one journal entry
// (addr, key, preval, was_modified)".
type journalEntry struct {
	addr types.Address
	key  string // field name ("nonce","balance","code","storage","deleted") or a 32-byte storage key

	preval  []byte // the field's value before this write
	existed bool   // whether the field was present in the cache before this write

	wasModified bool // whether addr was already in `modified` before this write
}

// journal is an append-only, arena-backed log of journalEntry values.
// snapshot() hands back the current length; revert(n) unwinds entries
// back to length n in reverse order. There is no separate snapshot-id
// table: the length itself is the index, matching spec.md's
// snapshot() → (trie_root, journal_length) contract.
type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) length() int {
	return len(j.entries)
}

func (j *journal) append(e journalEntry) {
	j.entries = append(j.entries, e)
}

// revert unwinds entries in reverse order down to length n, applying
// each entry's inverse to cache/modified. Panics if n is out of range;
// callers (State.Revert) are expected to validate n first.
func (j *journal) revert(n int, cache *cache) {
	if n < 0 || n > len(j.entries) {
		panic("state: journal revert index out of range")
	}
	for i := len(j.entries) - 1; i >= n; i-- {
		e := j.entries[i]
		if e.existed {
			cache.set(e.addr, e.key, e.preval)
		} else {
			cache.unset(e.addr, e.key)
		}
		if !e.wasModified && e.addr != crypto.RIPEMD160PrecompileAddress {
			cache.clearModified(e.addr)
		}
	}
	j.entries = j.entries[:n]
}
