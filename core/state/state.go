package state

import (
	"errors"
	"math/big"

	"github.com/eth2030/eth2030/core/rawdb"
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/metrics"
	"github.com/eth2030/eth2030/rlp"
	"github.com/eth2030/eth2030/trie"
	"github.com/holiman/uint256"
)

var (
	// ErrSnapshotAcrossCommit is returned when Revert is called with a
	// snapshot taken before the most recent Commit. Reverting across a
	// commit boundary would undo state the caller already considers final.
	ErrSnapshotAcrossCommit = errors.New("state: revert across commit boundary")
	// ErrInsufficientBalance is returned by TransferValue when the sender
	// cannot cover the transfer amount.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

// rlpAccount is the RLP-serializable on-trie form of an account.
type rlpAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Root     []byte
	CodeHash []byte
}

// BlockContext holds the transient per-block parameters named in
// spec.md §3: values that apply to the block currently executing and
// are discarded (not committed to the trie) once the block is done.
type BlockContext struct {
	BlockNumber uint64
	Timestamp   uint64
	Coinbase    types.Address
	GasUsed     uint64
	GasLimit    uint64
	Difficulty  uint64
	Bloom       types.Bloom
	Logs        []*types.Log
	Suicides    map[types.Address]struct{}
	Refunds     uint64
	PrevHeaders []types.Hash // ring buffer, most recent PREV_HEADER_DEPTH headers
	RecentUncles []types.Hash
	TxIndex     int
}

// Snapshot is the pair spec.md §4.D's snapshot() returns: the trie root
// at the time of the snapshot and the journal length to revert to.
type Snapshot struct {
	Root       types.Hash
	JournalLen int
}

// State is the transactional world-state engine: a write-through cache
// plus reversible journal layered over a secure trie. Exactly one
// execution context mutates a given State at a time (spec.md §5);
// callers wanting parallelism use EphemeralClone.
type State struct {
	root    types.Hash
	db      *trie.NodeDatabase
	cache   *cache
	journal *journal
	config  *ChainConfig

	Block BlockContext

	log *log.Logger
}

// New creates a State rooted at root, backed by db, under config.
func New(root types.Hash, db *trie.NodeDatabase, config *ChainConfig) *State {
	if config == nil {
		config = DefaultChainConfig()
	}
	return &State{
		root:    root,
		db:      db,
		cache:   newCache(),
		journal: newJournal(),
		config:  config,
		Block: BlockContext{
			Suicides: make(map[types.Address]struct{}),
		},
		log: log.Default().Module("state"),
	}
}

// NewInMemory creates a State over a fresh in-memory KV backend, for
// tests and standalone tools.
func NewInMemory(config *ChainConfig) *State {
	db := trie.NewNodeDatabase(trie.NewRawDBNodeReader(rawdb.NewMemoryDB().Get))
	return New(types.EmptyRootHash, db, config)
}

// NewOnDisk creates a State rooted at root, backed by a durable
// rawdb.Database (typically a *rawdb.PebbleDB). Dirty trie nodes staged
// by Commit still need Flush to land on disk.
func NewOnDisk(root types.Hash, backend rawdb.Database, config *ChainConfig) *State {
	db := trie.NewNodeDatabase(trie.NewRawDBNodeReader(backend.Get))
	return New(root, db, config)
}

// Flush writes every trie node staged by Commit to backend and clears
// the in-memory dirty set. In-memory states have nothing durable to
// flush to, so callers of NewInMemory can skip it.
func (s *State) Flush(backend rawdb.Database) error {
	return s.db.Commit(trie.NewRawDBNodeWriter(backend.Put))
}

func (s *State) accountTrie() (*trie.ResolvableTrie, error) {
	return trie.NewResolvableTrie(s.root, s.db)
}

// loadAccount reads the account for addr out of the committed trie. A
// missing account is reported as a blank account with found=false.
func (s *State) loadAccount(addr types.Address) (types.Account, bool, error) {
	t, err := s.accountTrie()
	if err != nil {
		return types.Account{}, false, err
	}
	enc, err := t.Get(crypto.Keccak256(addr.Bytes()))
	if err != nil {
		return types.NewAccount(), false, nil
	}
	var ra rlpAccount
	if err := rlp.DecodeBytes(enc, &ra); err != nil {
		return types.Account{}, false, err
	}
	bal := new(uint256.Int)
	if ra.Balance != nil {
		bal.SetFromBig(ra.Balance)
	}
	acc := types.Account{
		Nonce:    ra.Nonce,
		Balance:  bal,
		Root:     types.BytesToHash(ra.Root),
		CodeHash: types.BytesToHash(ra.CodeHash),
	}
	return acc, true, nil
}

func (s *State) storageTrie(root types.Hash) (*trie.ResolvableTrie, error) {
	return trie.NewResolvableTrie(root, s.db)
}

// currentStorageRoot returns the storage root in effect for addr right
// now: the cache override if set_storage(addr,"storage",...) has run
// since the last commit, else the committed account's root.
func (s *State) currentStorageRoot(addr types.Address) (types.Hash, error) {
	if v, ok := s.cache.get(addr, fieldStorageRoot); ok {
		return types.BytesToHash(v), nil
	}
	acc, _, err := s.loadAccount(addr)
	if err != nil {
		return types.Hash{}, err
	}
	return acc.Root, nil
}

// GetStorage implements spec.md §4.D get_storage(addr, key). key may be
// a special field name ("nonce", "balance", "code", "storage", "deleted")
// or a 32-byte storage slot key.
func (s *State) GetStorage(addr types.Address, key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := s.cache.get(addr, k); ok {
		return v, nil
	}

	var value []byte
	switch k {
	case fieldNonce:
		acc, _, err := s.loadAccount(addr)
		if err != nil {
			return nil, err
		}
		value = encodeUint64(acc.Nonce)
	case fieldBalance:
		acc, _, err := s.loadAccount(addr)
		if err != nil {
			return nil, err
		}
		value = acc.Balance.Bytes32()[:]
	case fieldCode:
		acc, _, err := s.loadAccount(addr)
		if err != nil {
			return nil, err
		}
		if acc.CodeHash == types.EmptyCodeHash || acc.CodeHash.IsZero() {
			value = nil
		} else {
			value, err = s.db.Node(acc.CodeHash)
			if err != nil {
				value = nil
			}
		}
	case fieldStorageRoot:
		acc, _, err := s.loadAccount(addr)
		if err != nil {
			return nil, err
		}
		value = acc.Root.Bytes()
	case fieldDeleted:
		value = nil
	default:
		root, err := s.currentStorageRoot(addr)
		if err != nil {
			return nil, err
		}
		st, err := s.storageTrie(root)
		if err != nil {
			return nil, err
		}
		v, err := st.Get(key)
		if err != nil {
			value = nil
		} else {
			value = v
		}
	}

	s.cache.set(addr, k, value)
	return value, nil
}

// SetStorage implements spec.md §4.D set_storage(addr, key, value).
func (s *State) SetStorage(addr types.Address, key []byte, value []byte) error {
	k := string(key)

	preval, existed := s.cache.get(addr, k)
	wasModified := s.cache.isModified(addr)

	if delVal, ok := s.cache.get(addr, fieldDeleted); ok && len(delVal) > 0 && delVal[0] == 1 && k != fieldDeleted {
		s.journal.append(journalEntry{addr: addr, key: fieldDeleted, preval: delVal, existed: true, wasModified: wasModified})
		s.cache.set(addr, fieldDeleted, []byte{0})
	}

	s.journal.append(journalEntry{addr: addr, key: k, preval: preval, existed: existed, wasModified: wasModified})
	s.cache.set(addr, k, value)
	s.cache.markModified(addr)
	metrics.StateJournalLength.Set(int64(s.journal.length()))
	metrics.StateCacheSize.Set(int64(s.cache.size()))
	return nil
}

// GetBalance is a typed convenience wrapper over GetStorage(addr,"balance").
func (s *State) GetBalance(addr types.Address) (*uint256.Int, error) {
	v, err := s.GetStorage(addr, []byte(fieldBalance))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(v), nil
}

// SetBalance is a typed convenience wrapper over SetStorage(addr,"balance",...).
func (s *State) SetBalance(addr types.Address, v *uint256.Int) error {
	b := v.Bytes32()
	return s.SetStorage(addr, []byte(fieldBalance), b[:])
}

// TransferValue implements spec.md §4.D transfer_value(from, to, v). It
// succeeds iff balance(from) >= v; the caller is expected to snapshot
// first so a failed transfer can be reverted cleanly.
func (s *State) TransferValue(from, to types.Address, v *uint256.Int) (bool, error) {
	fromBal, err := s.GetBalance(from)
	if err != nil {
		return false, err
	}
	if fromBal.Lt(v) {
		return false, nil
	}
	toBal, err := s.GetBalance(to)
	if err != nil {
		return false, err
	}
	if err := s.SetBalance(from, new(uint256.Int).Sub(fromBal, v)); err != nil {
		return false, err
	}
	if err := s.SetBalance(to, new(uint256.Int).Add(toBal, v)); err != nil {
		return false, err
	}
	return true, nil
}

// DelAccount implements spec.md §4.D del_account(addr): resets every
// outputtable field to blank, clears the storage sub-trie by writing an
// empty value over every live key, and marks the account deleted.
func (s *State) DelAccount(addr types.Address) error {
	root, err := s.currentStorageRoot(addr)
	if err != nil {
		return err
	}
	st, err := s.storageTrie(root)
	if err != nil {
		return err
	}
	it := trie.NewResolvableIterator(st)
	var liveKeys [][]byte
	for it.Next() {
		k := make([]byte, len(it.Key))
		copy(k, it.Key)
		liveKeys = append(liveKeys, k)
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, k := range liveKeys {
		if err := s.SetStorage(addr, k, nil); err != nil {
			return err
		}
	}
	if err := s.SetStorage(addr, []byte(fieldNonce), encodeUint64(0)); err != nil {
		return err
	}
	if err := s.SetBalance(addr, new(uint256.Int)); err != nil {
		return err
	}
	if err := s.SetStorage(addr, []byte(fieldCode), nil); err != nil {
		return err
	}
	if err := s.SetStorage(addr, []byte(fieldStorageRoot), types.EmptyRootHash.Bytes()); err != nil {
		return err
	}
	return s.SetStorage(addr, []byte(fieldDeleted), []byte{1})
}

// AccountExists implements spec.md §4.D account_exists(addr).
func (s *State) AccountExists(addr types.Address) (bool, error) {
	if s.config.IsFork(SpuriousDragon, false, s.Block.BlockNumber) {
		nonce, err := s.GetStorage(addr, []byte(fieldNonce))
		if err != nil {
			return false, err
		}
		if decodeUint64(nonce) != 0 {
			return true, nil
		}
		bal, err := s.GetBalance(addr)
		if err != nil {
			return false, err
		}
		if !bal.IsZero() {
			return true, nil
		}
		code, err := s.GetStorage(addr, []byte(fieldCode))
		if err != nil {
			return false, err
		}
		return len(code) > 0, nil
	}

	if delVal, ok := s.cache.get(addr, fieldDeleted); ok {
		return len(delVal) == 0 || delVal[0] == 0, nil
	}
	if _, ok := s.cache.fields[addr]; ok {
		return true, nil
	}
	_, found, err := s.loadAccount(addr)
	return found, err
}

// IsEmpty reports whether addr is blank under the EIP-161 definition
// (nonce == 0, balance == 0, code hash == empty), independent of fork.
func (s *State) IsEmpty(addr types.Address) (bool, error) {
	nonceB, err := s.GetStorage(addr, []byte(fieldNonce))
	if err != nil {
		return false, err
	}
	bal, err := s.GetBalance(addr)
	if err != nil {
		return false, err
	}
	codeB, err := s.GetStorage(addr, []byte(fieldCode))
	if err != nil {
		return false, err
	}
	return decodeUint64(nonceB) == 0 && bal.IsZero() && len(codeB) == 0, nil
}

// BlockHash implements spec.md §4.D's block-hash lookup. Pre-METROPOLIS it
// serves the last PrevHeaderDepth headers straight out of BlockContext;
// from METROPOLIS on it instead reads a ring buffer maintained in the
// MetropolisBlockhashStore contract's storage, indexed by
// (block_number - n - 1) mod MetropolisWraparound, which is unbounded in
// depth (the ring buffer has grown with every block since activation).
// Returns the zero hash for an out-of-range or not-yet-seen lookup.
func (s *State) BlockHash(n uint64) (types.Hash, error) {
	if !s.config.IsFork(Metropolis, false, s.Block.BlockNumber) {
		if n > s.config.PrevHeaderDepth || n >= uint64(len(s.Block.PrevHeaders)) {
			return types.Hash{}, nil
		}
		return s.Block.PrevHeaders[n], nil
	}

	if n >= s.Block.BlockNumber {
		return types.Hash{}, nil
	}
	slot := (s.Block.BlockNumber - n - 1) % s.config.MetropolisWraparound
	key := encodeUint64(slot)
	store := types.Address(s.config.MetropolisBlockhashStore)
	v, err := s.GetStorage(store, key)
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(v), nil
}

// TakeSnapshot implements spec.md §4.D snapshot() -> (root, j).
func (s *State) TakeSnapshot() Snapshot {
	return Snapshot{Root: s.root, JournalLen: s.journal.length()}
}

// Revert implements spec.md §4.D revert(s). If the snapshot's root no
// longer matches the current root, a commit happened in between (the
// only way the root can have moved); Revert then returns
// ErrSnapshotAcrossCommit and changes nothing.
func (s *State) Revert(snap Snapshot) error {
	if snap.Root != s.root {
		return ErrSnapshotAcrossCommit
	}
	if snap.JournalLen > s.journal.length() {
		return errors.New("state: revert to a snapshot ahead of the current journal")
	}
	s.journal.revert(snap.JournalLen, s.cache)
	metrics.StateReverts.Inc()
	metrics.StateJournalLength.Set(int64(s.journal.length()))
	metrics.StateCacheSize.Set(int64(s.cache.size()))
	return nil
}

// Commit implements spec.md §4.D commit(allow_empties). It flushes every
// modified account's cached fields into the trie, builds the per-account
// storage sub-trie from cached storage keys, and — under SPURIOUS_DRAGON
// and unless allowEmpties — prunes accounts that ended up blank.
func (s *State) Commit(allowEmpties bool) (types.Hash, error) {
	t, err := s.accountTrie()
	if err != nil {
		return types.Hash{}, err
	}

	for addr := range s.cache.modified {
		acc, _, err := s.loadAccount(addr)
		if err != nil {
			return types.Hash{}, err
		}

		baseRoot := acc.Root
		if v, ok := s.cache.get(addr, fieldStorageRoot); ok {
			baseRoot = types.BytesToHash(v)
		}
		st, err := s.storageTrie(baseRoot)
		if err != nil {
			return types.Hash{}, err
		}
		for _, key := range s.cache.keys(addr) {
			switch key {
			case fieldNonce, fieldBalance, fieldCode, fieldStorageRoot, fieldDeleted:
				continue
			}
			val, _ := s.cache.get(addr, key)
			if len(val) == 0 {
				if err := st.Delete([]byte(key)); err != nil {
					return types.Hash{}, err
				}
			} else if err := st.Put([]byte(key), val); err != nil {
				return types.Hash{}, err
			}
		}
		storageRoot, err := st.Commit()
		if err != nil {
			return types.Hash{}, err
		}

		if nonceB, ok := s.cache.get(addr, fieldNonce); ok {
			acc.Nonce = decodeUint64(nonceB)
		}
		if balB, ok := s.cache.get(addr, fieldBalance); ok {
			acc.Balance = new(uint256.Int).SetBytes(balB)
		}
		if codeB, ok := s.cache.get(addr, fieldCode); ok {
			if len(codeB) == 0 {
				acc.CodeHash = types.EmptyCodeHash
			} else {
				hash := crypto.Keccak256Hash(codeB)
				s.db.InsertNode(hash, codeB)
				acc.CodeHash = hash
			}
		}
		acc.Root = storageRoot

		deleted := false
		if delB, ok := s.cache.get(addr, fieldDeleted); ok && len(delB) > 0 && delB[0] == 1 {
			deleted = true
		}

		hashedAddr := crypto.Keccak256(addr.Bytes())
		isBlank := acc.Nonce == 0 && acc.Balance.IsZero() && (acc.CodeHash == types.EmptyCodeHash || acc.CodeHash.IsZero())

		if deleted || (s.config.IsFork(SpuriousDragon, false, s.Block.BlockNumber) && isBlank && !allowEmpties) {
			if err := t.Trie.Delete(hashedAddr); err != nil {
				return types.Hash{}, err
			}
			continue
		}

		ra := rlpAccount{
			Nonce:    acc.Nonce,
			Balance:  acc.Balance.ToBig(),
			Root:     acc.Root.Bytes(),
			CodeHash: acc.CodeHash.Bytes(),
		}
		enc, err := rlp.EncodeToBytes(ra)
		if err != nil {
			return types.Hash{}, err
		}
		if err := t.Put(hashedAddr, enc); err != nil {
			return types.Hash{}, err
		}
	}

	root, err := t.Commit()
	if err != nil {
		return types.Hash{}, err
	}

	s.root = root
	s.cache = newCache()
	s.journal = newJournal()
	metrics.StateCommits.Inc()
	metrics.StateCacheSize.Set(0)
	metrics.StateJournalLength.Set(0)
	s.log.Info("state committed", "root", root.Hex())
	return root, nil
}

// EphemeralClone implements spec.md §4.D ephemeral_clone(): an isolated
// copy for speculative execution. It shares the underlying node database
// with s but starts with an empty cache and journal, so none of its
// writes are visible to s; a Commit on the clone moves only the clone's
// root, never s's.
// Sharing db.dirty is safe despite that: trie nodes are content-addressed
// and immutable, so a clone's Commit can only ever add unreferenced
// nodes to the dirty set, never mutate or shadow a node s's root
// depends on.
func (s *State) EphemeralClone() *State {
	clone := &State{
		root:    s.root,
		db:      s.db,
		cache:   newCache(),
		journal: newJournal(),
		config:  s.config,
		Block:   s.Block,
		log:     s.log,
	}
	clone.Block.Suicides = make(map[types.Address]struct{}, len(s.Block.Suicides))
	for a := range s.Block.Suicides {
		clone.Block.Suicides[a] = struct{}{}
	}
	return clone
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return trimLeadingZerosState(b)
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func trimLeadingZerosState(b []byte) []byte {
	for i, v := range b {
		if v != 0 {
			return b[i:]
		}
	}
	return nil
}
