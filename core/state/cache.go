package state

import "github.com/eth2030/eth2030/core/types"

// Special cache field names. Anything else is a 32-byte storage key,
// held as its raw bytes.
const (
	fieldNonce       = "nonce"
	fieldBalance     = "balance"
	fieldCode        = "code"
	fieldStorageRoot = "storage"
	fieldDeleted     = "deleted"
)

// cache is the write-through cache described in spec.md §3: a mutable
// map from address to (field → value), plus the set of addresses that
// diverge from the last committed trie image.
type cache struct {
	fields   map[types.Address]map[string][]byte
	modified map[types.Address]struct{}
}

func newCache() *cache {
	return &cache{
		fields:   make(map[types.Address]map[string][]byte),
		modified: make(map[types.Address]struct{}),
	}
}

// get returns the cached value for (addr, key) and whether it was present.
func (c *cache) get(addr types.Address, key string) ([]byte, bool) {
	m, ok := c.fields[addr]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

func (c *cache) set(addr types.Address, key string, value []byte) {
	m, ok := c.fields[addr]
	if !ok {
		m = make(map[string][]byte)
		c.fields[addr] = m
	}
	m[key] = value
}

func (c *cache) unset(addr types.Address, key string) {
	m, ok := c.fields[addr]
	if !ok {
		return
	}
	delete(m, key)
	if len(m) == 0 {
		delete(c.fields, addr)
	}
}

func (c *cache) isModified(addr types.Address) bool {
	_, ok := c.modified[addr]
	return ok
}

func (c *cache) markModified(addr types.Address) {
	c.modified[addr] = struct{}{}
}

func (c *cache) clearModified(addr types.Address) {
	delete(c.modified, addr)
}

// keys returns the cache field names set for addr (storage keys and
// special fields alike), for use by commit.
func (c *cache) keys(addr types.Address) []string {
	m := c.fields[addr]
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// size returns the total number of cached (addr, field) entries, used by
// the state.cache_size gauge.
func (c *cache) size() int {
	n := 0
	for _, m := range c.fields {
		n += len(m)
	}
	return n
}
