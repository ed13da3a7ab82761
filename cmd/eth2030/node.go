package main

import (
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eth2030/eth2030/casper"
	"github.com/eth2030/eth2030/core/rawdb"
	"github.com/eth2030/eth2030/core/state"
	"github.com/eth2030/eth2030/core/types"
)

// stateRootFile holds the hex-encoded root of the most recently
// committed state trie, so a disk-backed datadir can be reopened
// across process restarts instead of starting from an empty trie.
const stateRootFile = "STATEROOT"

// chainDataDir is the subdirectory of datadir holding the pebble store.
const chainDataDir = "chaindata"

// verbosityToSlogLevel maps the CLI's 0-4 verbosity scale to slog's
// levels, coarser end first: 0 silences everything but errors.
func verbosityToSlogLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// backend is the open handle pair a subcommand operates over: the
// world-state store and, when disk-backed, the pebble database it
// must be flushed to and closed against.
type backend struct {
	st     *state.State
	pebble *rawdb.PebbleDB // nil when running in-memory
}

// openBackend opens datadir's state. usePebble selects a durable
// on-disk trie-node store instead of an ephemeral in-memory one; a
// fresh trie starts at types.EmptyRootHash, otherwise the previously
// committed root recorded in STATEROOT is resumed.
func openBackend(dataDir string, usePebble bool) (*backend, error) {
	if !usePebble {
		return &backend{st: state.NewInMemory(state.DefaultChainConfig())}, nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	db, err := rawdb.OpenPebbleDB(filepath.Join(dataDir, chainDataDir))
	if err != nil {
		return nil, err
	}

	root, err := readStateRoot(dataDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	st := state.NewOnDisk(root, db, state.DefaultChainConfig())
	return &backend{st: st, pebble: db}, nil
}

// commit flushes st's pending changes to the trie, persists the new
// root to STATEROOT when disk-backed, and returns the new root.
func (b *backend) commit(dataDir string, allowEmpties bool) (types.Hash, error) {
	root, err := b.st.Commit(allowEmpties)
	if err != nil {
		return types.Hash{}, err
	}
	if b.pebble == nil {
		return root, nil
	}
	if err := b.st.Flush(b.pebble); err != nil {
		return types.Hash{}, err
	}
	if err := writeStateRoot(dataDir, root); err != nil {
		return types.Hash{}, err
	}
	return root, nil
}

// close releases the disk backend, if any.
func (b *backend) close() error {
	if b.pebble == nil {
		return nil
	}
	return b.pebble.Close()
}

func readStateRoot(dataDir string) (types.Hash, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, stateRootFile))
	if os.IsNotExist(err) {
		return types.EmptyRootHash, nil
	}
	if err != nil {
		return types.Hash{}, err
	}
	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(decoded), nil
}

func writeStateRoot(dataDir string, root types.Hash) error {
	return os.WriteFile(filepath.Join(dataDir, stateRootFile), []byte(hex.EncodeToString(root[:])), 0o644)
}

// newEngine builds a casper.Engine rooted at contractAddress, using the
// HMAC validation sandbox test double (nil selects it inside
// casper.NewEngine). Production deployments wanting BLS signatures
// build with the blst tag and pass casper.BLSValidationCode{} here
// instead.
func newEngine(contractAddress types.Address) *casper.Engine {
	return casper.NewEngine(casper.DefaultConfig(), contractAddress, nil)
}
