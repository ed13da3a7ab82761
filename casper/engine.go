// engine.go composes the Casper contract's pieces into the single
// wiring point cmd/eth2030 constructs: one Registry, one EpochManager,
// one Selector, one HeaderVerifier and one DunkleLedger, all built over
// a shared Config. Grounded in composition shape on the teacher's
// consensus package, where validator_registry_v2.go, epoch_manager.go,
// proposer_election.go and header_validator.go are constructed once at
// startup and threaded through together rather than looked up ad hoc.
package casper

import (
	"github.com/eth2030/eth2030/core/types"
)

// Engine owns every live Casper component and exposes the Strategy
// seam a block-processing pipeline drives.
type Engine struct {
	Config   *Config
	Registry *Registry
	Epochs   *EpochManager
	Selector *Selector
	Verifier *HeaderVerifier
	Dunkles  *DunkleLedger
	Strategy Strategy
}

// NewEngine builds an Engine with the Casper contract living at
// contractAddress, using sandbox to verify validator signatures (nil
// selects the HMAC test double — callers building for production
// should pass a BLSValidationCode built with the blst build tag).
func NewEngine(config *Config, contractAddress types.Address, sandbox ValidationSandbox) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	registry := NewRegistry(config, contractAddress)
	epochs := NewEpochManager(config)
	selector := NewSelector(registry, epochs)
	verifier := NewHeaderVerifier(config, registry, epochs, selector, sandbox)
	dunkles := NewDunkleLedger()
	strategy := NewPoSStrategy(verifier, registry, epochs, dunkles)

	return &Engine{
		Config:   config,
		Registry: registry,
		Epochs:   epochs,
		Selector: selector,
		Verifier: verifier,
		Dunkles:  dunkles,
		Strategy: strategy,
	}
}

// Clone returns an Engine wired over its own independent copy of every
// mutable Casper component (Registry, EpochManager, DunkleLedger, and
// the Selector's RANDAO accumulator). Pair it with a
// state.State.EphemeralClone so a speculative header-processing
// attempt — HeaderValidate racing ahead of the canonical chain, or a
// dry-run CLI check — can be thrown away in full: nothing it mutates is
// shared with e.
func (e *Engine) Clone() *Engine {
	registry := e.Registry.clone()
	epochs := e.Epochs.clone()
	dunkles := e.Dunkles.clone()

	selector := NewSelector(registry, epochs)
	selector.restore(e.Selector.snapshot())

	verifier := NewHeaderVerifier(e.Config, registry, epochs, selector, e.Verifier.sandbox)
	strategy := NewPoSStrategy(verifier, registry, epochs, dunkles)

	return &Engine{
		Config:   e.Config,
		Registry: registry,
		Epochs:   epochs,
		Selector: selector,
		Verifier: verifier,
		Dunkles:  dunkles,
		Strategy: strategy,
	}
}
