package crypto

import (
	"golang.org/x/crypto/ripemd160"

	"github.com/eth2030/eth2030/core/types"
)

// RIPEMD160PrecompileAddress is the well-known address of the RIPEMD160
// hash precompile, 0x00..0003. Touching it is a historical quirk that
// state.journal preserves across reverts.
var RIPEMD160PrecompileAddress = types.Address{19: 0x03}

// Ripemd160 computes the RIPEMD-160 digest of data, left-padded to 32
// bytes to match the precompile's output encoding.
func Ripemd160(data []byte) []byte {
	h := ripemd160.New()
	h.Write(data)
	sum := h.Sum(nil)
	out := make([]byte, 32)
	copy(out[32-len(sum):], sum)
	return out
}
