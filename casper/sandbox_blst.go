//go:build blst

// Real BLS12-381 validation sandbox, built on crypto.BlstRealBackend.
// Build with: go build -tags blst
package casper

import "github.com/eth2030/eth2030/crypto"

// BLSValidationCode is the production ValidationSandbox: it treats
// validation_code as a 48-byte compressed BLS12-381 G1 public key and
// verifies signatureTail as a compressed G2 signature over signingHash,
// via the blst backend.
type BLSValidationCode struct {
	backend crypto.BlstRealBackend
}

// Verify implements ValidationSandbox.
func (b BLSValidationCode) Verify(validationCode []byte, signingHash [32]byte, signatureTail []byte) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, ErrSandboxPanic
		}
	}()
	return b.backend.Verify(validationCode, signingHash[:], signatureTail), nil
}
