// sandbox.go provides the callback the header verifier uses to check a
// validator's signature: spec.md §4.H step 5 calls validation_code with
// `signing_hash ‖ signature_tail` and requires a non-zero result. No gas
// limit is applied to Verify; an implementation runs to completion.
// ValidationSandbox abstracts that call so production
// code can run real BLS verification while tests run a cheap pure-Go
// double, mirroring the teacher's split between
// crypto/bls_blst_adapter.go (cgo, build-tag blst) and a pure-Go path.
package casper

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// ErrSandboxPanic is returned when a ValidationSandbox implementation
// recovers from a panic during Verify, so a malformed validation_code
// or signature cannot crash header verification.
var ErrSandboxPanic = errors.New("casper: validation sandbox panicked")

// ValidationSandbox executes a validator's validation_code against a
// signing hash and signature tail, and reports whether it accepted.
type ValidationSandbox interface {
	Verify(validationCode []byte, signingHash [32]byte, signatureTail []byte) (bool, error)
}

// HMACValidationCode is a pure-Go test double: it treats validationCode
// as an HMAC-SHA256 key and accepts iff signatureTail equals
// HMAC(key, signingHash). It exists for unit tests and for builds
// without the blst build tag, per SPEC_FULL.md's sandbox split.
type HMACValidationCode struct{}

// Verify implements ValidationSandbox.
func (HMACValidationCode) Verify(validationCode []byte, signingHash [32]byte, signatureTail []byte) (bool, error) {
	mac := hmac.New(sha256.New, validationCode)
	mac.Write(signingHash[:])
	expected := mac.Sum(nil)
	return hmac.Equal(expected, signatureTail), nil
}

// SignHMAC produces the signature tail HMACValidationCode.Verify will
// accept, for use by test fixtures constructing headers.
func SignHMAC(validationCode []byte, signingHash [32]byte) []byte {
	mac := hmac.New(sha256.New, validationCode)
	mac.Write(signingHash[:])
	return mac.Sum(nil)
}
