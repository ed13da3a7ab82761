package casper

import "errors"

// Sentinel errors for the Casper contract's entry points. None of these
// are ever panicked across a package boundary — the contract-internal
// `require` trap primitive is realized as ErrRequireFailed, returned
// like any other error.
var (
	ErrRequireFailed      = errors.New("casper: require failed")
	ErrUnknownBucket      = errors.New("casper: deposit value does not match any bucket size")
	ErrSlotNotFound       = errors.New("casper: no validator at (bucket, slot)")
	ErrNotPending         = errors.New("casper: validator is not pending")
	ErrNotExiting         = errors.New("casper: validator has not started withdrawal")
	ErrAlreadyWithdrawing = errors.New("casper: validator has already started withdrawal")
	ErrLockNotExpired     = errors.New("casper: lock duration has not elapsed")
	ErrWrongEpoch         = errors.New("casper: newEpoch called out of sequence")
	ErrNoLiveValidator    = errors.New("casper: exhausted retries without finding a live validator")

	ErrInvalidHeader    = errors.New("casper: malformed header or extra data")
	ErrInvalidTimestamp = errors.New("casper: timestamp below min_timestamp")
	ErrInvalidDifficulty = errors.New("casper: difficulty is not 1")
	ErrInvalidProposer  = errors.New("casper: selector disagrees with claimed (i, j)")
	ErrInvalidRandao    = errors.New("casper: randao_reveal does not hash to the committed value")
	ErrInvalidSignature = errors.New("casper: validation code rejected the signature")

	ErrDuplicateDunkle = errors.New("casper: dunkle hash already recorded")
	ErrDunkleCanonical = errors.New("casper: header matches the canonical hash at that height")
	ErrDunkleNotOlder  = errors.New("casper: dunkle height is not less than the current block")
	ErrDunkleTooYoung  = errors.New("casper: dunkle record has not aged past the removal threshold")
)
