// extradata.go parses the header extra-data format spec.md §6 defines:
// a 128-byte randao_reveal‖skips‖i‖j prefix followed by an opaque
// signature tail whose length the validation code determines.
package casper

import "github.com/holiman/uint256"

// ExtraDataPrefixLen is the fixed-width prefix length: four 32-byte
// fields (randao_reveal, skips, i, j).
const ExtraDataPrefixLen = 128

// ExtraData is the parsed form of a header's Extra field.
type ExtraData struct {
	RandaoReveal [32]byte
	Skips        uint64
	Bucket       int
	Slot         int
	Signature    []byte
}

// ParseExtraData decodes the 128-byte prefix plus signature tail. It
// fails if raw is shorter than the fixed prefix, or if skips/i/j don't
// fit the ranges this implementation supports (skips/bucket/slot are
// carried as full 32-byte big-endian integers on the wire but are used
// here as machine words).
func ParseExtraData(raw []byte) (ExtraData, error) {
	if len(raw) < ExtraDataPrefixLen {
		return ExtraData{}, ErrInvalidHeader
	}

	var ed ExtraData
	copy(ed.RandaoReveal[:], raw[0:32])

	skips := new(uint256.Int).SetBytes(raw[32:64])
	i := new(uint256.Int).SetBytes(raw[64:96])
	j := new(uint256.Int).SetBytes(raw[96:128])

	if !skips.IsUint64() || !i.IsUint64() || !j.IsUint64() {
		return ExtraData{}, ErrInvalidHeader
	}
	ed.Skips = skips.Uint64()
	ed.Bucket = int(i.Uint64())
	ed.Slot = int(j.Uint64())
	ed.Signature = append([]byte(nil), raw[ExtraDataPrefixLen:]...)
	return ed, nil
}

// Encode re-serializes ExtraData into the wire format, for tests and
// block production.
func (ed ExtraData) Encode() []byte {
	out := make([]byte, ExtraDataPrefixLen+len(ed.Signature))
	copy(out[0:32], ed.RandaoReveal[:])
	skipsB := uint256.NewInt(ed.Skips).Bytes32()
	iB := uint256.NewInt(uint64(ed.Bucket)).Bytes32()
	jB := uint256.NewInt(uint64(ed.Slot)).Bytes32()
	copy(out[32:64], skipsB[:])
	copy(out[64:96], iB[:])
	copy(out[96:128], jB[:])
	copy(out[ExtraDataPrefixLen:], ed.Signature)
	return out
}
