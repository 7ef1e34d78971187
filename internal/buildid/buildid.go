// Package buildid computes the contents of the .note.gnu.build-id section
// emitted by internal/passes/elfbuild.
package buildid

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	noteName = "GNU\x00"

	// NtGNUBuildID is the n_type value GNU tooling uses for a build-id note.
	NtGNUBuildID = 3
)

// Style selects how the build ID's payload bytes are derived.
type Style int

const (
	// StyleUUID fills the note payload with a random (v4) UUID, matching
	// `--build-id=uuid`.
	StyleUUID Style = iota
	// StyleSHA1 derives the note payload as a SHA-1 digest over the link's
	// input in deterministic order, matching `--build-id=sha1` (the
	// default in most distributions, since it makes builds reproducible).
	StyleSHA1
)

// Generate produces the build-id payload bytes. For StyleSHA1, inputs
// should be fed in a stable, deterministic order (e.g. the final section
// contents in layout order), since the digest is the whole point of this
// style: identical inputs must produce an identical ID.
func Generate(style Style, inputs ...[]byte) ([]byte, error) {
	switch style {
	case StyleUUID:
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, err
		}
		return id[:], nil
	case StyleSHA1:
		h := sha1.New()
		for _, in := range inputs {
			h.Write(in)
		}
		return h.Sum(nil), nil
	default:
		panic("buildid: unknown Style")
	}
}

// Note formats a complete Elf{32,64}_Nhdr + name + payload blob for the
// given payload bytes, ready to be used as a Data section's Bytes.
func Note(payload []byte) []byte {
	nameBytes := []byte(noteName)

	out := make([]byte, 0, 12+len(nameBytes)+len(payload))
	out = appendU32(out, uint32(len(nameBytes)))
	out = appendU32(out, uint32(len(payload)))
	out = appendU32(out, NtGNUBuildID)
	out = append(out, nameBytes...)
	out = append(out, payload...)

	// Notes are 4-byte aligned; pad the payload if needed (name is already
	// a multiple of 4 thanks to its NUL terminator).
	if rem := len(out) % 4; rem != 0 {
		out = append(out, make([]byte, 4-rem)...)
	}

	return out
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
