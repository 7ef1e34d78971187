// Package dedup merges each section's per-input parts into one contiguous
// buffer and, where a section's deduplication policy allows it, collapses
// repeated content (identical NUL-terminated strings or identical
// fixed-size chunks) into a single canonical copy shared by every
// reference to it.
package dedup

import (
	"bytes"

	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

// Run merges every section's parts and, where applicable, deduplicates
// them in place. It must run after internal/passes/loader has finished
// merging every input, and before internal/passes/gc.
func Run(obj *object.Object) error {
	for _, sec := range obj.Sections() {
		if err := mergeParts(sec); err != nil {
			return err
		}
	}

	for _, sec := range obj.Sections() {
		if err := deduplicate(obj, sec); err != nil {
			return err
		}
	}

	return nil
}

// mergeParts concatenates a section's per-input parts into the section's
// own Content, in the order the parts were added, computing each part's
// final Offset and shifting its relocations to match.
func mergeParts(sec *object.Section) error {
	parts := sec.Parts()
	if parts == nil {
		return nil
	}

	switch content := sec.Content.(type) {
	case *object.Data:
		var buf bytes.Buffer
		var relocs []object.Relocation
		var offset uint64

		for i, p := range parts {
			if !content.Dedup.Disabled() && len(p.Relocations) > 0 {
				return linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrRelocationsUnsupported,
					"section %d, part %d", sec.ID, i)
			}

			buf.Write(p.RawBytes)
			for _, r := range p.Relocations {
				r.Offset += offset
				relocs = append(relocs, r)
			}

			parts[i].Offset = offset
			offset += p.Len
		}

		content.Bytes = buf.Bytes()
		content.Relocations = relocs

	case *object.Uninitialized:
		var offset uint64
		for i, p := range parts {
			parts[i].Offset = offset
			offset += p.Len
		}
		content.Len = offset
	}

	return nil
}

// deduplicate splits a merged Data section into chunks per its dedup
// policy and collapses identical chunks into one canonical copy,
// replacing the section with a smaller canonical one and leaving behind a
// Deduplication facade mapping old offsets to canonical ones.
func deduplicate(obj *object.Object, sec *object.Section) error {
	content, ok := sec.Content.(*object.Data)
	if !ok || content.Dedup.Disabled() {
		return nil
	}

	var chunks [][]byte
	switch {
	case content.Dedup.ZeroTerminatedStrings():
		var err error
		chunks, err = splitZeroTerminatedStrings(content.Bytes)
		if err != nil {
			return linkerr.Wrap(linkerr.KindSemantic, err, "section %d", sec.ID)
		}
	default:
		size, _ := content.Dedup.FixedSizeChunks()
		var err error
		chunks, err = splitFixedSizeChunks(content.Bytes, size)
		if err != nil {
			return linkerr.Wrap(linkerr.KindSemantic, err, "section %d", sec.ID)
		}
	}

	canonicalOffsetByChunk := make(map[string]uint64)
	offsetMap := make(map[uint64]uint64)
	var canonical bytes.Buffer
	var oldOffset uint64

	for _, chunk := range chunks {
		key := string(chunk)
		canonOff, seen := canonicalOffsetByChunk[key]
		if !seen {
			canonOff = uint64(canonical.Len())
			canonical.Write(chunk)
			canonicalOffsetByChunk[key] = canonOff
		}
		offsetMap[oldOffset] = canonOff
		oldOffset += uint64(len(chunk))
	}

	if uint64(canonical.Len()) == uint64(len(content.Bytes)) {
		// Nothing was actually deduplicated; leave the section as-is rather
		// than creating a facade that maps every offset to itself.
		return nil
	}

	newSec := obj.ReplaceSection(sec.Name, sec.Perms, sec.Source, &object.Data{
		Dedup: content.Dedup,
		Bytes: canonical.Bytes(),
	})

	if obj.Layout == nil {
		obj.Layout = object.NewLayout()
	}
	obj.Layout.Facades[sec.ID] = object.Deduplication{
		Target: newSec.ID,
		Map:    offsetMap,
		Source: sec.ID,
	}

	obj.RemoveSection(sec.ID)

	return nil
}

func splitZeroTerminatedStrings(data []byte) ([][]byte, error) {
	var chunks [][]byte
	start := 0
	for i, b := range data {
		if b == 0 {
			chunks = append(chunks, data[start:i+1])
			start = i + 1
		}
	}
	if start != len(data) {
		return nil, linkerr.ErrNonZeroTerminatedString
	}
	return chunks, nil
}

func splitFixedSizeChunks(data []byte, size uint64) ([][]byte, error) {
	if size == 0 || uint64(len(data))%size != 0 {
		return nil, linkerr.ErrUnevenChunkSize
	}
	chunks := make([][]byte, 0, uint64(len(data))/size)
	for off := uint64(0); off < uint64(len(data)); off += size {
		chunks = append(chunks, data[off:off+size])
	}
	return chunks, nil
}
