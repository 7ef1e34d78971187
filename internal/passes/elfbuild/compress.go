package elfbuild

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/flexld/flexld/internal/elfformat"
)

// chdr64Size is sizeof(Elf64_Chdr): ch_type, ch_reserved, ch_size,
// ch_addralign, each a 32- or 64-bit little-endian field per the System V
// gABI's SHF_COMPRESSED extension.
const chdr64Size = 24

// elfcompressZlib is the only compression algorithm the gABI defines.
const elfcompressZlib = 1

// maybeCompressDebugSection compresses out's bytes with zlib and prefixes
// an Elf64_Chdr, setting SHF_COMPRESSED, when enabled and name looks like a
// debug section (".debug*", by convention never SHF_ALLOC so never part of
// any loadable segment). internal/elfformat.Read relies on debug/elf's own
// transparent SHF_COMPRESSED decompression on input, so this is the only
// place flexld needs to touch compression explicitly: the domain-stack
// addition is the write side, which the standard library has no encoder
// for at all.
func maybeCompressDebugSection(name string, out elfformat.OutSection, enabled bool) elfformat.OutSection {
	if !enabled || out.Bytes == nil || out.Flags&elf.SHF_COMPRESSED != 0 {
		return out
	}
	if !strings.HasPrefix(name, ".debug") {
		return out
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(out.Bytes); err != nil {
		return out
	}
	if err := zw.Close(); err != nil {
		return out
	}

	chdr := make([]byte, chdr64Size)
	binary.LittleEndian.PutUint32(chdr[0:4], elfcompressZlib)
	binary.LittleEndian.PutUint32(chdr[4:8], 0)
	binary.LittleEndian.PutUint64(chdr[8:16], out.Size)
	addralign := out.Addralign
	if addralign == 0 {
		addralign = 1
	}
	binary.LittleEndian.PutUint64(chdr[16:24], addralign)

	payload := append(chdr, compressed.Bytes()...)
	out.Bytes = payload
	out.Size = uint64(len(payload))
	out.Flags |= elf.SHF_COMPRESSED
	out.Addralign = 8
	return out
}
