package loader

import (
	"debug/elf"

	"github.com/flexld/flexld/internal/elfformat"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

func elfClassOf(c elf.Class) object.Class {
	if c == elf.ELFCLASS32 {
		return object.Elf32
	}
	return object.Elf64
}

func machineOf(m elf.Machine) object.Machine {
	if m == elf.EM_386 {
		return object.MachineX86
	}
	return object.MachineX86_64
}

func permsOf(flags elf.SectionFlag) object.Perms {
	return object.Perms{
		Read:    true, // every section this linker keeps is at least readable once loaded
		Write:   flags&elf.SHF_WRITE != 0,
		Execute: flags&elf.SHF_EXECINSTR != 0,
	}
}

// dedupPolicyOf maps the SHF_MERGE/SHF_STRINGS flag combination to a
// DedupPolicy: SHF_MERGE|SHF_STRINGS sections (e.g. .rodata.str1.1) split
// into NUL-terminated chunks, a bare SHF_MERGE section (e.g. .rodata.cst8)
// splits into Entsize-sized fixed chunks, and anything else keeps its
// layout exactly as the compiler emitted it.
func dedupPolicyOf(rs elfformat.RawSection) object.DedupPolicy {
	const shfMerge = 0x10
	const shfStrings = 0x20

	if rs.Flags&shfStrings != 0 {
		return object.DedupZeroTerminatedStrings
	}
	if rs.Flags&shfMerge != 0 && rs.Entsize > 0 {
		return object.DedupFixedSizeChunks(rs.Entsize)
	}
	return object.DedupDisabled
}

// isRecognizedNote reports whether a note section's name is one this
// linker understands and can safely pass through or regenerate, rather
// than one whose semantics it would silently lose.
func isRecognizedNote(name string) bool {
	switch name {
	case ".note.gnu.build-id", ".note.ABI-tag", ".note.gnu.property":
		return true
	default:
		return false
	}
}

func relocationOf(rr elfformat.RawRelocation, sym object.SymbolID) (object.Relocation, error) {
	kind, err := relocTypeOf(rr.Type)
	if err != nil {
		return object.Relocation{}, err
	}

	addend := object.InlineAddend
	if rr.HasAddend {
		addend = object.ExplicitAddend(rr.Addend)
	}

	return object.Relocation{
		Type:   kind,
		Symbol: sym,
		Offset: rr.Offset,
		Addend: addend,
	}, nil
}

// x86-64 relocation type numbers, per the System V x86-64 psABI.
const (
	rX8664None     = 0
	rX8664_64      = 1
	rX8664PC32     = 2
	rX8664GOT32    = 3
	rX8664PLT32    = 4
	rX8664Copy     = 5
	rX8664GlobDat  = 6
	rX8664JumpSlot = 7
	rX8664Relative = 8
	rX8664GOTPCRel = 9
	rX8664_32      = 10
	rX8664_32S     = 11
)

func relocTypeOf(t uint32) (object.RelocType, error) {
	switch t {
	case rX8664_32:
		return object.Absolute32, nil
	case rX8664_32S:
		return object.AbsoluteSigned32, nil
	case rX8664PC32:
		return object.Relative32, nil
	case rX8664PLT32:
		return object.PLT32, nil
	case rX8664GOT32:
		return object.GOTIndex32, nil
	case rX8664GOTPCRel:
		return object.GOTRelative32, nil
	default:
		return 0, linkerr.Wrap(linkerr.KindInput, linkerr.ErrUnsupportedRelocationType, "relocation type %d", t)
	}
}
