// Package linktest provides small, hand-built object.Object fixtures for
// exercising the full pipeline end to end without a real assembler or
// compiler toolchain in the test environment. It plays the same role for
// internal/pipeline's tests that a tiny in-memory image builder plays for
// internal/grub's tests in the teacher: construct just enough of the real
// data shape to drive the code under test, nothing more.
package linktest

import (
	"github.com/flexld/flexld/internal/object"
)

// Env64 is the one Environment every fixture in this package uses:
// little-endian ELF64, x86-64, System V.
var Env64 = object.Environment{
	Class:   object.Elf64,
	Endian:  object.LittleEndian,
	ABI:     object.SystemV,
	Machine: object.MachineX86_64,
}

// NewObject creates an Object with Env64 already set, ready for a test to
// add sections and symbols to directly (bypassing internal/passes/loader,
// which this package's callers are specifically trying not to exercise).
func NewObject() *object.Object {
	obj := object.New()
	if err := obj.SetEnv(Env64); err != nil {
		panic(err)
	}
	return obj
}

// AddDataSection registers (or appends to) a section named name with the
// given perms and raw content, returning the live *object.Section so the
// caller can still add relocations to it before the pipeline runs.
func AddDataSection(obj *object.Object, name string, perms object.Perms, bytes []byte) *object.Section {
	nameID := obj.Interner.Intern(name)
	sec, _ := obj.GetOrCreateSection(nameID, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupDisabled, Bytes: append([]byte(nil), bytes...)}
	})
	return sec
}

// AddGlobalDefinition records name as a strong (or weak, if weak is true)
// global symbol defined at offset within sec, and returns its canonical
// SymbolID.
func AddGlobalDefinition(obj *object.Object, name string, sec *object.Section, offset uint64, weak bool) object.SymbolID {
	nameID := obj.Interner.Intern(name)
	id, err := obj.Symbols.AddGlobal(nameID, object.Function,
		object.Visibility{Global: true, Weak: weak},
		object.Value{Kind: object.ValueSectionRelative, Section: sec.ID, Offset: offset},
		object.Span{}, false)
	if err != nil {
		panic(err)
	}
	return id
}

// AddGlobalReference records a bare (still-undefined, until some other
// fixture call defines it) reference to name, returning its per-caller
// SymbolID for use in a Relocation.
func AddGlobalReference(obj *object.Object, name string) object.SymbolID {
	nameID := obj.Interner.Intern(name)
	id, err := obj.Symbols.AddGlobal(nameID, object.NoType, object.Visibility{Global: true},
		object.Value{Kind: object.ValueUndefined}, object.Span{}, false)
	if err != nil {
		panic(err)
	}
	return id
}

// AddRelocation appends a relocation to sec's Data content. It panics if
// sec's content is not *object.Data, since only data sections carry
// relocations.
func AddRelocation(sec *object.Section, rel object.Relocation) {
	data, ok := sec.Content.(*object.Data)
	if !ok {
		panic("linktest: AddRelocation on a non-Data section")
	}
	data.Relocations = append(data.Relocations, rel)
}
