package relocate

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
	"github.com/flexld/flexld/internal/passes/layout"
)

func newEnv(obj *object.Object) {
	if err := obj.SetEnv(object.Environment{
		Class:   object.Elf64,
		Endian:  object.LittleEndian,
		ABI:     object.SystemV,
		Machine: object.MachineX86_64,
	}); err != nil {
		panic(err)
	}
}

func newSection(obj *object.Object, name string, perms object.Perms, bytes []byte) *object.Section {
	nameID := obj.Interner.Intern(name)
	sec, _ := obj.GetOrCreateSection(nameID, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupDisabled, Bytes: bytes}
	})
	return sec
}

func defaultOptions() Options {
	return Options{Options: layout.Options{BaseAddress: 0x400000, PageAlign: 0x1000}}
}

func TestRunAppliesAbsoluteRelocation(t *testing.T) {
	obj := object.New()
	newEnv(obj)

	target := newSection(obj, ".data", object.Perms{Read: true, Write: true}, make([]byte, 8))
	name := obj.Interner.Intern("target")
	symID, err := obj.Symbols.AddGlobal(name, object.Object_, object.Visibility{Global: true},
		object.SectionRelative(target.ID, 4), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	text := newSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 4))
	text.Content.(*object.Data).Relocations = []object.Relocation{
		{Type: object.Absolute32, Symbol: symID, Offset: 0, Addend: object.ExplicitAddend(0)},
	}

	if err := Run(obj, defaultOptions()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := uint32(obj.Layout.Placements[target.ID].Address + 4)
	got := binary.LittleEndian.Uint32(text.Content.(*object.Data).Bytes)
	if got != want {
		t.Errorf("patched value = %#x, want %#x", got, want)
	}
	if len(text.Content.(*object.Data).Relocations) != 0 {
		t.Error("relocation should be consumed (drained) after Run")
	}
}

func TestRunRejectsRelativeRelocationAgainstAbsoluteSymbol(t *testing.T) {
	obj := object.New()
	newEnv(obj)

	name := obj.Interner.Intern("constant")
	symID, err := obj.Symbols.AddGlobal(name, object.NoType, object.Visibility{Global: true},
		object.Absolute(0x1000), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	text := newSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 4))
	text.Content.(*object.Data).Relocations = []object.Relocation{
		{Type: object.Relative32, Symbol: symID, Offset: 0, Addend: object.ExplicitAddend(0)},
	}

	err = Run(obj, defaultOptions())
	if !errors.Is(err, linkerr.ErrRelativeRelocationAgainstAbsoluteSymbol) {
		t.Fatalf("got error %v, want ErrRelativeRelocationAgainstAbsoluteSymbol", err)
	}
}

func TestRunGeneratesGotSlotAndFillsIt(t *testing.T) {
	obj := object.New()
	newEnv(obj)

	target := newSection(obj, ".rodata", object.Perms{Read: true}, make([]byte, 8))
	name := obj.Interner.Intern("target")
	symID, err := obj.Symbols.AddGlobal(name, object.Object_, object.Visibility{Global: true},
		object.SectionRelative(target.ID, 0), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	text := newSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 4))
	text.Content.(*object.Data).Relocations = []object.Relocation{
		{Type: object.GOTIndex32, Symbol: symID, Offset: 0, Addend: object.ExplicitAddend(0)},
	}

	if err := Run(obj, defaultOptions()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	var gotSec *object.Section
	for _, sec := range obj.Sections() {
		if obj.Interner.Lookup(sec.Name) == ".got" {
			gotSec = sec
		}
	}
	if gotSec == nil {
		t.Fatal(".got section was not synthesized")
	}

	gotBytes := gotSec.Content.(*object.Data).Bytes
	slotValue := binary.LittleEndian.Uint64(gotBytes[0:8])
	wantSlotValue := obj.Layout.Placements[target.ID].Address
	if slotValue != wantSlotValue {
		t.Errorf(".got slot = %#x, want %#x", slotValue, wantSlotValue)
	}

	indexValue := binary.LittleEndian.Uint32(text.Content.(*object.Data).Bytes)
	if indexValue != 0 {
		t.Errorf("GOTIndex32 patch = %#x, want 0 (first and only slot)", indexValue)
	}
}

func TestRunResolvesThroughDeduplicationFacade(t *testing.T) {
	obj := object.New()
	newEnv(obj)

	canonical := newSection(obj, ".rodata.merged", object.Perms{Read: true}, make([]byte, 16))

	obj.Layout = object.NewLayout()
	const removedSectionID object.SectionID = 999
	obj.Layout.Facades[removedSectionID] = object.Deduplication{
		Target: canonical.ID,
		Map:    map[uint64]uint64{0: 0, 8: 8},
		Source: removedSectionID,
	}

	name := obj.Interner.Intern("str")
	symID, err := obj.Symbols.AddGlobal(name, object.Object_, object.Visibility{Global: true},
		object.SectionRelative(removedSectionID, 8), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	text := newSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 4))
	text.Content.(*object.Data).Relocations = []object.Relocation{
		{Type: object.Absolute32, Symbol: symID, Offset: 0, Addend: object.ExplicitAddend(0)},
	}

	if err := Run(obj, defaultOptions()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := uint32(obj.Layout.Placements[canonical.ID].Address + 8)
	got := binary.LittleEndian.Uint32(text.Content.(*object.Data).Bytes)
	if got != want {
		t.Errorf("patched value = %#x, want %#x (resolved through facade)", got, want)
	}
}

func TestRunRejectsOutOfBoundsRelocation(t *testing.T) {
	obj := object.New()
	newEnv(obj)

	target := newSection(obj, ".data", object.Perms{Read: true, Write: true}, make([]byte, 8))
	name := obj.Interner.Intern("target")
	symID, err := obj.Symbols.AddGlobal(name, object.Object_, object.Visibility{Global: true},
		object.SectionRelative(target.ID, 0), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	text := newSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 2))
	text.Content.(*object.Data).Relocations = []object.Relocation{
		{Type: object.Absolute32, Symbol: symID, Offset: 0, Addend: object.ExplicitAddend(0)},
	}

	err = Run(obj, defaultOptions())
	if !errors.Is(err, linkerr.ErrOutOfBoundsAccess) {
		t.Fatalf("got error %v, want ErrOutOfBoundsAccess", err)
	}
}

func TestRunReadsInlineAddendWhenNotExplicit(t *testing.T) {
	obj := object.New()
	newEnv(obj)

	target := newSection(obj, ".data", object.Perms{Read: true, Write: true}, make([]byte, 8))
	name := obj.Interner.Intern("target")
	symID, err := obj.Symbols.AddGlobal(name, object.Object_, object.Visibility{Global: true},
		object.SectionRelative(target.ID, 0), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	text := newSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 4))
	binary.LittleEndian.PutUint32(text.Content.(*object.Data).Bytes, 4)
	text.Content.(*object.Data).Relocations = []object.Relocation{
		{Type: object.Absolute32, Symbol: symID, Offset: 0, Addend: object.InlineAddend},
	}

	if err := Run(obj, defaultOptions()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := uint32(obj.Layout.Placements[target.ID].Address + 4)
	got := binary.LittleEndian.Uint32(text.Content.(*object.Data).Bytes)
	if got != want {
		t.Errorf("patched value = %#x, want %#x", got, want)
	}
}
