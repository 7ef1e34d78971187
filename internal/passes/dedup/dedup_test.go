package dedup

import (
	"errors"
	"testing"

	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

func newTestObject() *object.Object {
	return object.New()
}

func TestMergePartsConcatenatesInOrderAndShiftsRelocations(t *testing.T) {
	obj := newTestObject()
	name := obj.Interner.Intern(".text")
	perms := object.Perms{Read: true, Execute: true}

	sec, _ := obj.GetOrCreateSection(name, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupDisabled}
	})

	sec.AddPart(object.SectionPart{
		RawBytes: []byte{1, 2, 3, 4},
		Len:      4,
		Relocations: []object.Relocation{
			{Type: object.Absolute32, Offset: 1},
		},
	})
	sec.AddPart(object.SectionPart{
		RawBytes: []byte{5, 6},
		Len:      2,
		Relocations: []object.Relocation{
			{Type: object.Relative32, Offset: 0},
		},
	})

	if err := mergeParts(sec); err != nil {
		t.Fatalf("mergeParts error: %v", err)
	}

	data := sec.Content.(*object.Data)
	want := []byte{1, 2, 3, 4, 5, 6}
	if string(data.Bytes) != string(want) {
		t.Errorf("Bytes = %v, want %v", data.Bytes, want)
	}

	if len(data.Relocations) != 2 {
		t.Fatalf("got %d relocations, want 2", len(data.Relocations))
	}
	if data.Relocations[0].Offset != 1 {
		t.Errorf("first relocation offset = %d, want 1 (unshifted)", data.Relocations[0].Offset)
	}
	if data.Relocations[1].Offset != 4 {
		t.Errorf("second relocation offset = %d, want 4 (shifted by part 1's length)", data.Relocations[1].Offset)
	}

	parts := sec.Parts()
	if parts[0].Offset != 0 || parts[1].Offset != 4 {
		t.Errorf("part offsets = [%d, %d], want [0, 4]", parts[0].Offset, parts[1].Offset)
	}
}

func TestMergePartsRejectsRelocationsUnderDedupPolicy(t *testing.T) {
	obj := newTestObject()
	name := obj.Interner.Intern(".rodata.str1.1")
	perms := object.Perms{Read: true}

	sec, _ := obj.GetOrCreateSection(name, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupZeroTerminatedStrings}
	})
	sec.AddPart(object.SectionPart{
		RawBytes:    []byte("a\x00"),
		Len:         2,
		Relocations: []object.Relocation{{Type: object.Absolute32}},
	})

	err := mergeParts(sec)
	if !errors.Is(err, linkerr.ErrRelocationsUnsupported) {
		t.Errorf("err = %v, want ErrRelocationsUnsupported", err)
	}
}

func TestMergePartsSumsUninitializedLength(t *testing.T) {
	obj := newTestObject()
	name := obj.Interner.Intern(".bss")
	perms := object.Perms{Read: true, Write: true}

	sec, _ := obj.GetOrCreateSection(name, perms, object.Span{}, func() object.Content {
		return &object.Uninitialized{}
	})
	sec.AddPart(object.SectionPart{Len: 8})
	sec.AddPart(object.SectionPart{Len: 16})

	if err := mergeParts(sec); err != nil {
		t.Fatalf("mergeParts error: %v", err)
	}

	u := sec.Content.(*object.Uninitialized)
	if u.Len != 24 {
		t.Errorf("Len = %d, want 24", u.Len)
	}
	parts := sec.Parts()
	if parts[0].Offset != 0 || parts[1].Offset != 8 {
		t.Errorf("part offsets = [%d, %d], want [0, 8]", parts[0].Offset, parts[1].Offset)
	}
}

func TestDeduplicateZeroTerminatedStringsCollapsesDuplicates(t *testing.T) {
	obj := newTestObject()
	name := obj.Interner.Intern(".rodata.str1.1")
	perms := object.Perms{Read: true}

	sec, _ := obj.GetOrCreateSection(name, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupZeroTerminatedStrings, Bytes: []byte("hi\x00bye\x00hi\x00")}
	})
	oldID := sec.ID

	if err := deduplicate(obj, sec); err != nil {
		t.Fatalf("deduplicate error: %v", err)
	}

	facade, ok := obj.Layout.Facades[oldID]
	if !ok {
		t.Fatal("expected a Deduplication facade for the replaced section")
	}

	newSec := obj.Section(facade.Target)
	if newSec == nil {
		t.Fatal("facade target section not found")
	}
	newData := newSec.Content.(*object.Data)
	if string(newData.Bytes) != "hi\x00bye\x00" {
		t.Errorf("canonical bytes = %q, want %q", newData.Bytes, "hi\x00bye\x00")
	}
	if facade.Map[6] != 0 {
		t.Errorf("facade.Map[6] = %d, want 0 (second \"hi\\x00\" collapses onto the first)", facade.Map[6])
	}

	if obj.Section(oldID) != nil {
		t.Error("old section should have been removed")
	}
}

func TestDeduplicateFixedSizeChunksRejectsUnevenSize(t *testing.T) {
	obj := newTestObject()
	name := obj.Interner.Intern(".rodata.cst8")
	perms := object.Perms{Read: true}

	sec, _ := obj.GetOrCreateSection(name, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupFixedSizeChunks(8), Bytes: make([]byte, 10)}
	})

	err := deduplicate(obj, sec)
	if !errors.Is(err, linkerr.ErrUnevenChunkSize) {
		t.Errorf("err = %v, want ErrUnevenChunkSize", err)
	}
}

func TestDeduplicateLeavesDisabledSectionsUntouched(t *testing.T) {
	obj := newTestObject()
	name := obj.Interner.Intern(".text")
	perms := object.Perms{Read: true, Execute: true}

	sec, _ := obj.GetOrCreateSection(name, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupDisabled, Bytes: []byte{1, 2, 3}}
	})

	if err := deduplicate(obj, sec); err != nil {
		t.Fatalf("deduplicate error: %v", err)
	}
	if obj.Section(sec.ID) == nil {
		t.Error("disabled-dedup section should not have been removed")
	}
}
