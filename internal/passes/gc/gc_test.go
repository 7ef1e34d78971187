package gc

import (
	"testing"

	"github.com/flexld/flexld/internal/object"
)

func newSection(obj *object.Object, name string, perms object.Perms, bytes []byte) *object.Section {
	nameID := obj.Interner.Intern(name)
	sec, _ := obj.GetOrCreateSection(nameID, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupDisabled, Bytes: bytes}
	})
	return sec
}

func TestRunRetainsSectionsReachableFromEntry(t *testing.T) {
	obj := object.New()

	start := newSection(obj, ".text.start", object.Perms{Read: true, Execute: true}, []byte{0, 0, 0, 0})
	live := newSection(obj, ".text.helper", object.Perms{Read: true, Execute: true}, []byte{0, 0, 0, 0})
	dead := newSection(obj, ".text.unused", object.Perms{Read: true, Execute: true}, []byte{0, 0, 0, 0})

	helperName := obj.Interner.Intern("helper")
	helperID, err := obj.Symbols.AddGlobal(helperName, object.Function, object.Visibility{Global: true},
		object.SectionRelative(live.ID, 0), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	startName := obj.Interner.Intern("_start")
	if _, err := obj.Symbols.AddGlobal(startName, object.Function, object.Visibility{Global: true},
		object.SectionRelative(start.ID, 0), object.Span{}, false); err != nil {
		t.Fatal(err)
	}

	data := start.Content.(*object.Data)
	data.Relocations = append(data.Relocations, object.Relocation{Type: object.Relative32, Symbol: helperID, Offset: 0})

	result, err := Run(obj, "_start")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if obj.Section(dead.ID) != nil {
		t.Error("unreferenced section should have been removed")
	}
	if obj.Section(live.ID) == nil {
		t.Error("section reachable through a relocation should be retained")
	}
	if obj.Section(start.ID) == nil {
		t.Error("entry point's own section should be retained")
	}

	if len(result.Removed) != 1 || result.Removed[0] != dead.ID {
		t.Errorf("Removed = %v, want [%d]", result.Removed, dead.ID)
	}
}

func TestRunRetainsInitArrayRegardlessOfReferences(t *testing.T) {
	obj := object.New()
	initArray := newSection(obj, ".init_array", object.Perms{Read: true, Write: true}, []byte{0, 0, 0, 0, 0, 0, 0, 0})

	if _, err := Run(obj, ""); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if obj.Section(initArray.ID) == nil {
		t.Error(".init_array should be retained as a root even with no inbound references")
	}
}

func TestRunPurgesSymbolsIntoRemovedSections(t *testing.T) {
	obj := object.New()
	dead := newSection(obj, ".text.unused", object.Perms{Read: true, Execute: true}, []byte{0, 0, 0, 0})

	name := obj.Interner.Intern("unused_fn")
	id, err := obj.Symbols.AddGlobal(name, object.Function, object.Visibility{Global: true},
		object.SectionRelative(dead.ID, 0), object.Span{}, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Run(obj, ""); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if _, _, err := obj.Symbols.Resolve(id); err == nil {
		t.Error("symbol pointing into a removed section should have been purged")
	}
}
