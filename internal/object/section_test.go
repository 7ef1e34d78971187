package object

import "testing"

func TestDedupFixedSizeChunksPanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero-size chunk policy")
		}
	}()
	DedupFixedSizeChunks(0)
}

func TestDedupPolicyAccessors(t *testing.T) {
	if !DedupDisabled.Disabled() {
		t.Error("DedupDisabled.Disabled() = false")
	}
	if !DedupZeroTerminatedStrings.ZeroTerminatedStrings() {
		t.Error("DedupZeroTerminatedStrings.ZeroTerminatedStrings() = false")
	}
	p := DedupFixedSizeChunks(8)
	size, ok := p.FixedSizeChunks()
	if !ok || size != 8 {
		t.Errorf("FixedSizeChunks() = %d, %v; want 8, true", size, ok)
	}
	if _, ok := DedupDisabled.FixedSizeChunks(); ok {
		t.Error("DedupDisabled.FixedSizeChunks() ok = true, want false")
	}
}

func TestDedupPolicyEqual(t *testing.T) {
	a := DedupFixedSizeChunks(4)
	b := DedupFixedSizeChunks(4)
	c := DedupFixedSizeChunks(8)
	if !a.Equal(b) {
		t.Error("equal-size fixed chunk policies compared unequal")
	}
	if a.Equal(c) {
		t.Error("different-size fixed chunk policies compared equal")
	}
}

func TestSectionBoundsByContentKind(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    uint64
	}{
		{"data", &Data{Bytes: []byte{1, 2, 3}}, 3},
		{"uninitialized", &Uninitialized{Len: 16}, 16},
		{"strtab", &StringTableContent{Bytes: []byte{0, 'a', 0}}, 3},
		{"shstrtab", &SectionNameTableContent{Bytes: []byte{0}}, 1},
		{"symtab", &SymbolTableContent{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Section{Content: tt.content}
			if got := s.Bounds(); got != tt.want {
				t.Errorf("Bounds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSectionIsAllocated(t *testing.T) {
	alloc := &Section{Perms: Perms{Read: true}, Content: &Data{Bytes: []byte{1}}}
	if !alloc.IsAllocated() {
		t.Error("readable Data section should be allocated")
	}
	noPerms := &Section{Content: &Data{Bytes: []byte{1}}}
	if noPerms.IsAllocated() {
		t.Error("Data section with no permissions should not be allocated")
	}
	meta := &Section{Perms: Perms{Read: true}, Content: &SymbolTableContent{}}
	if meta.IsAllocated() {
		t.Error("SymbolTableContent should never be allocated regardless of perms")
	}
}

func TestSectionPartsAppendPreservesOrder(t *testing.T) {
	s := &Section{}
	s.AddPart(SectionPart{InputSectionID: 1, Len: 4})
	s.AddPart(SectionPart{InputSectionID: 2, Len: 8})
	parts := s.Parts()
	if len(parts) != 2 || parts[0].InputSectionID != 1 || parts[1].InputSectionID != 2 {
		t.Errorf("Parts() = %+v, want order [1, 2]", parts)
	}
}
