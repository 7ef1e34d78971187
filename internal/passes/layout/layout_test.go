package layout

import (
	"testing"

	"github.com/flexld/flexld/internal/object"
)

func newDataSection(obj *object.Object, name string, perms object.Perms, size int) *object.Section {
	nameID := obj.Interner.Intern(name)
	sec, _ := obj.GetOrCreateSection(nameID, perms, object.Span{}, func() object.Content {
		return &object.Data{Dedup: object.DedupDisabled, Bytes: make([]byte, size)}
	})
	return sec
}

func TestRunGroupsSectionsByPermsInFixedOrder(t *testing.T) {
	obj := object.New()
	rodata := newDataSection(obj, ".rodata", object.Perms{Read: true}, 16)
	text := newDataSection(obj, ".text", object.Perms{Read: true, Execute: true}, 32)
	data := newDataSection(obj, ".data", object.Perms{Read: true, Write: true}, 8)

	if err := Run(obj, Options{BaseAddress: 0x400000, PageAlign: 0x1000}); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(obj.Layout.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(obj.Layout.Segments))
	}
	if obj.Layout.Segments[0].SectionIDs[0] != rodata.ID {
		t.Error("first segment should be the read-only group")
	}
	if obj.Layout.Segments[1].SectionIDs[0] != text.ID {
		t.Error("second segment should be the executable group")
	}
	if obj.Layout.Segments[2].SectionIDs[0] != data.ID {
		t.Error("third segment should be the read-write group")
	}

	for i := 1; i < len(obj.Layout.Segments); i++ {
		if obj.Layout.Segments[i].Start <= obj.Layout.Segments[i-1].Start {
			t.Errorf("segment %d does not start after segment %d", i, i-1)
		}
	}
}

func TestRunPageAlignsEachSegmentStart(t *testing.T) {
	obj := object.New()
	newDataSection(obj, ".rodata", object.Perms{Read: true}, 10)
	newDataSection(obj, ".text", object.Perms{Read: true, Execute: true}, 10)

	if err := Run(obj, Options{BaseAddress: 0x400000, PageAlign: 0x1000}); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	for _, seg := range obj.Layout.Segments {
		if seg.Start%0x1000 != 0 {
			t.Errorf("segment start 0x%x is not page-aligned", seg.Start)
		}
	}
}

func TestRunPacksSectionsContiguouslyWithinASegment(t *testing.T) {
	obj := object.New()
	a := newDataSection(obj, ".rodata.a", object.Perms{Read: true}, 10)
	b := newDataSection(obj, ".rodata.b", object.Perms{Read: true}, 20)

	if err := Run(obj, Options{BaseAddress: 0x400000, PageAlign: 0x1000}); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	pa := obj.Layout.Placements[a.ID]
	pb := obj.Layout.Placements[b.ID]
	if pb.Address != pa.Address+pa.Len {
		t.Errorf("b.Address = 0x%x, want 0x%x (immediately after a)", pb.Address, pa.Address+pa.Len)
	}
}

func TestRunTracksUninitializedLengthWithoutFileLength(t *testing.T) {
	obj := object.New()
	data := newDataSection(obj, ".data", object.Perms{Read: true, Write: true}, 16)
	bssName := obj.Interner.Intern(".bss")
	bss, _ := obj.GetOrCreateSection(bssName, object.Perms{Read: true, Write: true}, object.Span{}, func() object.Content {
		return &object.Uninitialized{Len: 32}
	})

	if err := Run(obj, Options{BaseAddress: 0x400000, PageAlign: 0x1000}); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	seg := obj.Layout.Segments[0]
	if seg.Len != 16+32 {
		t.Errorf("Segment.Len = %d, want 48 (includes bss)", seg.Len)
	}
	if seg.FileLen != 16 {
		t.Errorf("Segment.FileLen = %d, want 16 (excludes bss)", seg.FileLen)
	}

	pbss := obj.Layout.Placements[bss.ID]
	if pbss.Address != obj.Layout.Placements[data.ID].Address+16 {
		t.Error("bss should be placed immediately after .data in memory")
	}
}

func TestRunExcludesUnallocatedSections(t *testing.T) {
	obj := object.New()
	strName := obj.Interner.Intern(".strtab")
	strSec, _ := obj.GetOrCreateSection(strName, object.Perms{}, object.Span{}, func() object.Content {
		return &object.StringTableContent{Bytes: []byte("foo\x00")}
	})

	if err := Run(obj, Options{BaseAddress: 0x400000, PageAlign: 0x1000}); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	p := obj.Layout.Placements[strSec.ID]
	if p.Allocated {
		t.Error(".strtab should not be allocated")
	}
	if len(obj.Layout.Segments) != 0 {
		t.Errorf("got %d segments, want 0 (nothing allocated)", len(obj.Layout.Segments))
	}
}
