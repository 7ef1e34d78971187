package object

import "testing"

func TestNewLayoutInitializesMaps(t *testing.T) {
	l := NewLayout()
	if l.Placements == nil {
		t.Error("Placements map is nil")
	}
	if l.Facades == nil {
		t.Error("Facades map is nil")
	}
	if len(l.Segments) != 0 {
		t.Errorf("Segments = %v, want empty", l.Segments)
	}
}

func TestLayoutPlacementRoundTrip(t *testing.T) {
	l := NewLayout()
	l.Placements[5] = Placement{Allocated: true, Address: 0x400000, Len: 64, FileOffset: 0x1000}
	got, ok := l.Placements[5]
	if !ok {
		t.Fatal("placement for section 5 not found")
	}
	if got.Address != 0x400000 || got.Len != 64 {
		t.Errorf("Placements[5] = %+v", got)
	}
}

func TestLayoutFacadeMapping(t *testing.T) {
	l := NewLayout()
	l.Facades[2] = Deduplication{Target: 1, Map: map[uint64]uint64{8: 0, 16: 4}, Source: 2}
	f := l.Facades[2]
	if f.Target != 1 {
		t.Errorf("Facades[2].Target = %d, want 1", f.Target)
	}
	if f.Map[8] != 0 || f.Map[16] != 4 {
		t.Errorf("Facades[2].Map = %v", f.Map)
	}
}
