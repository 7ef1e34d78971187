package object

// SegmentType distinguishes a normal loadable segment from the
// uninitialized (BSS-only) tail of a segment's memory span.
type SegmentType int

const (
	SegmentProgram SegmentType = iota
	SegmentUninitialized
)

// Segment groups one or more same-permission sections into a single
// runtime-loadable region.
type Segment struct {
	Start   uint64
	Len     uint64 // memory length, includes Uninitialized sections
	FileLen uint64 // file length, excludes Uninitialized sections
	Align   uint64
	Type    SegmentType
	Perms   Perms

	FileOffset uint64
	SectionIDs []SectionID
}

// Placement records where (if anywhere) a section landed in memory.
type Placement struct {
	Allocated bool
	Address   uint64
	Len       uint64

	FileOffset uint64
}

// Deduplication is the facade left behind when a group of sections is
// collapsed into one canonical section: "offsets into me are now offsets
// into that canonical section, via this table." Facades never reference
// other facades, which keeps resolution O(1) and avoids the cyclic-graph
// rewrite a more literal merge would require.
type Deduplication struct {
	Target SectionID
	Map    map[uint64]uint64
	Source SectionID
}

// Layout is the output of the layout planner: per-section placement, the
// segment list, and the deduplication facade table.
type Layout struct {
	Placements map[SectionID]Placement
	Segments   []Segment
	Facades    map[SectionID]Deduplication
}

// NewLayout creates an empty Layout ready to be filled in by
// internal/passes/layout.
func NewLayout() *Layout {
	return &Layout{
		Placements: make(map[SectionID]Placement),
		Facades:    make(map[SectionID]Deduplication),
	}
}
