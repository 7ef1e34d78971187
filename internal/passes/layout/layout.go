// Package layout assigns memory addresses to every allocated section,
// groups them into permission-homogeneous load segments, and resolves each
// deduplication facade's effective address. It runs after
// internal/passes/dedup (and, if enabled, internal/passes/gc) and before
// internal/passes/relocate, which needs every section's final address to
// resolve symbols.
package layout

import (
	"sort"

	"github.com/flexld/flexld/internal/align"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

// DefaultPageAlign is the page size load segments are aligned to when a
// caller doesn't override it (4 KiB, the x86/x86-64 page size).
const DefaultPageAlign = 0x1000

// Options configures one layout run.
type Options struct {
	BaseAddress uint64
	PageAlign   uint64
}

// groupOrder fixes the order segments are emitted in: read-only data first,
// then executable code, then read-write data. This is the conventional
// ELF segment order and what makes program headers come out already
// sorted by ascending virtual address without a separate sort pass over
// segments (sections within a group still need to be collected in
// insertion order, which object.Sections already provides).
type group int

const (
	groupReadOnly group = iota
	groupExecutable
	groupReadWrite
	groupCount
)

func groupOf(perms object.Perms) group {
	switch {
	case perms.Write:
		return groupReadWrite
	case perms.Execute:
		return groupExecutable
	default:
		return groupReadOnly
	}
}

// Run assigns addresses and builds the segment list. It is safe to call
// more than once (e.g. internal/passes/relocate's GOT/PLT refinement step
// reruns it after adding freshly synthesized sections); previous placements
// for still-present sections are simply overwritten.
func Run(obj *object.Object, opts Options) error {
	if opts.PageAlign == 0 {
		opts.PageAlign = DefaultPageAlign
	}
	if obj.Layout == nil {
		obj.Layout = object.NewLayout()
	}

	var groups [groupCount][]*object.Section
	for _, sec := range obj.Sections() {
		if !sec.IsAllocated() {
			obj.Layout.Placements[sec.ID] = object.Placement{Allocated: false}
			continue
		}
		g := groupOf(sec.Perms)
		groups[g] = append(groups[g], sec)
	}

	addr := opts.BaseAddress
	var segments []object.Segment

	for _, secs := range groups {
		if len(secs) == 0 {
			continue
		}

		addr = align.Address(addr, opts.PageAlign)
		segStart := addr
		var fileEnd uint64
		anyData := false
		ids := make([]object.SectionID, 0, len(secs))

		for _, sec := range secs {
			secAlign := sec.Align
			if secAlign == 0 {
				secAlign = 1
			}
			addr = align.Address(addr, secAlign)

			length := sec.Bounds()
			obj.Layout.Placements[sec.ID] = object.Placement{
				Allocated: true,
				Address:   addr,
				Len:       length,
			}
			ids = append(ids, sec.ID)
			addr += length

			if _, ok := sec.Content.(*object.Data); ok {
				anyData = true
				fileEnd = addr
			}
		}

		segType := object.SegmentProgram
		if !anyData {
			segType = object.SegmentUninitialized
		}

		segFileLen := uint64(0)
		if fileEnd > segStart {
			segFileLen = fileEnd - segStart
		}

		segments = append(segments, object.Segment{
			Start:      segStart,
			Len:        addr - segStart,
			FileLen:    segFileLen,
			Align:      opts.PageAlign,
			Type:       segType,
			Perms:      secs[0].Perms,
			SectionIDs: ids,
		})
	}

	obj.Layout.Segments = segments

	// Facade addresses are not stored separately: a facade's effective
	// address is target_section.address, looked up directly from
	// obj.Layout.Placements at relocation time (see internal/passes/relocate),
	// so there is nothing further to resolve here.

	return checkNoOverlap(obj.Layout.Segments)
}

// checkNoOverlap verifies the universal non-overlap property: for all pairs
// of allocated sections, one entirely precedes the other in memory. Since
// sections within a segment are packed contiguously by construction and
// segments themselves never overlap (each one starts after the previous
// one's end, rounded up), a single adjacent-pair scan over segments
// sorted by Start is sufficient.
func checkNoOverlap(segments []object.Segment) error {
	sorted := make([]object.Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].Start+sorted[i-1].Len {
			return linkerr.Wrap(linkerr.KindLayout, linkerr.ErrSegmentsOverlap,
				"segment at 0x%x (len 0x%x) overlaps segment at 0x%x", sorted[i-1].Start, sorted[i-1].Len, sorted[i].Start)
		}
	}
	return nil
}
