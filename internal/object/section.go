package object

import "github.com/flexld/flexld/internal/interner"

// SectionID is a dense integer ID for a section within an Object. IDs are
// never reused, even after a section is removed by GC or merge, so a stale
// SectionID is always a sign of a bug rather than an alias for something
// new.
type SectionID int

// Perms is the permission set of a section: readable, writable, executable.
type Perms struct {
	Read    bool
	Write   bool
	Execute bool
}

// DedupPolicy controls how a data section's contents are deduplicated
// against same-(name, perms) sections from other inputs.
type DedupPolicy struct {
	kind      dedupKind
	chunkSize uint64 // only meaningful when kind == dedupFixedSizeChunks
}

type dedupKind int

const (
	dedupDisabled dedupKind = iota
	dedupZeroTerminatedStrings
	dedupFixedSizeChunks
)

// DedupDisabled means the section's content is kept exactly as laid out by
// its inputs; it may carry relocations.
var DedupDisabled = DedupPolicy{kind: dedupDisabled}

// DedupZeroTerminatedStrings splits the section into NUL-terminated chunks
// (e.g. ".rodata.str1.1").
var DedupZeroTerminatedStrings = DedupPolicy{kind: dedupZeroTerminatedStrings}

// DedupFixedSizeChunks splits the section into chunks of exactly size
// bytes. size must be > 0.
func DedupFixedSizeChunks(size uint64) DedupPolicy {
	if size == 0 {
		panic("object: DedupFixedSizeChunks requires size > 0")
	}
	return DedupPolicy{kind: dedupFixedSizeChunks, chunkSize: size}
}

// Disabled reports whether this is DedupDisabled.
func (d DedupPolicy) Disabled() bool { return d.kind == dedupDisabled }

// ZeroTerminatedStrings reports whether this is DedupZeroTerminatedStrings.
func (d DedupPolicy) ZeroTerminatedStrings() bool {
	return d.kind == dedupZeroTerminatedStrings
}

// FixedSizeChunks reports whether this is a DedupFixedSizeChunks policy, and
// if so, returns its chunk size.
func (d DedupPolicy) FixedSizeChunks() (size uint64, ok bool) {
	if d.kind == dedupFixedSizeChunks {
		return d.chunkSize, true
	}
	return 0, false
}

// Equal reports whether d and other are the same policy (same kind and, for
// fixed-size chunks, the same chunk size).
func (d DedupPolicy) Equal(other DedupPolicy) bool {
	return d == other
}

func (d DedupPolicy) String() string {
	switch d.kind {
	case dedupDisabled:
		return "disabled"
	case dedupZeroTerminatedStrings:
		return "zero-terminated-strings"
	case dedupFixedSizeChunks:
		return "fixed-size-chunks"
	default:
		return "unknown"
	}
}

// Content is the sealed set of possible contents a Section may hold.
// Data and Uninitialized may appear on input; the rest are emitted-only,
// produced by later passes (mainly elfbuild) and never read from an input
// object.
type Content interface {
	isContent()
}

// Data is a section backed by concrete bytes, with an optional relocation
// list and deduplication policy.
type Data struct {
	Dedup       DedupPolicy
	Bytes       []byte
	Relocations []Relocation
}

func (*Data) isContent() {}

// Uninitialized is a zero-filled, runtime-reserved section (SHT_NOBITS,
// e.g. .bss). It carries no bytes on disk.
type Uninitialized struct {
	Len uint64
}

func (*Uninitialized) isContent() {}

// SymbolTableContent marks a section as the emitted .symtab.
type SymbolTableContent struct {
	// LinkedStringTable is the SectionID of the string table holding the
	// names referenced by this symbol table's entries.
	LinkedStringTable SectionID
}

func (*SymbolTableContent) isContent() {}

// StringTableContent marks a section as an emitted string table (.strtab or
// .shstrtab).
type StringTableContent struct {
	Bytes []byte
}

func (*StringTableContent) isContent() {}

// RelocationTableContent marks a section as an emitted relocation table
// (retained only for shared-object output).
type RelocationTableContent struct {
	Target      SectionID
	HasAddend   bool
	Relocations []Relocation
}

func (*RelocationTableContent) isContent() {}

// DynamicContent marks a section as the emitted .dynamic section.
type DynamicContent struct {
	Entries []DynamicEntry
}

func (*DynamicContent) isContent() {}

// DynamicEntry is one Elf{32,64}_Dyn entry.
type DynamicEntry struct {
	Tag   int64
	Value uint64
}

// SysVHashContent marks a section as the emitted SysV symbol hash table.
type SysVHashContent struct {
	Buckets []uint32
	Chain   []uint32
}

func (*SysVHashContent) isContent() {}

// SectionNameTableContent marks the emitted .shstrtab.
type SectionNameTableContent struct {
	Bytes []byte
}

func (*SectionNameTableContent) isContent() {}

// Section is a contiguous region with a name, permissions, and content.
type Section struct {
	ID      SectionID
	Name    interner.ID
	Source  Span
	Perms   Perms
	Content Content

	// Align is the section's natural alignment requirement in bytes (the
	// input ELF's sh_addralign), used by internal/passes/layout to decide
	// whether a section needs padding before it within its segment. 0 and 1
	// both mean "no alignment requirement"; GetOrCreateSection callers that
	// never set this get the zero value, which layout treats as 1.
	Align uint64

	// parts records, for a section still in its pre-merge state, the
	// per-input contributions keyed by the input's own section ID. This is
	// what lets the dedup pass and the relocator translate an input-local
	// relocation offset into the merged section's coordinate space. Merging
	// does not clear it, so the parts stay readable after dedup/merge has
	// run.
	parts []SectionPart
}

// SectionPart is one input's contribution to a not-yet-merged section. The
// loader appends one of these per input section that lands in a given
// (name, perms) group; internal/passes/dedup concatenates RawBytes (data
// sections) or sums Len (uninitialized sections) in the order parts were
// added, and shifts each part's relocations by its resulting Offset.
type SectionPart struct {
	// InputSectionID is an opaque key unique within the input object the
	// part came from; the loader uses it to find the part a relocation
	// section targets.
	InputSectionID int
	Source         Span
	Offset         uint64 // offset of this part within the merged section, filled in by dedup's concatenation step
	Len            uint64
	RawBytes       []byte       // nil for Uninitialized parts
	Relocations    []Relocation // this part's relocations, still in input-local offsets
}

// Parts returns the section's unmerged per-input contributions, if any.
func (s *Section) Parts() []SectionPart {
	return s.parts
}

// AddPart appends a per-input contribution to this section's parts list,
// preserving insertion order (the order parts were added is the order they
// appear in the final merged output).
func (s *Section) AddPart(p SectionPart) {
	s.parts = append(s.parts, p)
}

// Bounds returns the section's length in bytes, regardless of content kind.
func (s *Section) Bounds() uint64 {
	switch c := s.Content.(type) {
	case *Data:
		return uint64(len(c.Bytes))
	case *Uninitialized:
		return c.Len
	case *StringTableContent:
		return uint64(len(c.Bytes))
	case *SectionNameTableContent:
		return uint64(len(c.Bytes))
	default:
		return 0
	}
}

// IsAllocated reports whether this section occupies runtime memory (i.e.
// should participate in layout). Emitted-only metadata sections such as
// .symtab/.strtab/.shstrtab are not allocated.
func (s *Section) IsAllocated() bool {
	switch s.Content.(type) {
	case *Data, *Uninitialized:
		return s.Perms.Read || s.Perms.Write || s.Perms.Execute
	default:
		return false
	}
}
