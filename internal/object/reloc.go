package object

// RelocType is the x86/x86-64 relocation family this linker understands.
// Each corresponds to an architecture relocation type (e.g. R_X86_64_PC32),
// but abstracts away the exact numeric encoding, which is the job of
// internal/elfformat.
type RelocType int

const (
	// Absolute32 writes u32(S + A).
	Absolute32 RelocType = iota
	// AbsoluteSigned32 writes i32(S + A); errors if out of range.
	AbsoluteSigned32
	// Relative32 writes i32(S + A - P). PC-relative.
	Relative32
	// PLT32 is like Relative32 but conventionally used for call targets;
	// this linker never emits real PLT stubs for it outside shared-object
	// mode, so it behaves identically to Relative32 unless a PLT slot was
	// assigned (see internal/passes/relocate's GOT/PLT generation).
	PLT32
	// GOTIndex32 writes u32(GOT[S] + A): the symbol's byte offset within
	// the GOT.
	GOTIndex32
	// GOTRelative32 writes i32(GOT[S] + G + A - P).
	GOTRelative32
	// GOTLocationRelative32 writes i32(G + A - P): the location of the GOT
	// itself, PC-relative.
	GOTLocationRelative32
	// OffsetFromGOT32 writes i32(S + A - G).
	OffsetFromGOT32
	// FillGotSlot writes a pointer-sized S into the GOT slot at the
	// relocation's offset.
	FillGotSlot
	// FillGotPltSlot is like FillGotSlot but targets the PLT's GOT.
	FillGotPltSlot
)

func (t RelocType) String() string {
	switch t {
	case Absolute32:
		return "Absolute32"
	case AbsoluteSigned32:
		return "AbsoluteSigned32"
	case Relative32:
		return "Relative32"
	case PLT32:
		return "PLT32"
	case GOTIndex32:
		return "GOTIndex32"
	case GOTRelative32:
		return "GOTRelative32"
	case GOTLocationRelative32:
		return "GOTLocationRelative32"
	case OffsetFromGOT32:
		return "OffsetFromGOT32"
	case FillGotSlot:
		return "FillGotSlot"
	case FillGotPltSlot:
		return "FillGotPltSlot"
	default:
		return "unknown relocation type"
	}
}

// NeedsGOT reports whether this relocation type requires its symbol to have
// an assigned GOT slot before it can be resolved.
func (t RelocType) NeedsGOT() bool {
	switch t {
	case GOTIndex32, GOTRelative32, OffsetFromGOT32, FillGotSlot:
		return true
	default:
		return false
	}
}

// Width returns the width in bytes of the field this relocation type
// patches. Every relocation type this linker supports patches a 32-bit
// field, except the pointer-sized GOT/PLT slot fills.
func (t RelocType) Width(class Class) int {
	switch t {
	case FillGotSlot, FillGotPltSlot:
		return class.PointerSize()
	default:
		return 4
	}
}

// Addend is the explicit-or-inline addend of a relocation. Explicit
// addends come from SHT_RELA entries; inline addends are read from the
// target bytes at relocation time for SHT_REL entries.
type Addend struct {
	explicit bool
	value    int64
}

// ExplicitAddend wraps an addend read directly from a RELA entry.
func ExplicitAddend(v int64) Addend {
	return Addend{explicit: true, value: v}
}

// InlineAddend indicates the addend must be read from the relocation site's
// current bytes (a REL entry has no addend field of its own).
var InlineAddend = Addend{}

// Explicit reports whether this addend came from a RELA entry, and if so,
// its value.
func (a Addend) Explicit() (int64, bool) {
	return a.value, a.explicit
}

// Relocation is a directive to patch bytes within a section once the
// referenced symbol's address is known.
type Relocation struct {
	Type   RelocType
	Symbol SymbolID
	Offset uint64
	Addend Addend
}
