package object

import "github.com/flexld/flexld/internal/interner"

// SymbolID is a dense integer ID for a symbol within an Object's
// SymbolTable. ID 0 is always the dedicated null symbol.
type SymbolID int

// NullSymbolID is the reserved ID of the always-present null symbol.
const NullSymbolID SymbolID = 0

// SymbolKind classifies what a symbol names.
type SymbolKind int

const (
	NoType SymbolKind = iota
	Function
	Object_ // trailing underscore to avoid clashing with the object package name in prose
	SectionKind
)

// Visibility is either Local (scoped to the defining input) or Global (a
// name resolved across every input and archive member).
type Visibility struct {
	Global bool
	Weak   bool
	Hidden bool
}

// Local is the Visibility of a local symbol.
var Local = Visibility{}

// ValueKind enumerates how a Symbol's location is expressed. The zero value
// is Null (never legal as a real symbol's value outside the table's
// dedicated null symbol).
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueUndefined
	ValueAbsolute
	ValueSectionRelative
	ValueSectionVirtualAddress
	ValueExternallyDefined
	ValueSectionNotLoaded
)

// Value is the tagged location of a Symbol.
type Value struct {
	Kind    ValueKind
	Abs     uint64    // ValueAbsolute, or ValueSectionVirtualAddress
	Section SectionID // ValueSectionRelative
	Offset  uint64    // ValueSectionRelative
}

// Undefined is the Value of a symbol with no definition yet.
var Undefined = Value{Kind: ValueUndefined}

// Absolute returns the Value for an absolute symbol.
func Absolute(v uint64) Value {
	return Value{Kind: ValueAbsolute, Abs: v}
}

// SectionRelative returns the Value for a symbol defined relative to a
// section's start, before layout has assigned addresses.
func SectionRelative(section SectionID, offset uint64) Value {
	return Value{Kind: ValueSectionRelative, Section: section, Offset: offset}
}

// SectionVirtualAddress returns the Value for a symbol whose address has
// been resolved by the layout planner.
func SectionVirtualAddress(addr uint64) Value {
	return Value{Kind: ValueSectionVirtualAddress, Abs: addr}
}

// ExternallyDefined is the Value of a symbol resolved outside this link
// (e.g. provided by the dynamic linker at runtime).
var ExternallyDefined = Value{Kind: ValueExternallyDefined}

// SectionNotLoaded is the Value of a symbol whose defining section existed
// at load time but was not carried into the final layout (e.g. debug-only
// sections).
var SectionNotLoaded = Value{Kind: ValueSectionNotLoaded}

// Symbol is a named (or anonymous) reference to a value or address.
type Symbol struct {
	ID              SymbolID
	Name            interner.ID
	Kind            SymbolKind
	Visibility      Visibility
	Value           Value
	STTFile         *interner.ID
	NeededByDynamic bool
	Span            Span
}
