package object

import "github.com/flexld/flexld/internal/interner"

// Span labels where a piece of the Object came from, for diagnostics and
// for the STT_FILE grouping the ELF builder needs when emitting .symtab.
type Span struct {
	// File is the interned path of the input object or archive member this
	// data came from.
	File interner.ID

	// ArchiveMember is the interned name of the archive member, or the zero
	// ID if this data came directly from a non-archive input.
	ArchiveMember interner.ID
}
