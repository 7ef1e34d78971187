package loader

import (
	"debug/elf"

	"github.com/flexld/flexld/internal/elfformat"
	"github.com/flexld/flexld/internal/interner"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

// mergeSymbols loads one input's symbol table into obj.Symbols, returning a
// map from the symbol's real (1-based, matching RawRelocation.SymIndex)
// symtab index to the object.SymbolID it was assigned. debug/elf's
// f.Symbols() already strips the reserved null entry at index 0, so raw
// index j corresponds to real symtab index j+1.
func mergeSymbols(raw *elfformat.RawObject, sectionIDs map[int]object.SectionID, span object.Span, obj *object.Object) (map[int]object.SymbolID, error) {
	ids := make(map[int]object.SymbolID, len(raw.Symbols))

	var currentFile *interner.ID

	for j, rsym := range raw.Symbols {
		realIndex := j + 1

		kind := symbolKindOf(rsym.Info)

		if rsym.Info == elf.SymType(elf.STT_FILE) {
			name := obj.Interner.Intern(rsym.Name)
			currentFile = &name
			// STT_FILE itself is not a relocatable reference; it has no
			// useful SymbolID, but one is still allocated so raw indices
			// stay aligned for any (unusual) relocation that names it.
			id := obj.Symbols.AddLocal(name, object.NoType, object.Undefined, span, nil)
			ids[realIndex] = id
			continue
		}

		value, err := symbolValueOf(rsym, sectionIDs)
		if err != nil {
			return nil, err
		}

		name := obj.Interner.Intern(rsym.Name)

		if rsym.Bind == elf.STB_LOCAL {
			id := obj.Symbols.AddLocal(name, kind, value, span, currentFile)
			ids[realIndex] = id
			continue
		}

		vis := object.Visibility{
			Global: true,
			Weak:   rsym.Bind == elf.STB_WEAK,
			Hidden: rsym.Other == elf.STV_HIDDEN || rsym.Other == elf.STV_INTERNAL,
		}

		id, err := obj.Symbols.AddGlobal(name, kind, vis, value, span, false)
		if err != nil {
			return nil, err
		}
		ids[realIndex] = id
	}

	return ids, nil
}

func symbolKindOf(t elf.SymType) object.SymbolKind {
	switch t {
	case elf.STT_FUNC:
		return object.Function
	case elf.STT_OBJECT:
		return object.Object_
	case elf.STT_SECTION:
		return object.SectionKind
	default:
		return object.NoType
	}
}

func symbolValueOf(rsym elfformat.RawSymbol, sectionIDs map[int]object.SectionID) (object.Value, error) {
	switch rsym.Section {
	case elf.SHN_UNDEF:
		return object.Undefined, nil
	case elf.SHN_ABS:
		return object.Absolute(rsym.Value), nil
	case elf.SHN_COMMON:
		return object.Value{}, linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrUnsupportedSymbolKind,
			"tentative (COMMON) definition of %q is unsupported; compile with -fno-common", rsym.Name)
	default:
		secID, ok := sectionIDs[int(rsym.Section)]
		if !ok {
			return object.Value{}, linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrUnsupportedSymbolKind,
				"symbol %q references unsupported section index %d", rsym.Name, rsym.Section)
		}
		return object.SectionRelative(secID, rsym.Value), nil
	}
}
