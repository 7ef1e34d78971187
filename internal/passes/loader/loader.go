// Package loader reads input ELF objects and ar archives into a fresh
// object.Object, following a fixed-point archive-member resolution
// algorithm: an archive member is only pulled in once it satisfies a
// currently undefined global symbol.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"runtime"
	"sort"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/flexld/flexld/internal/arformat"
	"github.com/flexld/flexld/internal/config"
	"github.com/flexld/flexld/internal/elfformat"
	"github.com/flexld/flexld/internal/interner"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	arMagic  = []byte("!<arch>\n")
)

// Load reads every input in cfg.Inputs, in order, merging them into obj.
// Reads are fanned out across an errgroup bounded to GOMAXPROCS, then
// replayed into the sequential merge algorithm in original order, so file
// I/O latency overlaps without making the merge itself concurrent.
func Load(cfg *config.Config, fs afero.Fs, obj *object.Object) error {
	if cfg.AutoFetchStartfiles {
		if err := ensureStartfiles(cfg, fs); err != nil {
			return err
		}
	}

	contents := make([][]byte, len(cfg.Inputs))

	eg := &errgroup.Group{}
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range cfg.Inputs {
		eg.Go(func() error {
			data, err := afero.ReadFile(fs, path)
			if err != nil {
				return linkerr.Wrap(linkerr.KindInput, err, "reading input %q", path)
			}
			contents[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, path := range cfg.Inputs {
		if err := mergeInput(path, contents[i], obj); err != nil {
			return err
		}
	}

	return nil
}

func mergeInput(path string, data []byte, obj *object.Object) error {
	switch {
	case bytes.HasPrefix(data, elfMagic):
		raw, err := elfformat.Read(bytes.NewReader(data))
		if err != nil {
			return linkerr.Wrap(linkerr.KindInput, err, "parsing ELF input %q", path)
		}
		return mergeRawObject(path, interner.ID(0), raw, obj)

	case bytes.HasPrefix(data, arMagic):
		arc, err := arformat.Parse(bytes.NewReader(data))
		if err != nil {
			return linkerr.Wrap(linkerr.KindInput, err, "parsing archive %q", path)
		}
		return mergeArchive(path, arc, obj)

	default:
		return linkerr.Wrap(linkerr.KindInput, linkerr.ErrUnrecognizedFileFormat, "input %q", path)
	}
}

// mergeArchive implements the fixed-point contribution algorithm: a member
// is pulled in only once it satisfies a name that is currently an
// undefined global reference, and pulling one member in may satisfy (or
// introduce) others, so the scan repeats until a full pass adds nothing.
func mergeArchive(path string, arc *arformat.Archive, obj *object.Object) error {
	pulled := make(map[int]bool)

	for {
		// Eligible members for this pass are collected first and sorted by
		// archive physical order (ascending memberIdx) before any of them
		// is merged, since arc.SymbolIndex is a map and Go randomizes map
		// iteration order per run: merging in map order would make section
		// insertion order (and therefore dedup concatenation order, layout
		// addresses, and the final byte stream) nondeterministic across
		// runs of the same link.
		eligible := make(map[int]bool)
		for name, memberIdx := range arc.SymbolIndex {
			if pulled[memberIdx] || eligible[memberIdx] {
				continue
			}
			nameID := obj.Interner.Intern(name)
			id, ok := obj.Symbols.Lookup(nameID)
			if !ok {
				continue
			}
			_, sym, err := obj.Symbols.Resolve(id)
			if err != nil {
				return linkerr.Wrap(linkerr.KindLinking, err, "resolving %q while scanning archive %q", name, path)
			}
			if sym.Value.Kind != object.ValueUndefined {
				continue
			}
			eligible[memberIdx] = true
		}

		if len(eligible) == 0 {
			return nil
		}

		order := make([]int, 0, len(eligible))
		for memberIdx := range eligible {
			order = append(order, memberIdx)
		}
		sort.Ints(order)

		for _, memberIdx := range order {
			member := arc.Members[memberIdx]
			raw, err := elfformat.Read(bytes.NewReader(member.Content))
			if err != nil {
				return linkerr.Wrap(linkerr.KindInput, linkerr.ErrArchiveMemberParseFailed,
					"member %q of archive %q: %v", member.Name, path, err)
			}

			memberFile := obj.Interner.Intern(fmt.Sprintf("%s(%s)", path, member.Name))
			if err := mergeRawObject(path, memberFile, raw, obj); err != nil {
				return err
			}

			pulled[memberIdx] = true
		}
	}
}

// mergeRawObject merges one parsed ELF object's sections and symbols into
// obj. memberName is the interned archive-member qualifier (zero ID for a
// plain, non-archive input).
func mergeRawObject(path string, memberName interner.ID, raw *elfformat.RawObject, obj *object.Object) error {
	env := object.Environment{
		Class:   elfClassOf(raw.Class),
		Endian:  object.LittleEndian,
		ABI:     object.SystemV,
		Machine: machineOf(raw.Machine),
	}
	if err := obj.SetEnv(env); err != nil {
		return linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrMismatchedEnv, "%s: %v", path, err)
	}

	fileID := obj.Interner.Intern(path)
	span := object.Span{File: fileID, ArchiveMember: memberName}

	// Sections are registered (but not yet given parts) before symbols are
	// loaded, since a defined symbol's Value needs the merged SectionID its
	// section landed in. Parts are added last, once symbols have produced a
	// raw-symbol-index-to-SymbolID map that a section's relocations need.
	sectionIDs, err := registerSections(path, span, raw, obj)
	if err != nil {
		return err
	}

	symbolIDs, err := mergeSymbols(raw, sectionIDs, span, obj)
	if err != nil {
		return linkerr.Wrap(linkerr.KindSemantic, err, "%s", path)
	}

	return addParts(path, span, raw, sectionIDs, symbolIDs, obj)
}

// registerSections creates or finds the merged object.Section for every raw
// section worth keeping, returning a map from this input's own section
// index to the SectionID it landed in.
func registerSections(path string, span object.Span, raw *elfformat.RawObject, obj *object.Object) (map[int]object.SectionID, error) {
	sectionIDs := make(map[int]object.SectionID)

	for i, rs := range raw.Sections {
		switch rs.Type {
		case elf.SHT_NULL, elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA:
			continue
		case elf.SHT_NOTE:
			if !isRecognizedNote(rs.Name) {
				return nil, linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrUnsupportedUnknownNote, "%s: note section %q", path, rs.Name)
			}
			continue
		case elf.SHT_PROGBITS, elf.SHT_INIT_ARRAY, elf.SHT_FINI_ARRAY, elf.SHT_NOBITS, elf.SHT_PREINIT_ARRAY:
			// fall through to section-addition below
		default:
			return nil, linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrUnsupportedUnknownSection, "%s: section %q (type %v)", path, rs.Name, rs.Type)
		}

		perms := permsOf(rs.Flags)
		nameID := obj.Interner.Intern(rs.Name)

		sec, existed := obj.GetOrCreateSection(nameID, perms, span, func() object.Content {
			if rs.Type == elf.SHT_NOBITS {
				return &object.Uninitialized{}
			}
			return &object.Data{Dedup: dedupPolicyOf(rs)}
		})

		if existed {
			if sec.Perms != perms {
				return nil, linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrMismatchedSectionPerms, "%s: section %q", path, rs.Name)
			}
			if err := checkContentKindsMatch(sec.Content, rs, path); err != nil {
				return nil, err
			}
		}
		if rs.Align > sec.Align {
			sec.Align = rs.Align
		}

		sectionIDs[i] = sec.ID
	}

	return sectionIDs, nil
}

// addParts appends each kept raw section's bytes and relocations to the
// merged section it was registered under.
func addParts(path string, span object.Span, raw *elfformat.RawObject, sectionIDs map[int]object.SectionID, symbolIDs map[int]object.SymbolID, obj *object.Object) error {
	for i, rs := range raw.Sections {
		secID, ok := sectionIDs[i]
		if !ok {
			continue
		}
		sec := obj.Section(secID)

		part := object.SectionPart{
			InputSectionID: i,
			Source:         span,
			Len:            rs.Size,
		}
		if rs.Type != elf.SHT_NOBITS {
			part.RawBytes = rs.Bytes
			for _, rr := range raw.Relocations[i] {
				symID, ok := symbolIDs[int(rr.SymIndex)]
				if !ok {
					return linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrUnsupportedSymbolKind,
						"%s: section %q: relocation references unknown symbol index %d", path, rs.Name, rr.SymIndex)
				}
				rel, err := relocationOf(rr, symID)
				if err != nil {
					return linkerr.Wrap(linkerr.KindInput, err, "%s: section %q", path, rs.Name)
				}
				part.Relocations = append(part.Relocations, rel)
			}
		}
		sec.AddPart(part)
	}

	return nil
}

func checkContentKindsMatch(content object.Content, rs elfformat.RawSection, path string) error {
	switch content.(type) {
	case *object.Uninitialized:
		if rs.Type != elf.SHT_NOBITS {
			return linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrMismatchedSectionTypes, "%s: section %q", path, rs.Name)
		}
	case *object.Data:
		if rs.Type == elf.SHT_NOBITS {
			return linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrMismatchedSectionTypes, "%s: section %q", path, rs.Name)
		}
		d := content.(*object.Data)
		if !d.Dedup.Equal(dedupPolicyOf(rs)) {
			return linkerr.Wrap(linkerr.KindSemantic, linkerr.ErrMismatchedDeduplication, "%s: section %q", path, rs.Name)
		}
	}
	return nil
}
