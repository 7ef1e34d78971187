// Package elfformat reads relocatable ELF objects (GNU ar archives are read
// by internal/arformat) and writes the final linked ELF executable or shared
// object. Reading is done
// directly through the standard library's debug/elf, the same way
// internal/grub read its input ELF images; writing uses struc, the way
// internal/efipe wrote PE images, since debug/elf has no encoder.
package elfformat

import (
	"debug/elf"
	"fmt"
	"io"
)

// RawSection is one section exactly as it appeared in an input object,
// before any merge or dedup decision has been made.
type RawSection struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Align   uint64
	Size    uint64
	Entsize uint64
	Index   int // this section's own index within its input file

	// Link/Info carry the raw section header fields, needed to resolve a
	// relocation section's target and a symbol table's string table.
	Link uint32
	Info uint32

	Bytes []byte // nil for SHT_NOBITS
}

// RawSymbol is one entry of an input's .symtab, with its section index
// preserved so the loader can map it back to a RawSection.
type RawSymbol struct {
	Name    string
	Info    elf.SymType
	Bind    elf.SymBind
	Other   elf.SymVis
	Section elf.SectionIndex
	Value   uint64
	Size    uint64
}

// RawRelocation is one relocation entry, already widened to a common shape
// regardless of whether it came from an SHT_REL or SHT_RELA section.
type RawRelocation struct {
	Offset    uint64
	SymIndex  uint32
	Type      uint32
	Addend    int64
	HasAddend bool
}

// RawObject is the fully-parsed, not-yet-interpreted contents of one
// relocatable ELF input.
type RawObject struct {
	Class   elf.Class
	Data    elf.Data
	OSABI   elf.OSABI
	Type    elf.Type
	Machine elf.Machine

	Sections []RawSection
	Symbols  []RawSymbol

	// Relocations maps a relocation section's target section index to its
	// widened relocation entries.
	Relocations map[int][]RawRelocation
}

// Read parses a relocatable ELF object from r. It accepts ET_REL files
// only; the loader is responsible for rejecting anything else before
// calling Read, since the error should carry which input file it came from.
func Read(r io.ReaderAt) (*RawObject, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("elfformat: malformed ELF: %w", err)
	}
	defer f.Close()

	raw := &RawObject{
		Class:       f.Class,
		Data:        f.Data,
		OSABI:       f.OSABI,
		Type:        f.Type,
		Machine:     f.Machine,
		Relocations: make(map[int][]RawRelocation),
	}

	for i, s := range f.Sections {
		rs := RawSection{
			Name:  s.Name,
			Type:  s.Type,
			Flags: s.Flags,
			Align:   s.Addralign,
			Size:    s.Size,
			Entsize: s.Entsize,
			Index:   i,
			Link:    s.Link,
			Info:    s.Info,
		}

		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL {
			data, err := s.Data()
			if err != nil {
				return nil, fmt.Errorf("elfformat: reading section %q: %w", s.Name, err)
			}
			rs.Bytes = data
		}

		raw.Sections = append(raw.Sections, rs)

		if s.Type == elf.SHT_REL || s.Type == elf.SHT_RELA {
			relocs, err := readRelocations(f, s)
			if err != nil {
				return nil, fmt.Errorf("elfformat: reading relocations for %q: %w", s.Name, err)
			}
			raw.Relocations[int(s.Info)] = relocs
		}
	}

	symbols, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("elfformat: reading symbol table: %w", err)
	}
	for _, s := range symbols {
		raw.Symbols = append(raw.Symbols, RawSymbol{
			Name:    s.Name,
			Info:    elf.SymType(s.Info & 0xf),
			Bind:    elf.SymBind(s.Info >> 4),
			Other:   elf.SymVis(s.Other & 0x3),
			Section: s.Section,
			Value:   s.Value,
			Size:    s.Size,
		})
	}

	return raw, nil
}

func readRelocations(f *elf.File, s *elf.Section) ([]RawRelocation, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}

	var entSize, relaEntSize int
	switch f.Class {
	case elf.ELFCLASS32:
		entSize, relaEntSize = 8, 12
	case elf.ELFCLASS64:
		entSize, relaEntSize = 16, 24
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}

	hasAddend := s.Type == elf.SHT_RELA
	size := entSize
	if hasAddend {
		size = relaEntSize
	}

	byteOrder := f.ByteOrder
	var out []RawRelocation
	for off := 0; off+size <= len(data); off += size {
		entry := data[off : off+size]
		var r RawRelocation
		r.HasAddend = hasAddend

		if f.Class == elf.ELFCLASS32 {
			r.Offset = uint64(byteOrder.Uint32(entry[0:4]))
			info := byteOrder.Uint32(entry[4:8])
			r.SymIndex = info >> 8
			r.Type = info & 0xff
			if hasAddend {
				r.Addend = int64(int32(byteOrder.Uint32(entry[8:12])))
			}
		} else {
			r.Offset = byteOrder.Uint64(entry[0:8])
			info := byteOrder.Uint64(entry[8:16])
			r.SymIndex = uint32(info >> 32)
			r.Type = uint32(info & 0xffffffff)
			if hasAddend {
				r.Addend = int64(byteOrder.Uint64(entry[16:24]))
			}
		}

		out = append(out, r)
	}

	return out, nil
}

// SectionByIndex returns the RawSection at idx. raw.Sections is stored in
// file order including the null section at 0, same as elf.File, so an ELF
// section header index such as RawSymbol.Section is used as idx unchanged.
func (raw *RawObject) SectionByIndex(idx int) (*RawSection, bool) {
	if idx < 0 || idx >= len(raw.Sections) {
		return nil, false
	}
	return &raw.Sections[idx], true
}
