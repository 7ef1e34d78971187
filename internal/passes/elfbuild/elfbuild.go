// Package elfbuild converts a fully relocated object.Object into a concrete
// elfformat.Writer: the last pipeline stage before the file is serialized to
// disk. Nothing past this point mutates section bytes; this package only
// decides how the Object's sections, symbols, and segments are rendered as
// ELF structures.
package elfbuild

import (
	"debug/elf"

	"github.com/flexld/flexld/internal/align"
	"github.com/flexld/flexld/internal/buildid"
	"github.com/flexld/flexld/internal/config"
	"github.com/flexld/flexld/internal/elfformat"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
)

const (
	ptLoad     = 1
	ptDynamic  = 2
	ptInterp   = 3
	ptNote     = 4
	ptGNUStack = 0x6474e551
	ptGNURelro = 0x6474e552
)

// buildCtx carries the state section and symbol rendering need in common:
// the object itself, and the output section index every surviving input
// section landed at (ELF's st_shndx / sh_link fields reference sections by
// index, not by object.SectionID).
type buildCtx struct {
	obj     *object.Object
	shndxOf map[object.SectionID]uint16
}

// resolveSectionRelative turns a SectionRelative symbol value into the
// (address, output section index) pair .symtab/.dynsym entries need,
// following a deduplication facade if the section itself was merged away.
func (b *buildCtx) resolveSectionRelative(section object.SectionID, offset uint64) (addr uint64, shndx uint16, ok bool) {
	if placement, present := b.obj.Layout.Placements[section]; present && placement.Allocated {
		if idx, present := b.shndxOf[section]; present {
			return placement.Address + offset, idx, true
		}
	}
	if facade, present := b.obj.Layout.Facades[section]; present {
		if placement, present := b.obj.Layout.Placements[facade.Target]; present {
			if mapped, present := facade.Map[offset]; present {
				if idx, present := b.shndxOf[facade.Target]; present {
					return placement.Address + mapped, idx, true
				}
			}
		}
	}
	return 0, 0, false
}

// Build renders obj as a complete ELF file description. It must run after
// internal/passes/relocate, since it reads final section bytes and
// addresses and never patches a relocation itself.
func Build(obj *object.Object, cfg *config.Config) (*elfformat.Writer, error) {
	etype := elf.ET_EXEC
	if cfg.Mode == config.ModePIE || cfg.Mode == config.ModeShared {
		etype = elf.ET_DYN
	}

	entryRequired := cfg.Mode != config.ModeShared
	entry, err := resolveEntry(obj, cfg.Entry, entryRequired)
	if err != nil {
		return nil, err
	}

	shstrtab := newStrtabBuilder()
	sections := []elfformat.OutSection{{Type: elf.SHT_NULL}}
	shndxOf := make(map[object.SectionID]uint16)

	for _, sec := range obj.Sections() {
		name := obj.Interner.Lookup(sec.Name)
		out := convertSection(obj, sec)
		out = maybeCompressDebugSection(name, out, cfg.CompressDebugSections)
		out.Name = shstrtab.intern(name)
		sections = append(sections, out)
		shndxOf[sec.ID] = uint16(len(sections) - 1)
	}

	// A segment's first section's file offset must land on the same page
	// boundary as its virtual address (both are already page-aligned by
	// internal/passes/layout); bumping that section's Addralign forces
	// elfformat.ComputeSectionOffsets's own packing loop to insert the
	// padding that makes the invariant hold, with no separate offset logic
	// duplicated here.
	for _, seg := range obj.Layout.Segments {
		if len(seg.SectionIDs) == 0 {
			continue
		}
		idx := shndxOf[seg.SectionIDs[0]]
		if sections[idx].Addralign < seg.Align {
			sections[idx].Addralign = seg.Align
		}
	}

	ctx := &buildCtx{obj: obj, shndxOf: shndxOf}

	symtabRes := buildSymtab(obj, ctx)
	strtabIdx := uint32(len(sections))
	sections = append(sections, elfformat.OutSection{
		Name: shstrtab.intern(".strtab"), Type: elf.SHT_STRTAB,
		Size: uint64(len(symtabRes.strtabBytes)), Bytes: symtabRes.strtabBytes, Addralign: 1,
	})
	sections = append(sections, elfformat.OutSection{
		Name: shstrtab.intern(".symtab"), Type: elf.SHT_SYMTAB,
		Size: uint64(len(symtabRes.symtabBytes)), Bytes: symtabRes.symtabBytes,
		Link: strtabIdx, Info: symtabRes.shInfo, Entsize: 24, Addralign: 8,
	})

	needDynamic := cfg.Mode != config.ModeNoPIE || cfg.DynamicLinker != ""

	var interpIdx, hashIdx, dynsymIdx, dynstrIdx, dynamicIdx int = -1, -1, -1, -1, -1
	var interpAddr, interpLen, dynamicAddr, dynamicLen uint64

	if needDynamic {
		dyn := buildDynamicSections(obj, dynamicConfig{dynamicLinker: cfg.DynamicLinker, soName: cfg.SoName})

		roEnd := placeRO(dyn.roGroup(), nextAddress(obj.Layout.Segments), cfg.PageAlign)
		dynEnd := placeDynamic(dyn, roEnd, cfg.PageAlign)
		_ = dynEnd

		if dyn.interp != nil {
			interpIdx = appendDynSection(&sections, shstrtab, dyn.interp)
			interpAddr, interpLen = dyn.interp.addr, uint64(len(dyn.interp.bytes))
		}
		hashIdx = appendDynSection(&sections, shstrtab, dyn.hash)
		dynsymIdx = appendDynSection(&sections, shstrtab, dyn.dynsym)
		dynstrIdx = appendDynSection(&sections, shstrtab, dyn.dynstr)
		dynamicIdx = appendDynSection(&sections, shstrtab, dyn.dynamic)
		dynamicAddr, dynamicLen = dyn.dynamic.addr, uint64(len(dyn.dynamic.bytes))

		sections[hashIdx].Link = uint32(dynsymIdx)
		sections[dynsymIdx].Link = uint32(dynstrIdx)
		sections[dynamicIdx].Link = uint32(dynstrIdx)
	}

	var noteIdx int = -1
	var noteAddr, noteLen uint64
	if cfg.BuildID != config.BuildIDNone {
		payload, err := buildBuildIDPayload(obj, cfg.BuildID)
		if err != nil {
			return nil, linkerr.Wrap(linkerr.KindOutput, err, "computing build-id")
		}
		note := buildid.Note(payload)

		start := nextAddress(obj.Layout.Segments)
		if needDynamic {
			start = dynamicAddr + dynamicLen
		}
		noteAddr = align.Address(start, cfg.PageAlign)
		noteLen = uint64(len(note))

		noteIdx = len(sections)
		sections = append(sections, elfformat.OutSection{
			Name: shstrtab.intern(".note.gnu.build-id"), Type: elf.SHT_NOTE, Flags: elf.SHF_ALLOC,
			Addr: noteAddr, Size: noteLen, Bytes: note, Addralign: 4,
		})
	}

	shstrtabIdx := uint32(len(sections))
	nameOff := shstrtab.intern(".shstrtab")
	sections = append(sections, elfformat.OutSection{Name: nameOff, Type: elf.SHT_STRTAB, Addralign: 1})
	sections[shstrtabIdx].Bytes = shstrtab.bytes()
	sections[shstrtabIdx].Size = uint64(len(shstrtab.bytes()))

	phnum := len(obj.Layout.Segments) + 1 // +1 for PT_GNU_STACK
	if interpIdx >= 0 {
		phnum++
	}
	if dynamicIdx >= 0 {
		phnum++
	}
	if noteIdx >= 0 {
		phnum++
	}
	relro, hasRelro := relroSegment(obj, shndxOf, cfg)
	if hasRelro {
		phnum++
	}

	_, offsets, _ := elfformat.ComputeSectionOffsets(phnum, sections)

	var segments []elfformat.OutSegment
	for _, seg := range obj.Layout.Segments {
		flags := uint32(elf.PF_R)
		if seg.Perms.Write {
			flags |= uint32(elf.PF_W)
		}
		if seg.Perms.Execute {
			flags |= uint32(elf.PF_X)
		}
		offset := uint64(0)
		if len(seg.SectionIDs) > 0 {
			offset = offsets[shndxOf[seg.SectionIDs[0]]]
		}
		segments = append(segments, elfformat.OutSegment{
			Type: ptLoad, Flags: flags, Offset: offset, VAddr: seg.Start, PAddr: seg.Start,
			FileSz: seg.FileLen, MemSz: seg.Len, Align: seg.Align,
		})
	}

	if interpIdx >= 0 {
		segments = append(segments, elfformat.OutSegment{
			Type: ptInterp, Flags: uint32(elf.PF_R), Offset: offsets[interpIdx],
			VAddr: interpAddr, PAddr: interpAddr, FileSz: interpLen, MemSz: interpLen, Align: 1,
		})
	}
	if dynamicIdx >= 0 {
		segments = append(segments, elfformat.OutSegment{
			Type: ptDynamic, Flags: uint32(elf.PF_R) | uint32(elf.PF_W), Offset: offsets[dynamicIdx],
			VAddr: dynamicAddr, PAddr: dynamicAddr, FileSz: dynamicLen, MemSz: dynamicLen, Align: 8,
		})
	}
	if noteIdx >= 0 {
		segments = append(segments, elfformat.OutSegment{
			Type: ptNote, Flags: uint32(elf.PF_R), Offset: offsets[noteIdx],
			VAddr: noteAddr, PAddr: noteAddr, FileSz: noteLen, MemSz: noteLen, Align: 4,
		})
	}

	stackFlags := uint32(elf.PF_R) | uint32(elf.PF_W)
	if cfg.StackExec == config.StackExec_ {
		stackFlags |= uint32(elf.PF_X)
	}
	segments = append(segments, elfformat.OutSegment{Type: ptGNUStack, Flags: stackFlags, Align: 0x10})

	if hasRelro {
		segments = append(segments, elfformat.OutSegment{
			Type: ptGNURelro, Flags: uint32(elf.PF_R), Offset: offsets[relro.shndx],
			VAddr: relro.addr, PAddr: relro.addr, FileSz: relro.size, MemSz: relro.size, Align: 1,
		})
	}

	return &elfformat.Writer{
		Machine:  elf.EM_X86_64,
		Type:     etype,
		Entry:    entry,
		Sections: sections,
		Segments: segments,
		Shstrndx: uint16(shstrtabIdx),
	}, nil
}

func appendDynSection(sections *[]elfformat.OutSection, shstrtab *strtabBuilder, s *dynamicSection) int {
	idx := len(*sections)
	*sections = append(*sections, elfformat.OutSection{
		Name: shstrtab.intern(s.name), Type: s.typ, Flags: s.flags,
		Addr: s.addr, Size: uint64(len(s.bytes)), Bytes: s.bytes, Entsize: s.entsize, Addralign: 1,
	})
	return idx
}

func convertSection(obj *object.Object, sec *object.Section) elfformat.OutSection {
	out := elfformat.OutSection{Addralign: sec.Align}
	if out.Addralign == 0 {
		out.Addralign = 1
	}

	placement := obj.Layout.Placements[sec.ID]
	out.Addr = placement.Address

	flags := elf.SectionFlag(0)
	if placement.Allocated {
		flags |= elf.SHF_ALLOC
	}
	if sec.Perms.Write {
		flags |= elf.SHF_WRITE
	}
	if sec.Perms.Execute {
		flags |= elf.SHF_EXECINSTR
	}
	out.Flags = flags

	switch c := sec.Content.(type) {
	case *object.Uninitialized:
		out.Type = elf.SHT_NOBITS
		out.Size = c.Len
	case *object.Data:
		switch name := obj.Interner.Lookup(sec.Name); {
		case len(name) >= 5 && name[:5] == ".note":
			out.Type = elf.SHT_NOTE
		case name == ".init_array":
			out.Type = elf.SHT_INIT_ARRAY
		case name == ".fini_array":
			out.Type = elf.SHT_FINI_ARRAY
		case name == ".preinit_array":
			out.Type = elf.SHT_PREINIT_ARRAY
		default:
			out.Type = elf.SHT_PROGBITS
		}
		out.Size = uint64(len(c.Bytes))
		out.Bytes = c.Bytes
	default:
		out.Type = elf.SHT_PROGBITS
	}

	return out
}

func resolveEntry(obj *object.Object, name string, required bool) (uint64, error) {
	if name == "" {
		if required {
			return 0, linkerr.Wrap(linkerr.KindLayout, linkerr.ErrEntryPointNotFound, "no entry symbol configured")
		}
		return 0, nil
	}

	nameID := obj.Interner.Intern(name)
	id, ok := obj.Symbols.Lookup(nameID)
	if !ok {
		if required {
			return 0, linkerr.Wrap(linkerr.KindLayout, linkerr.ErrEntryPointNotFound, "%q", name)
		}
		return 0, nil
	}

	_, sym, err := obj.Symbols.Resolve(id)
	if err != nil {
		return 0, linkerr.Wrap(linkerr.KindLayout, linkerr.ErrEntryPointNotFound, "%q: %v", name, err)
	}

	var addr uint64
	switch sym.Value.Kind {
	case object.ValueAbsolute, object.ValueSectionVirtualAddress:
		addr = sym.Value.Abs
	case object.ValueSectionRelative:
		placement, ok := obj.Layout.Placements[sym.Value.Section]
		if !ok || !placement.Allocated {
			return 0, linkerr.Wrap(linkerr.KindLayout, linkerr.ErrEntryPointNotAnAddress, "%q", name)
		}
		addr = placement.Address + sym.Value.Offset
	default:
		return 0, linkerr.Wrap(linkerr.KindLayout, linkerr.ErrEntryPointNotAnAddress, "%q", name)
	}

	if addr == 0 {
		return 0, linkerr.Wrap(linkerr.KindLayout, linkerr.ErrEntrypointIsZero, "%q", name)
	}
	return addr, nil
}

// nextAddress returns the first free, not-yet-used address after every
// existing segment: the starting point for sections elfbuild synthesizes
// after internal/passes/layout has already run.
func nextAddress(segments []object.Segment) uint64 {
	var end uint64
	for _, s := range segments {
		if s.Start+s.Len > end {
			end = s.Start + s.Len
		}
	}
	return end
}

type relroRegion struct {
	shndx int
	addr  uint64
	size  uint64
}

// relroSegment finds the .got/.got.plt pair internal/passes/relocate
// synthesized, if any, and returns the combined region a PT_GNU_RELRO
// header should cover. GOT hardening only applies to position-independent
// output, matching config.Config.Validate's own -z relro/-z now
// restriction.
func relroSegment(obj *object.Object, shndxOf map[object.SectionID]uint16, cfg *config.Config) (relroRegion, bool) {
	if cfg.Relro == config.RelroNone {
		return relroRegion{}, false
	}
	if cfg.Mode != config.ModePIE && cfg.Mode != config.ModeShared {
		return relroRegion{}, false
	}

	var lo, hi uint64
	var lowestID object.SectionID
	var found bool
	for _, sec := range obj.Sections() {
		name := obj.Interner.Lookup(sec.Name)
		if name != ".got" && name != ".got.plt" {
			continue
		}
		placement := obj.Layout.Placements[sec.ID]
		if !placement.Allocated {
			continue
		}
		if !found || placement.Address < lo {
			lo = placement.Address
			lowestID = sec.ID
		}
		if end := placement.Address + placement.Len; end > hi {
			hi = end
		}
		found = true
	}
	if !found {
		return relroRegion{}, false
	}
	return relroRegion{shndx: int(shndxOf[lowestID]), addr: lo, size: hi - lo}, true
}

func buildBuildIDPayload(obj *object.Object, style config.BuildIDStyle) ([]byte, error) {
	bidStyle := buildid.StyleSHA1
	if style == config.BuildIDUUID {
		bidStyle = buildid.StyleUUID
	}

	var inputs [][]byte
	if bidStyle == buildid.StyleSHA1 {
		for _, sec := range obj.Sections() {
			if data, ok := sec.Content.(*object.Data); ok {
				inputs = append(inputs, data.Bytes)
			}
		}
	}

	return buildid.Generate(bidStyle, inputs...)
}
