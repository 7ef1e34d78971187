package elfformat

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flexld/flexld/internal/iometa"
	"github.com/lunixbochs/struc"
)

// header64 is the on-disk Elf64_Ehdr, tagged for struc. e_ident is kept as
// one 16-byte array.
type header64 struct {
	Ident     [16]uint8 `struc:"[16]uint8"`
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type progHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

type sectHeader64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

const (
	ehsize64 = 64
	phsize64 = 56
	shsize64 = 64
)

// OutSection is one finished section ready to be serialized. Bytes is nil
// for SHT_NOBITS sections, which occupy no file space.
type OutSection struct {
	Name      uint32 // offset into .shstrtab; elfbuild fills this in
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
	Bytes     []byte
}

// OutSegment is one finished ELF64_Phdr, fully resolved by
// internal/passes/layout.
type OutSegment struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// Writer serializes a fully laid-out ELF64 little-endian file. Only ELF64
// output is implemented; ELF32 output is a documented Non-goal (see
// DESIGN.md), since every example input and the default target triple is
// x86-64.
type Writer struct {
	Machine  elf.Machine
	Type     elf.Type
	Entry    uint64
	Sections []OutSection
	Segments []OutSegment
	// Shstrndx is the index into Sections of the section name string table.
	Shstrndx uint16
}

// ComputeSectionOffsets is the authoritative file-offset calculation for an
// ELF64 output: given the program header count (which fixes where the
// section data region can start) and the sections themselves, it returns
// where that region starts, each section's individual file offset (for
// SHT_NOBITS/SHT_NULL, which occupy no file space, the current offset,
// without advancing it), and where the section
// header table itself lands. internal/passes/elfbuild calls this up front
// to learn real offsets before building OutSegment values (a segment's
// Offset must agree with where its first section actually lands, and the
// file_offset mod page == vaddr mod page loading invariant depends on it);
// WriteTo calls it again to lay out the same file it describes. Both call
// sites computing from the same function is what keeps them from silently
// diverging.
func ComputeSectionOffsets(phnum int, sections []OutSection) (sectionsStart uint64, offsets []uint64, shoff uint64) {
	phoff := uint64(ehsize64)
	phtableSize := uint64(phnum) * phsize64
	sectionsStart = alignUp(phoff+phtableSize, 16)

	offsets = make([]uint64, len(sections))
	cursor := sectionsStart
	for i, s := range sections {
		if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
			offsets[i] = cursor
			continue
		}
		if s.Addralign > 1 {
			cursor = alignUp(cursor, s.Addralign)
		}
		offsets[i] = cursor
		cursor += s.Size
	}
	shoff = alignUp(cursor, 8)
	return sectionsStart, offsets, shoff
}

// WriteTo serializes the ELF file to w, returning the number of bytes
// written.
func (wr *Writer) WriteTo(w io.Writer) (int64, error) {
	cw := &iometa.CountingWriter{Writer: w}

	phoff := uint64(ehsize64)
	sectionsStart, offsets, shoff := ComputeSectionOffsets(len(wr.Segments), wr.Sections)

	ident := [16]uint8{
		0x7f, 'E', 'L', 'F',
		2, // ELFCLASS64
		1, // ELFDATA2LSB
		1, // EV_CURRENT
		0, // ELFOSABI_SYSV
	}

	hdr := header64{
		Ident:     ident,
		Type:      uint16(wr.Type),
		Machine:   uint16(wr.Machine),
		Version:   1,
		Entry:     wr.Entry,
		Phoff:     phoff,
		Shoff:     shoff,
		Ehsize:    ehsize64,
		Phentsize: phsize64,
		Phnum:     uint16(len(wr.Segments)),
		Shentsize: shsize64,
		Shnum:     uint16(len(wr.Sections)),
		Shstrndx:  wr.Shstrndx,
	}

	opts := &struc.Options{Order: binary.LittleEndian}

	if err := struc.PackWithOptions(cw, &hdr, opts); err != nil {
		return int64(cw.BytesWritten()), fmt.Errorf("elfformat: writing ELF header: %w", err)
	}

	for _, seg := range wr.Segments {
		ph := progHeader64{
			Type: seg.Type, Flags: seg.Flags, Offset: seg.Offset,
			VAddr: seg.VAddr, PAddr: seg.PAddr, FileSz: seg.FileSz,
			MemSz: seg.MemSz, Align: seg.Align,
		}
		if err := struc.PackWithOptions(cw, &ph, opts); err != nil {
			return int64(cw.BytesWritten()), fmt.Errorf("elfformat: writing program header: %w", err)
		}
	}

	if err := padTo(cw, sectionsStart); err != nil {
		return int64(cw.BytesWritten()), err
	}

	for i, s := range wr.Sections {
		if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
			continue
		}
		if err := padTo(cw, offsets[i]); err != nil {
			return int64(cw.BytesWritten()), err
		}
		if _, err := cw.Write(s.Bytes); err != nil {
			return int64(cw.BytesWritten()), fmt.Errorf("elfformat: writing section %d: %w", i, err)
		}
	}

	if err := padTo(cw, shoff); err != nil {
		return int64(cw.BytesWritten()), err
	}

	for i, s := range wr.Sections {
		sh := sectHeader64{
			Name: s.Name, Type: uint32(s.Type), Flags: uint64(s.Flags),
			Addr: s.Addr, Offset: offsets[i], Size: s.Size,
			Link: s.Link, Info: s.Info, Addralign: s.Addralign, Entsize: s.Entsize,
		}
		if err := struc.PackWithOptions(cw, &sh, opts); err != nil {
			return int64(cw.BytesWritten()), fmt.Errorf("elfformat: writing section header %d: %w", i, err)
		}
	}

	return int64(cw.BytesWritten()), nil
}

func padTo(cw *iometa.CountingWriter, target uint64) error {
	gap := int(target) - cw.BytesWritten()
	if gap < 0 {
		return fmt.Errorf("elfformat: layout produced a negative padding gap (wrote past offset %d)", target)
	}
	if gap == 0 {
		return nil
	}
	if err := iometa.WriteZeros(cw, gap); err != nil {
		return fmt.Errorf("elfformat: padding to offset %d: %w", target, err)
	}
	return nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return ((v + align - 1) / align) * align
}
