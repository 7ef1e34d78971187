package elfbuild

import (
	"encoding/binary"

	"github.com/flexld/flexld/internal/interner"
	"github.com/flexld/flexld/internal/object"
)

// sym64 is the on-disk Elf64_Sym, field order and widths per the System V
// ABI: name, info, other, shndx, value, size.
type sym64 struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

func (s sym64) appendTo(buf []byte) []byte {
	var tmp [24]byte
	binary.LittleEndian.PutUint32(tmp[0:4], s.Name)
	tmp[4] = s.Info
	tmp[5] = s.Other
	binary.LittleEndian.PutUint16(tmp[6:8], s.Shndx)
	binary.LittleEndian.PutUint64(tmp[8:16], s.Value)
	binary.LittleEndian.PutUint64(tmp[16:24], s.Size)
	return append(buf, tmp[:]...)
}

const (
	stbLocal  = 0
	stbGlobal = 1
	stbWeak   = 2

	sttNoType = 0
	sttObject = 1
	sttFunc   = 2
	sttFile   = 4

	shnAbs     = 0xfff1
	shnUndef   = 0
	shnCommon  = 0xfff2
)

func symInfo(bind, typ uint8) uint8 {
	return bind<<4 | (typ & 0xf)
}

// fileGroup is a run of consecutive local symbols that share a source file,
// preceded by a synthetic STT_FILE entry when the file is known.
type fileGroup struct {
	fileID *interner.ID
	syms   []*object.Symbol
}

// groupLocals buckets input-order local symbols into contiguous per-file
// runs, inserting a new run whenever the STTFile tag changes. Symbols with no
// STTFile tag fall into whatever run is already open (or a fileless leading
// run if none is open yet), rather than forcing a spurious new group.
func groupLocals(locals []*object.Symbol) []fileGroup {
	var groups []fileGroup
	for _, sym := range locals {
		switch {
		case sym.STTFile != nil && (len(groups) == 0 || groups[len(groups)-1].fileID == nil || *groups[len(groups)-1].fileID != *sym.STTFile):
			groups = append(groups, fileGroup{fileID: sym.STTFile})
		case len(groups) == 0:
			groups = append(groups, fileGroup{})
		}
		last := &groups[len(groups)-1]
		last.syms = append(last.syms, sym)
	}
	return groups
}

// symtabResult is the finished .symtab/.strtab pair plus the index every
// live SymbolID ended up at in .symtab.
type symtabResult struct {
	symtabBytes []byte
	strtabBytes []byte
	shInfo      uint32 // index of the first global symbol (one past the locals)
	indexOf     map[object.SymbolID]uint32
}

// buildSymtab renders every live symbol (the null symbol, then locals
// grouped by source file with interleaved STT_FILE markers, then globals) in
// the order object.SymbolTable.All documents as the ELF builder's contract.
func buildSymtab(obj *object.Object, b *buildCtx) symtabResult {
	strtab := newStrtabBuilder()

	var locals []*object.Symbol
	var globals []*object.Symbol
	obj.Symbols.All(func(sym *object.Symbol) {
		if sym.ID == object.NullSymbolID {
			return
		}
		if sym.Visibility.Global {
			globals = append(globals, sym)
		} else {
			locals = append(locals, sym)
		}
	})

	res := symtabResult{indexOf: make(map[object.SymbolID]uint32)}
	bytes := make([]byte, 0, (len(locals)+len(globals)+1)*24)
	bytes = sym64{}.appendTo(bytes) // null symbol
	nextIndex := uint32(1)

	for _, grp := range groupLocals(locals) {
		if grp.fileID != nil {
			name := strtab.intern(obj.Interner.Lookup(*grp.fileID))
			bytes = sym64{Name: name, Info: symInfo(stbLocal, sttFile), Shndx: shnAbs}.appendTo(bytes)
			nextIndex++
		}
		for _, sym := range grp.syms {
			bytes = appendSymEntry(bytes, obj, b, strtab, sym, stbLocal)
			res.indexOf[sym.ID] = nextIndex
			nextIndex++
		}
	}

	res.shInfo = nextIndex

	for _, sym := range globals {
		bind := uint8(stbGlobal)
		if sym.Visibility.Weak {
			bind = stbWeak
		}
		bytes = appendSymEntry(bytes, obj, b, strtab, sym, bind)
		res.indexOf[sym.ID] = nextIndex
		nextIndex++
	}

	res.symtabBytes = bytes
	res.strtabBytes = strtab.bytes()
	return res
}

func appendSymEntry(buf []byte, obj *object.Object, b *buildCtx, strtab *strtabBuilder, sym *object.Symbol, bind uint8) []byte {
	name := uint32(0)
	if sym.Name != 0 {
		name = strtab.intern(obj.Interner.Lookup(sym.Name))
	}

	typ := uint8(sttNoType)
	switch sym.Kind {
	case object.Function:
		typ = sttFunc
	case object.Object_:
		typ = sttObject
	case object.SectionKind:
		typ = 3 // STT_SECTION
	}

	entry := sym64{Name: name, Info: symInfo(bind, typ)}

	switch sym.Value.Kind {
	case object.ValueAbsolute:
		entry.Value = sym.Value.Abs
		entry.Shndx = shnAbs
	case object.ValueSectionVirtualAddress:
		entry.Value = sym.Value.Abs
		entry.Shndx = shnAbs
	case object.ValueSectionRelative:
		addr, shndx, ok := b.resolveSectionRelative(sym.Value.Section, sym.Value.Offset)
		if ok {
			entry.Value = addr
			entry.Shndx = shndx
		}
	case object.ValueUndefined, object.ValueExternallyDefined:
		entry.Shndx = shnUndef
	case object.ValueSectionNotLoaded:
		entry.Shndx = shnUndef
	}

	return entry.appendTo(buf)
}

// strtabBuilder accumulates a NUL-separated string table starting with the
// mandatory empty string at offset 0.
type strtabBuilder struct {
	buf  []byte
	seen map[string]uint32
}

func newStrtabBuilder() *strtabBuilder {
	return &strtabBuilder{buf: []byte{0}, seen: make(map[string]uint32)}
}

func (s *strtabBuilder) intern(name string) uint32 {
	if name == "" {
		return 0
	}
	if off, ok := s.seen[name]; ok {
		return off
	}
	off := uint32(len(s.buf))
	s.seen[name] = off
	s.buf = append(s.buf, name...)
	s.buf = append(s.buf, 0)
	return off
}

func (s *strtabBuilder) bytes() []byte {
	return s.buf
}
