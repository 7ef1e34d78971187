package elfbuild

import (
	"debug/elf"
	"encoding/binary"

	"github.com/flexld/flexld/internal/align"
	"github.com/flexld/flexld/internal/object"
)

// Dynamic tags this linker emits. Only what's needed to describe a static
// symbol export table is written; there is no NEEDED list, since this
// linker never resolves against other shared objects (see DESIGN.md).
const (
	dtNull   = 0
	dtHash   = 4
	dtStrtab = 5
	dtSymtab = 6
	dtStrsz  = 10
	dtSyment = 11
	dtSoname = 14
)

// elfHash is the System V ABI's elf_hash function, used by the .hash
// section's bucket/chain table.
func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		g := h & 0xf0000000
		if g != 0 {
			h ^= g >> 24
		}
		h &^= g
	}
	return h
}

// dynamicSection is one section this builder places itself, outside
// internal/passes/layout, since .dynsym/.dynstr/.hash/.dynamic/.interp are
// synthesized only once the rest of the image is already laid out and
// never need a relocation pass of their own.
type dynamicSection struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	bytes   []byte
	entsize uint64
	addr    uint64 // filled in by placeDynamicSections
}

// buildDynamicSections renders .dynstr, .dynsym, .hash, .dynamic, and
// (when cfg.DynamicLinker is set) .interp. elfbuild.go calls it for any
// output mode other than non-PIE, and for non-PIE output when a dynamic
// linker is configured. Only symbols with NeededByDynamic set are
// exported, matching the loader's handling of default (non-hidden) global
// definitions and references.
func buildDynamicSections(obj *object.Object, cfg dynamicConfig) dynamicSections {
	dynstr := newStrtabBuilder()
	type dynsymEntry struct {
		name    uint32
		nameStr string
		sym     *object.Symbol
	}
	var entries []dynsymEntry

	obj.Symbols.All(func(sym *object.Symbol) {
		if sym.ID == object.NullSymbolID || !sym.NeededByDynamic {
			return
		}
		name := obj.Interner.Lookup(sym.Name)
		entries = append(entries, dynsymEntry{name: dynstr.intern(name), nameStr: name, sym: sym})
	})

	dynsymBytes := make([]byte, 0, (len(entries)+1)*24)
	dynsymBytes = sym64{}.appendTo(dynsymBytes)
	for _, e := range entries {
		bind := uint8(stbGlobal)
		if e.sym.Visibility.Weak {
			bind = stbWeak
		}
		typ := uint8(sttNoType)
		switch e.sym.Kind {
		case object.Function:
			typ = sttFunc
		case object.Object_:
			typ = sttObject
		}
		entry := sym64{Name: e.name, Info: symInfo(bind, typ)}
		switch e.sym.Value.Kind {
		case object.ValueAbsolute, object.ValueSectionVirtualAddress:
			entry.Value = e.sym.Value.Abs
			entry.Shndx = shnAbs
		case object.ValueUndefined, object.ValueExternallyDefined:
			entry.Shndx = shnUndef
		default:
			entry.Shndx = shnAbs
		}
		dynsymBytes = entry.appendTo(dynsymBytes)
	}

	nbucket := uint32(len(entries) + 1)
	if nbucket == 0 {
		nbucket = 1
	}
	buckets := make([]uint32, nbucket)
	chain := make([]uint32, len(entries)+1)
	for i, e := range entries {
		idx := uint32(i + 1)
		b := elfHash(e.nameStr) % nbucket
		chain[idx] = buckets[b]
		buckets[b] = idx
	}
	hashBytes := make([]byte, 0, (2+len(buckets)+len(chain))*4)
	hashBytes = appendU32(hashBytes, nbucket)
	hashBytes = appendU32(hashBytes, uint32(len(chain)))
	for _, v := range buckets {
		hashBytes = appendU32(hashBytes, v)
	}
	for _, v := range chain {
		hashBytes = appendU32(hashBytes, v)
	}

	var out dynamicSections

	if cfg.dynamicLinker != "" {
		interp := append([]byte(cfg.dynamicLinker), 0)
		out.interp = &dynamicSection{name: ".interp", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, bytes: interp}
	}

	out.hash = &dynamicSection{name: ".hash", typ: elf.SHT_HASH, flags: elf.SHF_ALLOC, bytes: hashBytes, entsize: 4}
	out.dynsym = &dynamicSection{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC, bytes: dynsymBytes, entsize: 24}
	out.dynstr = &dynamicSection{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC, bytes: dynstr.bytes()}

	dynEntries := []object.DynamicEntry{
		{Tag: dtHash, Value: 0}, // patched to .hash's address once placed
		{Tag: dtStrtab, Value: 0},
		{Tag: dtSymtab, Value: 0},
		{Tag: dtStrsz, Value: uint64(len(dynstr.bytes()))},
		{Tag: dtSyment, Value: 24},
	}
	if cfg.soName != "" {
		dynEntries = append(dynEntries, object.DynamicEntry{Tag: dtSoname, Value: uint64(dynstr.intern(cfg.soName))})
	}
	dynEntries = append(dynEntries, object.DynamicEntry{Tag: dtNull, Value: 0})

	dynBytes := make([]byte, 0, len(dynEntries)*16)
	for _, e := range dynEntries {
		dynBytes = appendDynEntry(dynBytes, e)
	}
	out.dynamic = &dynamicSection{name: ".dynamic", typ: elf.SHT_DYNAMIC, flags: elf.SHF_ALLOC | elf.SHF_WRITE, bytes: dynBytes, entsize: 16}

	return out
}

// dynamicSections is every section buildDynamicSections produces, as
// explicit named fields rather than a generic slice: elfbuild needs each
// one's identity (for sh_link and program-header construction), and a name
// lookup after the fact would just reinvent these fields less safely.
// interp is nil when no dynamic linker path was configured.
type dynamicSections struct {
	interp  *dynamicSection
	hash    *dynamicSection
	dynsym  *dynamicSection
	dynstr  *dynamicSection
	dynamic *dynamicSection
}

// roGroup returns interp (if present), hash, dynsym, and dynstr — every
// synthesized section except .dynamic, which is read-write and placed in
// its own segment.
func (d dynamicSections) roGroup() []*dynamicSection {
	group := make([]*dynamicSection, 0, 4)
	if d.interp != nil {
		group = append(group, d.interp)
	}
	return append(group, d.hash, d.dynsym, d.dynstr)
}

func appendDynEntry(buf []byte, e object.DynamicEntry) []byte {
	var tmp [16]byte
	binary.LittleEndian.PutUint64(tmp[0:8], uint64(e.Tag))
	binary.LittleEndian.PutUint64(tmp[8:16], e.Value)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// dynamicConfig is the slice of *config.Config that dynamic-section
// synthesis needs, passed by value so this file doesn't import the config
// package directly (only elfbuild.go, the orchestrator, does).
type dynamicConfig struct {
	dynamicLinker string
	soName        string
}

// placeRO assigns a contiguous, page-aligned memory region starting at addr
// to each of the read-only dynamic-linking sections (interp/hash/dynsym/
// dynstr), the same packing discipline internal/passes/layout uses for
// ordinary sections within one permission group.
func placeRO(sections []*dynamicSection, addr, pageAlign uint64) (end uint64) {
	addr = align.Address(addr, pageAlign)
	for _, s := range sections {
		s.addr = addr
		addr += uint64(len(s.bytes))
	}
	return addr
}

// placeDynamic assigns .dynamic its own page-aligned address after the RO
// group and patches its DT_HASH/DT_STRTAB/DT_SYMTAB values now that every
// address they reference is known.
func placeDynamic(d dynamicSections, roEnd, pageAlign uint64) (end uint64) {
	addr := align.Address(roEnd, pageAlign)
	d.dynamic.addr = addr
	patchDynAddr(d.dynamic.bytes, dtHash, d.hash.addr)
	patchDynAddr(d.dynamic.bytes, dtStrtab, d.dynstr.addr)
	patchDynAddr(d.dynamic.bytes, dtSymtab, d.dynsym.addr)
	return addr + uint64(len(d.dynamic.bytes))
}

func patchDynAddr(buf []byte, tag int64, value uint64) {
	for off := 0; off+16 <= len(buf); off += 16 {
		if int64(binary.LittleEndian.Uint64(buf[off:off+8])) == tag {
			binary.LittleEndian.PutUint64(buf[off+8:off+16], value)
			return
		}
	}
}
