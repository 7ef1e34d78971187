// Package relocate resolves every remaining symbol reference and patches
// the referencing bytes in place: the last pass that mutates section
// content before internal/passes/elfbuild turns the Object into concrete
// ELF bytes.
package relocate

import (
	"encoding/binary"
	"math"

	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
	"github.com/flexld/flexld/internal/passes/layout"
)

// Options configures one relocation run. Options.Options is forwarded to
// the re-layout that runs after GOT/PLT synthesis, since .got/.got.plt/.plt
// are brand-new sections that need addresses of their own before any
// relocation referencing them can be resolved.
type Options struct {
	layout.Options
	// Shared enables PLT stub generation for calls against externally
	// defined symbols (Config.Mode == ModeShared).
	Shared bool
}

// Run performs the gotplt sub-stage, re-runs layout to place the sections
// it created, freezes the symbol table (no further redirects are legal past
// this point), then walks every section's relocation list in order,
// resolving and patching each one before dropping it from the list.
func Run(obj *object.Object, opts Options) error {
	info, err := runGotPlt(obj, opts)
	if err != nil {
		return err
	}

	if err := layout.Run(obj, opts.Options); err != nil {
		return err
	}

	obj.Symbols.Freeze()

	for _, sec := range obj.Sections() {
		data, ok := sec.Content.(*object.Data)
		if !ok || len(data.Relocations) == 0 {
			continue
		}

		placement := obj.Layout.Placements[sec.ID]
		for _, rel := range data.Relocations {
			if err := applyRelocation(obj, info, placement, data, rel); err != nil {
				return err
			}
		}
		data.Relocations = nil
	}

	return nil
}

func applyRelocation(obj *object.Object, info *gotPltInfo, placement object.Placement, data *object.Data, rel object.Relocation) error {
	width := rel.Type.Width(obj.Env.Class)
	if rel.Offset+uint64(width) > uint64(len(data.Bytes)) {
		return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrOutOfBoundsAccess,
			"offset %#x, width %d, section length %#x", rel.Offset, width, len(data.Bytes))
	}

	addend, err := resolveAddend(data.Bytes, rel)
	if err != nil {
		return err
	}

	canonical, sym, err := obj.Symbols.Resolve(rel.Symbol)
	if err != nil {
		return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUndefinedSymbol, "%v", err)
	}

	S, absoluteOnly, err := resolveSymbolAddress(obj, sym, canonical)
	if err != nil {
		return err
	}

	P := int64(placement.Address + rel.Offset)
	buf := data.Bytes[rel.Offset : rel.Offset+uint64(width)]

	switch rel.Type {
	case object.Absolute32:
		return patchU32(buf, uint64(int64(S)+addend))

	case object.AbsoluteSigned32:
		return patchI32(buf, int64(S)+addend)

	case object.Relative32, object.PLT32:
		if absoluteOnly {
			return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrRelativeRelocationAgainstAbsoluteSymbol,
				"symbol %q", symbolName(obj, sym))
		}
		return patchI32(buf, int64(S)+addend-P)

	case object.GOTIndex32:
		slot, ok := info.gotOffset[canonical]
		if !ok {
			return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrGotRelativeWithNoGot, "symbol %q", symbolName(obj, sym))
		}
		return patchU32(buf, uint64(int64(slot)+addend))

	case object.GOTRelative32:
		slot, ok := info.gotOffset[canonical]
		if !ok {
			return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrGotRelativeWithNoGot, "symbol %q", symbolName(obj, sym))
		}
		G := int64(obj.Layout.Placements[info.gotSectionID].Address)
		return patchI32(buf, int64(slot)+G+addend-P)

	case object.GOTLocationRelative32:
		if info.gotSectionID == 0 {
			return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrGotRelativeWithNoGot, "no GOT present")
		}
		G := int64(obj.Layout.Placements[info.gotSectionID].Address)
		return patchI32(buf, G+addend-P)

	case object.OffsetFromGOT32:
		if info.gotSectionID == 0 {
			return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrGotRelativeWithNoGot, "no GOT present")
		}
		G := int64(obj.Layout.Placements[info.gotSectionID].Address)
		return patchI32(buf, int64(S)+addend-G)

	case object.FillGotSlot:
		return patchPointer(buf, uint64(int64(S)+addend), obj.Env.Class)

	case object.FillGotPltSlot:
		return patchPointer(buf, uint64(int64(S)+addend), obj.Env.Class)

	default:
		return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUnsupportedRelocationType, "%v", rel.Type)
	}
}

func resolveAddend(sectionBytes []byte, rel object.Relocation) (int64, error) {
	if v, ok := rel.Addend.Explicit(); ok {
		return v, nil
	}
	if rel.Offset+4 > uint64(len(sectionBytes)) {
		return 0, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrOutOfBoundsAccess,
			"inline addend read at offset %#x", rel.Offset)
	}
	raw := binary.LittleEndian.Uint32(sectionBytes[rel.Offset : rel.Offset+4])
	return int64(int32(raw)), nil
}

// resolveSymbolAddress computes the address a symbol's value refers to.
// absoluteOnly reports whether the symbol is a bare ValueAbsolute constant
// (as opposed to an address within the output), which Relative32/PLT32
// reject: relocating "relative to" a constant that was never placed
// anywhere is meaningless.
func resolveSymbolAddress(obj *object.Object, sym *object.Symbol, canonical object.SymbolID) (addr uint64, absoluteOnly bool, err error) {
	switch sym.Value.Kind {
	case object.ValueAbsolute:
		return sym.Value.Abs, true, nil

	case object.ValueSectionVirtualAddress:
		return sym.Value.Abs, false, nil

	case object.ValueSectionRelative:
		addr, err := sectionRelativeAddress(obj, sym.Value.Section, sym.Value.Offset)
		return addr, false, err

	case object.ValueUndefined, object.ValueExternallyDefined, object.ValueSectionNotLoaded, object.ValueNull:
		return 0, false, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUndefinedSymbol, "symbol %q", symbolName(obj, sym))

	default:
		return 0, false, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUndefinedSymbol, "symbol %q has no resolvable value", symbolName(obj, sym))
	}
}

// sectionRelativeAddress resolves a SectionRelative value against the
// layout. The target section may have been physically removed by dedup, in
// which case it leaves behind exactly one Deduplication facade translating
// the old per-part offset into the surviving canonical section's
// coordinate space.
func sectionRelativeAddress(obj *object.Object, section object.SectionID, offset uint64) (uint64, error) {
	if placement, ok := obj.Layout.Placements[section]; ok {
		return placement.Address + offset, nil
	}

	facade, ok := obj.Layout.Facades[section]
	if !ok {
		return 0, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUnsupportedUnalignedReference,
			"section %d has neither a placement nor a deduplication facade", section)
	}
	if _, targetIsFacade := obj.Layout.Facades[facade.Target]; targetIsFacade {
		return 0, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrRecursiveDuplicationFacadesNotAllowed, "section %d", section)
	}

	mapped, ok := facade.Map[offset]
	if !ok {
		return 0, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUnsupportedUnalignedReference,
			"offset %#x into deduplicated section %d", offset, section)
	}

	targetPlacement, ok := obj.Layout.Placements[facade.Target]
	if !ok {
		return 0, linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrUnsupportedUnalignedReference,
			"deduplication target section %d has no placement", facade.Target)
	}
	return targetPlacement.Address + mapped, nil
}

func symbolName(obj *object.Object, sym *object.Symbol) string {
	if sym.Name == 0 {
		return "<anonymous>"
	}
	return obj.Interner.Lookup(sym.Name)
}

func patchU32(buf []byte, v uint64) error {
	if v > math.MaxUint32 {
		return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrRelocatedAddressOutOfBounds, "value %#x overflows u32", v)
	}
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return nil
}

func patchI32(buf []byte, v int64) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return linkerr.Wrap(linkerr.KindRelocation, linkerr.ErrRelocatedAddressOutOfBounds, "value %#x overflows i32", v)
	}
	binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	return nil
}

func patchPointer(buf []byte, v uint64, class object.Class) error {
	if class.PointerSize() == 4 {
		return patchU32(buf, v)
	}
	binary.LittleEndian.PutUint64(buf, v)
	return nil
}
