package relocate

import (
	"fmt"

	"github.com/flexld/flexld/internal/object"
)

// pltEntrySize is the size in bytes of one synthesized PLT stub: a 6-byte
// "jmp *disp32(%rip)" through the symbol's .got.plt slot, padded with nop to
// a round 16 bytes (the conventional x86-64 PLT entry size, even though this
// linker never does lazy binding and so never needs the extra room for a
// resolver call).
const pltEntrySize = 16

// gotPltInfo records what the gotplt sub-stage assigned, so the main
// relocation pass can answer "does this symbol have a GOT slot, and where."
type gotPltInfo struct {
	gotSectionID object.SectionID
	gotOffset    map[object.SymbolID]uint64

	gotPltSectionID object.SectionID
	gotPltOffset    map[object.SymbolID]uint64
}

func newGotPltInfo() *gotPltInfo {
	return &gotPltInfo{
		gotOffset:    make(map[object.SymbolID]uint64),
		gotPltOffset: make(map[object.SymbolID]uint64),
	}
}

// runGotPlt scans every relocation in the object for GOT- and PLT-needing
// references, assigns each referenced symbol at most one GOT slot (and, in
// shared-object mode, at most one PLT trampoline), and synthesizes .got,
// .got.plt, and .plt sections carrying the FillGotSlot/FillGotPltSlot
// relocations that actually populate them. It must run before the layout
// pass's final invocation, since the sections it creates need addresses of
// their own.
func runGotPlt(obj *object.Object, opts Options) (*gotPltInfo, error) {
	ptrSize := uint64(obj.Env.Class.PointerSize())

	var gotOrder []object.SymbolID
	gotSeen := make(map[object.SymbolID]bool)
	var pltOrder []object.SymbolID
	pltSeen := make(map[object.SymbolID]bool)

	for _, sec := range obj.Sections() {
		data, ok := sec.Content.(*object.Data)
		if !ok {
			continue
		}
		for _, rel := range data.Relocations {
			canonical, sym, err := obj.Symbols.Resolve(rel.Symbol)
			if err != nil {
				// Left for the main relocation pass to report in full.
				continue
			}
			if rel.Type.NeedsGOT() && !gotSeen[canonical] {
				gotSeen[canonical] = true
				gotOrder = append(gotOrder, canonical)
			}
			if rel.Type == object.PLT32 && opts.Shared && sym.Value.Kind == object.ValueExternallyDefined && !pltSeen[canonical] {
				pltSeen[canonical] = true
				pltOrder = append(pltOrder, canonical)
			}
		}
	}

	info := newGotPltInfo()

	if len(gotOrder) > 0 {
		bytes := make([]byte, uint64(len(gotOrder))*ptrSize)
		relocs := make([]object.Relocation, 0, len(gotOrder))
		for i, sym := range gotOrder {
			off := uint64(i) * ptrSize
			info.gotOffset[sym] = off
			relocs = append(relocs, object.Relocation{
				Type:   object.FillGotSlot,
				Symbol: sym,
				Offset: off,
				Addend: object.ExplicitAddend(0),
			})
		}
		name := obj.Interner.Intern(".got")
		sec := obj.NewSection(name, object.Perms{Read: true, Write: true}, object.Span{}, &object.Data{
			Dedup:       object.DedupDisabled,
			Bytes:       bytes,
			Relocations: relocs,
		})
		info.gotSectionID = sec.ID
	}

	if len(pltOrder) > 0 {
		if err := buildPLT(obj, info, pltOrder, ptrSize); err != nil {
			return nil, err
		}
	}

	return info, nil
}

// buildPLT synthesizes .got.plt (one pointer-sized slot per PLT symbol,
// filled directly with the symbol's resolved address — this linker performs
// no lazy binding, so there is no resolver stub to seed the slot with
// first) and .plt (one jmp-through-the-slot stub per symbol). Each stub's
// displacement is expressed as an ordinary Relative32 relocation against a
// synthetic local symbol pointing at the slot, which is exactly the
// semantics internal/passes/relocate's main pass already gives
// SectionRelative symbols; no special-casing is needed to make the stub
// resolve correctly.
func buildPLT(obj *object.Object, info *gotPltInfo, order []object.SymbolID, ptrSize uint64) error {
	gotPltBytes := make([]byte, uint64(len(order))*ptrSize)
	gotPltRelocs := make([]object.Relocation, 0, len(order))
	for i, sym := range order {
		off := uint64(i) * ptrSize
		info.gotPltOffset[sym] = off
		gotPltRelocs = append(gotPltRelocs, object.Relocation{
			Type:   object.FillGotPltSlot,
			Symbol: sym,
			Offset: off,
			Addend: object.ExplicitAddend(0),
		})
	}
	gotPltName := obj.Interner.Intern(".got.plt")
	gotPltSec := obj.NewSection(gotPltName, object.Perms{Read: true, Write: true}, object.Span{}, &object.Data{
		Dedup:       object.DedupDisabled,
		Bytes:       gotPltBytes,
		Relocations: gotPltRelocs,
	})
	info.gotPltSectionID = gotPltSec.ID

	pltBytes := make([]byte, len(order)*pltEntrySize)
	pltRelocs := make([]object.Relocation, 0, len(order))
	for i, sym := range order {
		stub := pltBytes[i*pltEntrySize : (i+1)*pltEntrySize]
		stub[0] = 0xff
		stub[1] = 0x25 // jmp *disp32(%rip)
		for j := 6; j < pltEntrySize; j++ {
			stub[j] = 0x90 // nop padding
		}

		slotName := obj.Interner.Intern(fmt.Sprintf(".got.plt+%#x", info.gotPltOffset[sym]))
		slotSym := obj.Symbols.AddLocal(slotName, object.NoType,
			object.SectionRelative(gotPltSec.ID, info.gotPltOffset[sym]), object.Span{}, nil)

		// disp32 is relative to the address of the instruction following the
		// jmp (P+4, where P is this field's own address); baking the -4
		// into the addend is the same convention a real assembler/linker
		// uses for rip-relative addressing, and it's what lets Relative32's
		// existing i32(S+A-P) formula produce the right displacement.
		pltRelocs = append(pltRelocs, object.Relocation{
			Type:   object.Relative32,
			Symbol: slotSym,
			Offset: uint64(i*pltEntrySize + 2),
			Addend: object.ExplicitAddend(-4),
		})
	}
	pltName := obj.Interner.Intern(".plt")
	obj.NewSection(pltName, object.Perms{Read: true, Execute: true}, object.Span{}, &object.Data{
		Dedup:       object.DedupDisabled,
		Bytes:       pltBytes,
		Relocations: pltRelocs,
	})

	return nil
}
