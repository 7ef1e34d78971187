// Package gc implements the optional reachability-based section pruner
// (the linker's --gc-sections pass): a transitive closure over
// symbol -> defining section and section -> referenced-symbols -> sections,
// starting from the entry point and any other retained root. Anything
// outside the closure is removed, conservatively: when in doubt, retain.
package gc

import (
	"github.com/flexld/flexld/internal/object"
)

// retainedSectionNames are sections kept regardless of inbound references,
// because the runtime loader or the C library's startup code reaches them
// through means this linker can't see in a relocation list (the dynamic
// loader walks .init_array directly, for instance).
var retainedSectionNames = []string{".init_array", ".fini_array", ".preinit_array"}

// Result records what GC removed, for diagnostic rendering.
type Result struct {
	Removed []object.SectionID
}

// Run computes the reachable set starting from entryName (if it names a
// live global symbol) and the retained roots, then removes every
// unreachable section and purges any symbol that pointed into one.
func Run(obj *object.Object, entryName string) (*Result, error) {
	reachableSections := make(map[object.SectionID]bool)
	visitedSymbols := make(map[object.SymbolID]bool)

	var visitSection func(id object.SectionID) error
	var visitSymbol func(id object.SymbolID) error

	visitSymbol = func(id object.SymbolID) error {
		if visitedSymbols[id] {
			return nil
		}
		visitedSymbols[id] = true

		_, sym, err := obj.Symbols.Resolve(id)
		if err != nil {
			// A dangling or already-removed symbol is not this pass's
			// problem to report; leave it for the relocator/linking
			// checks that run after GC.
			return nil
		}
		if sym.Value.Kind == object.ValueSectionRelative {
			return visitSection(sym.Value.Section)
		}
		return nil
	}

	visitSection = func(id object.SectionID) error {
		if reachableSections[id] {
			return nil
		}
		reachableSections[id] = true

		sec := obj.Section(id)
		if sec == nil {
			if obj.Layout != nil {
				if facade, ok := obj.Layout.Facades[id]; ok {
					return visitSection(facade.Target)
				}
			}
			return nil
		}
		if data, ok := sec.Content.(*object.Data); ok {
			for _, r := range data.Relocations {
				if err := visitSymbol(r.Symbol); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if entryName != "" {
		nameID := obj.Interner.Intern(entryName)
		if id, ok := obj.Symbols.Lookup(nameID); ok {
			if err := visitSymbol(id); err != nil {
				return nil, err
			}
		}
	}

	var dynamicRoots []object.SymbolID
	obj.Symbols.All(func(s *object.Symbol) {
		if s.NeededByDynamic {
			dynamicRoots = append(dynamicRoots, s.ID)
		}
	})
	for _, id := range dynamicRoots {
		if err := visitSymbol(id); err != nil {
			return nil, err
		}
	}

	for _, sec := range obj.Sections() {
		name := obj.Interner.Lookup(sec.Name)
		for _, retained := range retainedSectionNames {
			if name == retained {
				if err := visitSection(sec.ID); err != nil {
					return nil, err
				}
			}
		}
	}

	var removed []object.SectionID
	for _, sec := range obj.Sections() {
		if !reachableSections[sec.ID] {
			removed = append(removed, sec.ID)
		}
	}
	for _, id := range removed {
		obj.RemoveSection(id)
	}

	removedSet := make(map[object.SectionID]bool, len(removed))
	for _, id := range removed {
		removedSet[id] = true
	}

	var toPurge []object.SymbolID
	obj.Symbols.All(func(s *object.Symbol) {
		if s.Value.Kind == object.ValueSectionRelative && removedSet[s.Value.Section] {
			toPurge = append(toPurge, s.ID)
		}
	})
	for _, id := range toPurge {
		obj.Symbols.Remove(id)
	}

	return &Result{Removed: removed}, nil
}
