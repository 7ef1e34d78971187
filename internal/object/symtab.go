package object

import (
	"fmt"

	"github.com/flexld/flexld/internal/ids"
	"github.com/flexld/flexld/internal/interner"
	"github.com/flexld/flexld/internal/linkerr"
)

// maxRedirectHops bounds how many redirect hops Resolve will follow before
// panicking. Redirect chains are at most one hop by construction (a
// per-input ID either is the canonical symbol or redirects straight to it),
// so hitting this bound means the table's invariants were violated by a bug
// elsewhere, not by a pathological but legal input.
const maxRedirectHops = 64

type slot struct {
	sym        Symbol
	isRedirect bool
	redirectTo SymbolID
	removed    bool
}

// SymbolTable accumulates local and global symbols with conflict detection,
// undefined-symbol tracking, and per-input-ID-to-canonical-ID redirection.
type SymbolTable struct {
	alloc  *ids.Allocator[SymbolID]
	slots  []slot
	byName map[interner.ID]SymbolID
	frozen bool
}

// NewSymbolTable creates a SymbolTable with its dedicated null symbol at
// index 0.
func NewSymbolTable() *SymbolTable {
	t := &SymbolTable{
		alloc:  ids.New[SymbolID](),
		byName: make(map[interner.ID]SymbolID),
	}
	nullID := t.alloc.Next()
	t.slots = append(t.slots, slot{sym: Symbol{ID: nullID, Value: Value{Kind: ValueNull}}})
	return t
}

func (t *SymbolTable) checkMutable() {
	if t.frozen {
		panic("object: SymbolTable is frozen; no further mutation is allowed")
	}
}

// AddLocal allocates a new, never-deduplicated local symbol.
func (t *SymbolTable) AddLocal(name interner.ID, kind SymbolKind, value Value, span Span, sttFile *interner.ID) SymbolID {
	t.checkMutable()
	id := t.alloc.Next()
	t.slots = append(t.slots, slot{sym: Symbol{
		ID:      id,
		Name:    name,
		Kind:    kind,
		Value:   value,
		Span:    span,
		STTFile: sttFile,
	}})
	return id
}

// AddGlobal records one occurrence of a global symbol definition or
// reference, applying the strong/weak/undefined merge rules, and returns a
// per-input SymbolID. That ID is either the canonical symbol itself (first
// occurrence of this name) or a redirect to it (subsequent occurrences);
// callers should always store this returned ID in relocations and resolve
// it later via Resolve, rather than trying to guess the canonical ID ahead
// of time.
func (t *SymbolTable) AddGlobal(name interner.ID, kind SymbolKind, vis Visibility, value Value, span Span, neededByDynamic bool) (SymbolID, error) {
	t.checkMutable()

	canonicalID, exists := t.byName[name]
	if !exists {
		id := t.alloc.Next()
		t.slots = append(t.slots, slot{sym: Symbol{
			ID:              id,
			Name:            name,
			Kind:            kind,
			Visibility:      vis,
			Value:           value,
			Span:            span,
			NeededByDynamic: neededByDynamic,
		}})
		t.byName[name] = id
		return id, nil
	}

	canonical := &t.slots[canonicalID].sym
	newIsDefined := value.Kind != ValueUndefined
	oldIsDefined := canonical.Value.Kind != ValueUndefined

	switch {
	case !oldIsDefined && newIsDefined:
		canonical.Kind = kind
		canonical.Visibility = vis
		canonical.Value = value
		canonical.Span = span
	case oldIsDefined && newIsDefined:
		if canonical.Visibility.Weak && !vis.Weak {
			// Strong definition supersedes the existing weak one.
			canonical.Kind = kind
			canonical.Visibility = vis
			canonical.Value = value
			canonical.Span = span
		} else if !canonical.Visibility.Weak && vis.Weak {
			// Existing strong definition wins; keep it as-is.
		} else if canonical.Visibility.Weak && vis.Weak {
			// Both weak: first definition wins (pinned open question (b)'s
			// sibling case — ties go to whichever was merged first, which
			// is deterministic because input order is deterministic).
		} else {
			return 0, linkerr.Wrap(linkerr.KindLinking, linkerr.ErrDuplicateGlobalSymbol,
				"symbol %q is defined strongly more than once", name)
		}
	default:
		// Existing definition (defined or not) takes priority over a bare
		// reference; nothing to update except the dynamic-export flag.
	}

	canonical.NeededByDynamic = canonical.NeededByDynamic || neededByDynamic

	id := t.alloc.Next()
	t.slots = append(t.slots, slot{isRedirect: true, redirectTo: canonicalID})
	return id, nil
}

// Resolve follows id's redirect chain (if any) and returns the canonical
// SymbolID together with a pointer to its live Symbol record. The returned
// pointer aliases the table's internal storage and must not be retained
// across a mutation of the table.
func (t *SymbolTable) Resolve(id SymbolID) (SymbolID, *Symbol, error) {
	cur := id
	for hops := 0; ; hops++ {
		if hops > maxRedirectHops {
			panic(fmt.Sprintf("object: redirect chain from symbol %d exceeds %d hops", id, maxRedirectHops))
		}
		if int(cur) < 0 || int(cur) >= len(t.slots) {
			return 0, nil, fmt.Errorf("object: symbol ID %d out of range", cur)
		}
		s := &t.slots[cur]
		if s.removed {
			return 0, nil, fmt.Errorf("object: symbol %d was removed", cur)
		}
		if !s.isRedirect {
			return cur, &s.sym, nil
		}
		cur = s.redirectTo
	}
}

// Freeze prevents any further addition, removal, or redirection. It must be
// called before the relocator resolves any symbol, so that no in-flight
// lookup can be invalidated by a later redirect.
func (t *SymbolTable) Freeze() {
	t.frozen = true
}

// Frozen reports whether Freeze has been called.
func (t *SymbolTable) Frozen() bool {
	return t.frozen
}

// Remove purges a symbol, e.g. because GC removed the section it pointed
// into. It panics if the table is frozen or id is a redirect (only
// canonical symbols may be removed directly; redirects pointing at a
// removed symbol will surface the removal through Resolve).
func (t *SymbolTable) Remove(id SymbolID) {
	t.checkMutable()
	if int(id) < 0 || int(id) >= len(t.slots) {
		panic("object: Remove of out-of-range symbol ID")
	}
	if t.slots[id].isRedirect {
		panic("object: Remove must target a canonical symbol, not a redirect")
	}
	t.slots[id].removed = true
	if name := t.slots[id].sym.Name; name != 0 {
		if t.byName[name] == id {
			delete(t.byName, name)
		}
	}
}

// Lookup returns the canonical SymbolID for an interned global name, if one
// has been defined or referenced.
func (t *SymbolTable) Lookup(name interner.ID) (SymbolID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// All calls fn for every live (non-removed, non-redirect) symbol, including
// the null symbol at index 0, in ID order. This is the order the ELF
// builder uses as a starting point for .symtab (it then regroups locals by
// source file and moves globals to the end, see internal/passes/elfbuild).
func (t *SymbolTable) All(fn func(*Symbol)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.isRedirect || s.removed {
			continue
		}
		fn(&s.sym)
	}
}

// Len returns the number of SymbolIDs ever allocated, including redirects
// and removed symbols (i.e. the high-water mark, used to size arrays
// indexed by SymbolID).
func (t *SymbolTable) Len() int {
	return len(t.slots)
}
