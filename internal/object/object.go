// Package object defines the linker's intermediate representation: the
// Object that every pass in internal/passes reads, mutates, and hands off
// to the next.
package object

import (
	"fmt"

	"github.com/flexld/flexld/internal/ids"
	"github.com/flexld/flexld/internal/interner"
)

// Object is the single mutable intermediate representation shared by every
// pass of the pipeline. It is created empty by the loader, grows during
// merging, is mutated in place by subsequent passes, and is finally
// consumed by internal/passes/elfbuild, which produces a distinct ELF
// value.
type Object struct {
	Interner *interner.Interner
	Env      *Environment // nil until the first input is merged

	Symbols *SymbolTable

	sectionAlloc *ids.Allocator[SectionID]
	sections     map[SectionID]*Section
	// sectionOrder preserves insertion order, which is the order the
	// section merger concatenates same-(name,perms) groups in and the
	// order the ELF builder falls back to for any section layout doesn't
	// otherwise order.
	sectionOrder []SectionID

	// sectionsByKey indexes not-yet-merged sections by their (name, perms)
	// group key, so the loader can find the right section to append a new
	// input's contribution to.
	sectionsByKey map[sectionKey]SectionID

	// removedSections records names of sections removed by GC or merge, for
	// diagnostics (internal/passes/gc, internal/passes/dedup).
	removedSections map[SectionID]interner.ID

	Layout *Layout // nil until internal/passes/layout has run
}

type sectionKey struct {
	name  interner.ID
	perms Perms
}

// New creates an empty Object with fresh interner, ID allocator, and symbol
// table.
func New() *Object {
	return &Object{
		Interner:        interner.New(),
		Symbols:         NewSymbolTable(),
		sectionAlloc:    ids.New[SectionID](),
		sections:        make(map[SectionID]*Section),
		sectionsByKey:   make(map[sectionKey]SectionID),
		removedSections: make(map[SectionID]interner.ID),
	}
}

// SetEnv fixes the link's Environment from the first merged object, or
// checks a later object against it. Returns an error (not a panic) if the
// environments mismatch, since this is a normal, user-triggerable failure.
func (o *Object) SetEnv(env Environment) error {
	if o.Env == nil {
		e := env
		o.Env = &e
		return nil
	}
	if !o.Env.Equal(env) {
		return fmt.Errorf("environment mismatch: have %s/%s, got %s/%s",
			o.Env.Class, o.Env.Machine, env.Class, env.Machine)
	}
	return nil
}

// NewSection allocates a fresh section with a new dense ID, not yet
// registered under any (name, perms) merge key. Use GetOrCreateSection for
// sections coming from loader input that should be grouped with same-key
// sections from other inputs.
func (o *Object) NewSection(name interner.ID, perms Perms, source Span, content Content) *Section {
	id := o.sectionAlloc.Next()
	s := &Section{ID: id, Name: name, Perms: perms, Source: source, Content: content}
	o.sections[id] = s
	o.sectionOrder = append(o.sectionOrder, id)
	return s
}

// GetOrCreateSection returns the existing section registered under
// (name, perms), or creates and registers a new one using newContent if
// none exists yet. ok reports whether an existing section was found.
func (o *Object) GetOrCreateSection(name interner.ID, perms Perms, source Span, newContent func() Content) (*Section, bool) {
	key := sectionKey{name: name, perms: perms}
	if id, ok := o.sectionsByKey[key]; ok {
		return o.sections[id], true
	}
	s := o.NewSection(name, perms, source, newContent())
	o.sectionsByKey[key] = s.ID
	return s, false
}

// Section returns the section with the given ID, or nil if it does not
// exist (never existed, or was removed — see RemoveSection).
func (o *Object) Section(id SectionID) *Section {
	return o.sections[id]
}

// Sections returns every live section in insertion order.
func (o *Object) Sections() []*Section {
	out := make([]*Section, 0, len(o.sectionOrder))
	for _, id := range o.sectionOrder {
		if s, ok := o.sections[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// RemoveSection deletes a section (used by GC and by dedup, which replaces
// a group of sections with one canonical merged section). The name is kept
// in removedSections for diagnostics.
func (o *Object) RemoveSection(id SectionID) {
	s, ok := o.sections[id]
	if !ok {
		return
	}
	o.removedSections[id] = s.Name
	delete(o.sections, id)
	for key, kid := range o.sectionsByKey {
		if kid == id {
			delete(o.sectionsByKey, key)
		}
	}
}

// RemovedSections returns the name of every section ever removed, keyed by
// its former ID, for diagnostic rendering.
func (o *Object) RemovedSections() map[SectionID]interner.ID {
	return o.removedSections
}

// ReplaceSection installs a brand-new section under id's former (name,
// perms) key, used by dedup when collapsing a merge group into a single
// canonical section. The new section keeps a fresh ID of its own; callers
// must still register a Deduplication facade for every ID that is replaced
// (see internal/passes/dedup).
func (o *Object) ReplaceSection(name interner.ID, perms Perms, source Span, content Content) *Section {
	s := o.NewSection(name, perms, source, content)
	o.sectionsByKey[sectionKey{name: name, perms: perms}] = s.ID
	return s
}
