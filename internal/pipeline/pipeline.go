// Package pipeline drives the full link: internal/passes/loader,
// internal/passes/dedup, internal/passes/gc (optional),
// internal/passes/layout, internal/passes/relocate, and finally
// internal/passes/elfbuild, in the leaves-first order the spec lays out.
// It is the one place that knows the full pass ordering; every pass itself
// only knows about the object.Object it mutates.
package pipeline

import (
	"io"

	"github.com/spf13/afero"

	"github.com/flexld/flexld/internal/config"
	"github.com/flexld/flexld/internal/diagnostics"
	"github.com/flexld/flexld/internal/elfformat"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/object"
	"github.com/flexld/flexld/internal/passes/dedup"
	"github.com/flexld/flexld/internal/passes/elfbuild"
	"github.com/flexld/flexld/internal/passes/gc"
	"github.com/flexld/flexld/internal/passes/layout"
	"github.com/flexld/flexld/internal/passes/loader"
	"github.com/flexld/flexld/internal/passes/relocate"
)

// debugKey names one of the --debug-print stages a caller can request a
// report for; Result.Emit only renders what cfg.DebugPrint actually asked
// for, matching the spec's "tracing at named stages" contract.
const (
	debugSections = "sections"
	debugSymbols  = "symbols"
	debugGC       = "gc"
)

// Result is everything a finished (but not yet written) link produced: the
// object in its final, relocated state and the ELF writer ready to
// serialize it. Keeping both lets a caller render diagnostics against the
// object before committing to a file write.
type Result struct {
	Object *object.Object
	Writer *elfformat.Writer
	GC     *gc.Result
}

// Run executes every pass in order and returns the finished link, or the
// first error any pass reports. No output file is written here; the
// caller (cmd/flexld) owns turning Writer into bytes on disk, since only
// it knows how to clean up a partially-written file on a later failure.
func Run(cfg *config.Config, fs afero.Fs) (*Result, error) {
	if len(cfg.Inputs) == 0 {
		return nil, linkerr.Wrap(linkerr.KindConfiguration, linkerr.ErrMissingInput, "link")
	}

	obj := object.New()

	if err := loader.Load(cfg, fs, obj); err != nil {
		return nil, err
	}

	if err := dedup.Run(obj); err != nil {
		return nil, err
	}

	var gcResult *gc.Result
	if cfg.GCSections {
		res, err := gc.Run(obj, cfg.Entry)
		if err != nil {
			return nil, err
		}
		gcResult = res
	}

	layoutOpts := layout.Options{BaseAddress: cfg.BaseAddress, PageAlign: cfg.PageAlign}
	if cfg.Mode != config.ModeNoPIE {
		// PIE and shared-object output are placed by the runtime loader, so
		// there is no fixed base address to reserve; the linker's own
		// layout starts from zero and leaves ASLR to the kernel.
		layoutOpts.BaseAddress = 0
	}
	if err := layout.Run(obj, layoutOpts); err != nil {
		return nil, err
	}

	relocOpts := relocate.Options{Options: layoutOpts, Shared: cfg.Mode == config.ModeShared}
	if err := relocate.Run(obj, relocOpts); err != nil {
		return nil, err
	}

	writer, err := elfbuild.Build(obj, cfg)
	if err != nil {
		return nil, err
	}

	return &Result{Object: obj, Writer: writer, GC: gcResult}, nil
}

// Emit renders whatever --debug-print stages cfg.DebugPrint named, in the
// order they were requested, to w.
func (r *Result) Emit(w io.Writer, cfg *config.Config) {
	if len(cfg.DebugPrint) == 0 {
		return
	}
	p := &diagnostics.Printer{Out: w, Color: !cfg.NoColor}

	for _, key := range cfg.DebugPrint {
		switch key {
		case debugSections:
			r.emitSections(p)
		case debugSymbols:
			r.emitSymbols(p)
		case debugGC:
			r.emitGC(p, w)
		}
	}
}

func (r *Result) emitSections(p *diagnostics.Printer) {
	var rows []diagnostics.SectionRow
	for _, sec := range r.Object.Sections() {
		placement := r.Object.Layout.Placements[sec.ID]
		rows = append(rows, diagnostics.SectionRow{
			Name:    r.Object.Interner.Lookup(sec.Name),
			Address: placement.Address,
			Size:    placement.Len,
			Perms:   permString(sec.Perms),
		})
	}
	p.SectionMap(rows)
}

func (r *Result) emitSymbols(p *diagnostics.Printer) {
	var rows []diagnostics.SymbolRow
	r.Object.Symbols.All(func(sym *object.Symbol) {
		if sym.ID == object.NullSymbolID || !sym.Visibility.Global {
			return
		}
		row := diagnostics.SymbolRow{
			Name:    r.Object.Interner.Lookup(sym.Name),
			Defined: sym.Value.Kind != object.ValueUndefined,
			Weak:    sym.Visibility.Weak,
		}
		if sym.Value.Kind == object.ValueSectionRelative {
			if placement, ok := r.Object.Layout.Placements[sym.Value.Section]; ok && placement.Allocated {
				row.Address = placement.Address + sym.Value.Offset
			}
		}
		if sym.STTFile != nil {
			row.SourceFile = r.Object.Interner.Lookup(*sym.STTFile)
		}
		rows = append(rows, row)
	})
	p.SymbolTable(rows)
}

func (r *Result) emitGC(p *diagnostics.Printer, w io.Writer) {
	if r.GC == nil {
		io.WriteString(w, "gc-sections was not enabled for this link\n")
		return
	}
	var rows []diagnostics.SectionRow
	for _, id := range r.GC.Removed {
		rows = append(rows, diagnostics.SectionRow{Name: r.Object.RemovedSections()[id]})
	}
	p.SectionMap(rows)
}

func permString(p object.Perms) string {
	out := []byte("---")
	if p.Read {
		out[0] = 'r'
	}
	if p.Write {
		out[1] = 'w'
	}
	if p.Execute {
		out[2] = 'x'
	}
	return string(out)
}
