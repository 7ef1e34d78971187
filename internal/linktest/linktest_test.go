package linktest

import (
	"encoding/binary"
	"testing"

	"github.com/flexld/flexld/internal/config"
	"github.com/flexld/flexld/internal/object"
	"github.com/flexld/flexld/internal/passes/dedup"
	"github.com/flexld/flexld/internal/passes/elfbuild"
	"github.com/flexld/flexld/internal/passes/layout"
	"github.com/flexld/flexld/internal/passes/relocate"
)

// TestFullPipelineResolvesAndPatchesAReference builds two hand-linked
// sections (a definition of "foo" and a reference to it via a Relative32
// relocation) and drives every post-loader pass in order, the way
// internal/pipeline.Run does, checking that the final bytes encode foo's
// resolved address the way scenario 3 of the spec's testable properties
// describes.
func TestFullPipelineResolvesAndPatchesAReference(t *testing.T) {
	obj := NewObject()

	text := AddDataSection(obj, ".text", object.Perms{Read: true, Execute: true}, make([]byte, 16))
	fooID := AddGlobalDefinition(obj, "foo", text, 0, false)
	_ = fooID

	caller := AddDataSection(obj, ".text2", object.Perms{Read: true, Execute: true}, make([]byte, 8))
	refID := AddGlobalReference(obj, "foo")
	AddRelocation(caller, object.Relocation{
		Type:   object.Relative32,
		Symbol: refID,
		Offset: 4,
		Addend: object.ExplicitAddend(-4),
	})

	if err := dedup.Run(obj); err != nil {
		t.Fatalf("dedup.Run: %v", err)
	}

	opts := layout.Options{BaseAddress: 0x400000, PageAlign: 0x1000}
	if err := layout.Run(obj, opts); err != nil {
		t.Fatalf("layout.Run: %v", err)
	}

	if err := relocate.Run(obj, relocate.Options{Options: opts}); err != nil {
		t.Fatalf("relocate.Run: %v", err)
	}

	cfg := &config.Config{Entry: "foo", Mode: config.ModeNoPIE, BaseAddress: opts.BaseAddress, PageAlign: opts.PageAlign}
	if _, err := elfbuild.Build(obj, cfg); err != nil {
		t.Fatalf("elfbuild.Build: %v", err)
	}

	data := caller.Content.(*object.Data)
	if len(data.Relocations) != 0 {
		t.Fatalf("expected relocations to be drained, got %d left", len(data.Relocations))
	}

	// foo is at 0x400000 and the site at .text2+4 = 0x400014, so
	// S + A - P = 0x400000 - 4 - 0x400014 = -24.
	if got := int32(binary.LittleEndian.Uint32(data.Bytes[4:8])); got != -24 {
		t.Errorf("patched Relative32 = %d, want -24", got)
	}
}
