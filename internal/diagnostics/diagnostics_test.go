package diagnostics

import (
	"strings"
	"testing"
)

func TestSectionMapNoColorContainsNames(t *testing.T) {
	var buf strings.Builder
	p := &Printer{Out: &buf, Color: false}
	p.SectionMap([]SectionRow{
		{Name: ".text", Address: 0x401000, Size: 64, FileOffset: 0x1000, Perms: "r-x"},
	})
	out := buf.String()
	if !strings.Contains(out, ".text") {
		t.Errorf("output missing section name: %q", out)
	}
	if !strings.Contains(out, "r-x") {
		t.Errorf("output missing perms: %q", out)
	}
}

func TestSymbolTableNoColorContainsNames(t *testing.T) {
	var buf strings.Builder
	p := &Printer{Out: &buf, Color: false}
	p.SymbolTable([]SymbolRow{
		{Name: "main", Defined: true, Address: 0x401000, SourceFile: "main.o"},
		{Name: "undefined_fn", Defined: false},
	})
	out := buf.String()
	if !strings.Contains(out, "main") || !strings.Contains(out, "undefined_fn") {
		t.Errorf("output missing symbol names: %q", out)
	}
}

func TestHexDumpFormatsRowsAndASCII(t *testing.T) {
	var buf strings.Builder
	p := &Printer{Out: &buf, Color: false}
	p.HexDump(0x1000, []byte("Hello, world!!!!"))
	out := buf.String()
	if !strings.Contains(out, "00001000") {
		t.Errorf("missing base address in output: %q", out)
	}
	if !strings.Contains(out, "48 65 6c 6c 6f") {
		t.Errorf("missing hex bytes for 'Hello' in output: %q", out)
	}
	if !strings.Contains(out, "|Hello, world!!!!|") {
		t.Errorf("missing ASCII column in output: %q", out)
	}
}

func TestHexDumpHandlesPartialFinalRow(t *testing.T) {
	var buf strings.Builder
	p := &Printer{Out: &buf, Color: false}
	p.HexDump(0, []byte{0x01, 0x02, 0x03})
	if !strings.Contains(buf.String(), "|...|") {
		t.Errorf("unexpected output for partial row: %q", buf.String())
	}
}
