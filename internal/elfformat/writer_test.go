package elfformat

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestWriteToProducesValidELFMagicAndHeaderSizes(t *testing.T) {
	wr := &Writer{
		Machine: elf.EM_X86_64,
		Type:    elf.ET_EXEC,
		Entry:   0x401000,
		Sections: []OutSection{
			{Type: elf.SHT_NULL},
			{Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x401000, Size: 4, Addralign: 16, Bytes: []byte{0x90, 0x90, 0x90, 0xc3}},
			{Type: elf.SHT_STRTAB, Size: 1, Bytes: []byte{0}},
		},
		Shstrndx: 2,
	}

	var buf bytes.Buffer
	n, err := wr.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo returned %d, but buffer has %d bytes", n, buf.Len())
	}

	data := buf.Bytes()
	if len(data) < ehsize64 {
		t.Fatalf("output too small: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		t.Errorf("missing ELF magic, got %v", data[:4])
	}
	if data[4] != 2 {
		t.Errorf("EI_CLASS = %d, want 2 (ELFCLASS64)", data[4])
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("round-trip parse with debug/elf failed: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		t.Errorf("f.Type = %v, want ET_EXEC", f.Type)
	}
	if f.Entry != 0x401000 {
		t.Errorf("f.Entry = 0x%x, want 0x401000", f.Entry)
	}
	if len(f.Sections) != 3 {
		t.Fatalf("len(f.Sections) = %d, want 3", len(f.Sections))
	}
}

func TestWriteToSegmentsRoundTrip(t *testing.T) {
	wr := &Writer{
		Machine: elf.EM_X86_64,
		Type:    elf.ET_EXEC,
		Entry:   0x400000,
		Sections: []OutSection{
			{Type: elf.SHT_NULL},
			{Type: elf.SHT_STRTAB, Size: 1, Bytes: []byte{0}},
		},
		Segments: []OutSegment{
			{Type: uint32(elf.PT_LOAD), Flags: 5, Offset: 0, VAddr: 0x400000, PAddr: 0x400000, FileSz: 0x100, MemSz: 0x100, Align: 0x1000},
		},
		Shstrndx: 1,
	}

	var buf bytes.Buffer
	if _, err := wr.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo error: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("round-trip parse failed: %v", err)
	}
	defer f.Close()

	progs := f.Progs
	if len(progs) != 1 {
		t.Fatalf("len(f.Progs) = %d, want 1", len(progs))
	}
	if progs[0].Vaddr != 0x400000 || progs[0].Filesz != 0x100 {
		t.Errorf("Progs[0] = %+v", progs[0])
	}
}
