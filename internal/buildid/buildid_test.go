package buildid

import (
	"bytes"
	"testing"
)

func TestGenerateSHA1IsDeterministic(t *testing.T) {
	a, err := Generate(StyleSHA1, []byte("hello"), []byte("world"))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	b, err := Generate(StyleSHA1, []byte("hello"), []byte("world"))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("SHA1 style produced different output for identical input: %x vs %x", a, b)
	}
	if len(a) != 20 {
		t.Errorf("len(a) = %d, want 20 (SHA-1 digest size)", len(a))
	}
}

func TestGenerateSHA1DiffersOnDifferentInput(t *testing.T) {
	a, _ := Generate(StyleSHA1, []byte("hello"))
	b, _ := Generate(StyleSHA1, []byte("goodbye"))
	if bytes.Equal(a, b) {
		t.Error("different inputs produced the same SHA1 build ID")
	}
}

func TestGenerateUUIDProducesSixteenBytes(t *testing.T) {
	id, err := Generate(StyleUUID)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if len(id) != 16 {
		t.Errorf("len(id) = %d, want 16", len(id))
	}
}

func TestNoteLayoutIsFourByteAligned(t *testing.T) {
	n := Note([]byte{1, 2, 3, 4, 5})
	if len(n)%4 != 0 {
		t.Errorf("len(Note(...)) = %d, not a multiple of 4", len(n))
	}
	// namesz=4, descsz=5, type=3 => first three u32 fields.
	if n[0] != 4 || n[4] != 5 || n[8] != 3 {
		t.Errorf("note header fields = %v", n[:12])
	}
}
