package arformat

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// buildMember formats one ar member header + content + padding, exactly as
// GNU ar would, for use as test fixtures.
func buildMember(name string, content []byte) []byte {
	var buf bytes.Buffer
	header := fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "100644", len(content))
	buf.WriteString(header)
	buf.Write(content)
	if len(content)%2 == 1 {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func buildArchive(members ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(globalMagic)
	for _, m := range members {
		buf.Write(m)
	}
	return buf.Bytes()
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse(strings.NewReader("not an archive"))
	if err != ErrBadMagic {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestParseSingleMember(t *testing.T) {
	data := buildArchive(buildMember("foo.o", []byte("hello")))
	arc, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(arc.Members) != 1 {
		t.Fatalf("len(Members) = %d, want 1", len(arc.Members))
	}
	if arc.Members[0].Name != "foo.o" {
		t.Errorf("Members[0].Name = %q, want foo.o", arc.Members[0].Name)
	}
	if string(arc.Members[0].Content) != "hello" {
		t.Errorf("Members[0].Content = %q, want hello", arc.Members[0].Content)
	}
}

func TestParseMultipleMembersWithOddPadding(t *testing.T) {
	data := buildArchive(
		buildMember("a.o", []byte("odd")),
		buildMember("b.o", []byte("even-len")),
	)
	arc, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(arc.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2", len(arc.Members))
	}
	if arc.Members[0].Name != "a.o" || arc.Members[1].Name != "b.o" {
		t.Errorf("Members = %+v", arc.Members)
	}
	if string(arc.Members[1].Content) != "even-len" {
		t.Errorf("Members[1].Content = %q", arc.Members[1].Content)
	}
}

func TestParseLongNameTable(t *testing.T) {
	longNames := "this_is_a_very_long_member_name_that_does_not_fit.o/\n"
	longNameMember := buildMember("//", []byte(longNames))

	realMember := buildMember("/0", []byte("payload"))

	data := buildArchive(longNameMember, realMember)
	arc, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(arc.Members) != 1 {
		t.Fatalf("len(Members) = %d, want 1", len(arc.Members))
	}
	if arc.Members[0].Name != "this_is_a_very_long_member_name_that_does_not_fit.o" {
		t.Errorf("Members[0].Name = %q", arc.Members[0].Name)
	}
}

func TestParseTruncatedHeaderErrors(t *testing.T) {
	data := append([]byte(globalMagic), []byte("short")...)
	_, err := Parse(bytes.NewReader(data))
	if err != ErrTruncatedHeader {
		t.Errorf("err = %v, want ErrTruncatedHeader", err)
	}
}
