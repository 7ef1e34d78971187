// Package arformat reads GNU-variant ar archives (the format produced by
// GNU ar/binutils for static libraries), the only ar variant this linker
// supports. Parsing follows the same style as internal/elfformat's
// relocation decoding: the whole archive is read into memory and each
// fixed-width header is decoded by slicing, with errors wrapped with enough
// context to name the archive and member at fault.
package arformat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	globalMagic   = "!<arch>\n"
	headerSize    = 60
	headerEndMark = "`\n"

	symbolTableName = "/"
	longNamesName   = "//"
	bsdSymbolTable  = "__.SYMDEF"
)

// ErrBadMagic is returned when the file does not begin with the ar global
// header.
var ErrBadMagic = errors.New("arformat: not an ar archive (bad magic)")

// ErrTruncatedHeader is returned when fewer than headerSize bytes remain
// for a member header.
var ErrTruncatedHeader = errors.New("arformat: truncated member header")

// ErrBadHeaderTerminator is returned when a member header's terminating
// magic ("`\n") is missing, which usually means the archive is corrupt or
// not GNU-variant.
var ErrBadHeaderTerminator = errors.New("arformat: malformed member header terminator")

// Member is one entry of an archive: a name and its raw content. Name has
// already been resolved through the long-name table ("//") if it used one.
type Member struct {
	Name    string
	Content []byte
}

// Archive is a parsed ar file. SymbolIndex maps a global symbol name
// defined somewhere in the archive to the index (within Members) of the
// member that defines it, taken from the GNU "/" symbol index member if
// present.
type Archive struct {
	Members     []Member
	SymbolIndex map[string]int
}

// Parse reads an entire ar archive from r.
func Parse(r io.Reader) (*Archive, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("arformat: reading archive: %w", err)
	}

	if !bytes.HasPrefix(data, []byte(globalMagic)) {
		return nil, ErrBadMagic
	}
	data = data[len(globalMagic):]

	var longNames []byte
	var symIndexData []byte
	arc := &Archive{SymbolIndex: make(map[string]int)}

	// memberIndexByOffset maps a member's header byte offset (measured from
	// just after the global magic, which is how the GNU "/" symbol index
	// addresses members) to its index in arc.Members, so the symbol index
	// can be translated from file offsets to member indices after the fact.
	memberIndexByOffset := make(map[uint64]int)

	var offset uint64
	for len(data) > 0 {
		headerOffset := offset

		if len(data) < headerSize {
			return nil, ErrTruncatedHeader
		}
		hdr := data[:headerSize]
		data = data[headerSize:]
		offset += headerSize

		if string(hdr[58:60]) != headerEndMark {
			return nil, ErrBadHeaderTerminator
		}

		rawName := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.ParseUint(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("arformat: member %q has malformed size field %q: %w", rawName, sizeStr, err)
		}

		if uint64(len(data)) < size {
			return nil, fmt.Errorf("arformat: member %q declares size %d but only %d bytes remain", rawName, size, len(data))
		}
		content := data[:size]
		data = data[size:]
		offset += size

		// Members are padded to an even byte boundary with a trailing '\n'.
		if size%2 == 1 && len(data) > 0 {
			data = data[1:]
			offset++
		}

		switch {
		case rawName == symbolTableName:
			symIndexData = content
			continue
		case rawName == longNamesName:
			longNames = content
			continue
		case strings.HasPrefix(rawName, bsdSymbolTable):
			// BSD-style symbol table; this linker only supports the GNU "/"
			// index, so skip it rather than misinterpret it as a member.
			continue
		}

		name, err := resolveName(rawName, longNames)
		if err != nil {
			return nil, err
		}

		memberIndexByOffset[headerOffset] = len(arc.Members)
		arc.Members = append(arc.Members, Member{Name: name, Content: content})
	}

	if symIndexData != nil {
		if err := parseSymbolIndex(symIndexData, memberIndexByOffset, arc); err != nil {
			return nil, err
		}
	}

	return arc, nil
}

// resolveName turns a raw 16-byte header name field into a real member
// name: GNU ar encodes short names as "name/", and names too long for the
// header as "/N" where N is a byte offset into the "//" long-name table.
func resolveName(raw string, longNames []byte) (string, error) {
	if strings.HasPrefix(raw, "/") && raw != "/" && raw != "//" {
		offsetStr := raw[1:]
		offset, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return "", fmt.Errorf("arformat: malformed long-name reference %q: %w", raw, err)
		}
		if offset >= uint64(len(longNames)) {
			return "", fmt.Errorf("arformat: long-name offset %d out of range (table is %d bytes)", offset, len(longNames))
		}
		rest := longNames[offset:]
		end := bytes.IndexByte(rest, '\n')
		if end < 0 {
			return "", fmt.Errorf("arformat: long-name entry at offset %d is not newline-terminated", offset)
		}
		return strings.TrimRight(string(rest[:end]), "/"), nil
	}
	return strings.TrimSuffix(raw, "/"), nil
}

// parseSymbolIndex decodes the GNU "/" symbol index member: a big-endian
// uint32 count, that many big-endian uint32 member header offsets, then
// that many NUL-terminated symbol names in the same order. Each offset is
// translated to a Members index via memberIndexByOffset, built while
// scanning the archive.
func parseSymbolIndex(data []byte, memberIndexByOffset map[uint64]int, arc *Archive) error {
	if len(data) < 4 {
		return fmt.Errorf("arformat: symbol index too short")
	}
	count := beUint32(data[0:4])
	data = data[4:]

	if uint64(len(data)) < uint64(count)*4 {
		return fmt.Errorf("arformat: symbol index declares %d entries but header is truncated", count)
	}
	offsets := data[:uint64(count)*4]
	names := data[uint64(count)*4:]

	nameList := strings.SplitN(string(names), "\x00", int(count)+1)

	for i := 0; i < int(count); i++ {
		if i >= len(nameList) {
			break
		}
		name := nameList[i]
		if name == "" {
			continue
		}
		memberOffset := uint64(beUint32(offsets[i*4 : i*4+4]))
		if idx, ok := memberIndexByOffset[memberOffset]; ok {
			arc.SymbolIndex[name] = idx
		}
	}

	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
