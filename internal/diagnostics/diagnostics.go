// Package diagnostics renders human-facing link reports: symbol tables,
// section maps, and hex dumps, colorized the way pixie colorized its CLI
// output with fatih/color.
package diagnostics

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Printer renders diagnostic reports to an io.Writer, using color only when
// Color is true (the CLI disables it for non-TTY output or when --no-color
// is passed).
type Printer struct {
	Out   io.Writer
	Color bool
}

func (p *Printer) colorize(c *color.Color, format string, args ...any) string {
	if !p.Color {
		return fmt.Sprintf(format, args...)
	}
	return c.Sprintf(format, args...)
}

var (
	sectionHeaderColor = color.New(color.FgCyan, color.Bold)
	symbolDefinedColor = color.New(color.FgGreen)
	symbolWeakColor    = color.New(color.FgYellow)
	symbolUndefColor   = color.New(color.FgRed)
	addressColor       = color.New(color.FgHiBlack)
)

// SectionRow is one row of the section-map table.
type SectionRow struct {
	Name       string
	Address    uint64
	Size       uint64
	FileOffset uint64
	Perms      string
}

// SectionMap prints a table of sections and their final placement.
func (p *Printer) SectionMap(rows []SectionRow) {
	tw := tabwriter.NewWriter(p.Out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, p.colorize(sectionHeaderColor, "NAME\tADDRESS\tSIZE\tOFFSET\tPERMS"))
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t0x%x\t0x%x\t%s\n",
			r.Name,
			p.colorize(addressColor, "0x%016x", r.Address),
			r.Size, r.FileOffset, r.Perms)
	}
	tw.Flush()
}

// SymbolRow is one row of the symbol-table report.
type SymbolRow struct {
	Name       string
	Defined    bool
	Weak       bool
	Address    uint64
	SourceFile string
}

// SymbolTable prints a table of resolved symbols, colored by resolution
// status: green for a strong definition, yellow for a weak one, red for
// still-undefined.
func (p *Printer) SymbolTable(rows []SymbolRow) {
	tw := tabwriter.NewWriter(p.Out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, p.colorize(sectionHeaderColor, "NAME\tADDRESS\tSOURCE"))
	for _, r := range rows {
		var status func(format string, args ...any) string
		switch {
		case !r.Defined:
			status = func(f string, a ...any) string { return p.colorize(symbolUndefColor, f, a...) }
		case r.Weak:
			status = func(f string, a ...any) string { return p.colorize(symbolWeakColor, f, a...) }
		default:
			status = func(f string, a ...any) string { return p.colorize(symbolDefinedColor, f, a...) }
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", status("%s", r.Name), fmt.Sprintf("0x%016x", r.Address), r.SourceFile)
	}
	tw.Flush()
}

// HexDump renders data as a conventional 16-bytes-per-row hex dump starting
// at baseAddr, for use in relocation-overflow and out-of-bounds-access
// error reports.
func (p *Printer) HexDump(baseAddr uint64, data []byte) {
	const width = 16
	for off := 0; off < len(data); off += width {
		end := min(off+width, len(data))
		row := data[off:end]

		fmt.Fprint(p.Out, p.colorize(addressColor, "%08x  ", baseAddr+uint64(off)))
		for i := 0; i < width; i++ {
			if i < len(row) {
				fmt.Fprintf(p.Out, "%02x ", row[i])
			} else {
				fmt.Fprint(p.Out, "   ")
			}
			if i == width/2-1 {
				fmt.Fprint(p.Out, " ")
			}
		}

		fmt.Fprint(p.Out, " |")
		for _, b := range row {
			if b >= 0x20 && b < 0x7f {
				fmt.Fprintf(p.Out, "%c", b)
			} else {
				fmt.Fprint(p.Out, ".")
			}
		}
		fmt.Fprintln(p.Out, "|")
	}
}
