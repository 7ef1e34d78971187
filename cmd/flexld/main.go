// Command flexld is a GNU-ld-compatible static linker for the ELF object
// format, targeting the x86 and x86-64 System V ABIs.
package main

import (
	"log/slog"
	"os"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := newRootCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
