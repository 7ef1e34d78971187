package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/flexld/flexld/internal/config"
	"github.com/flexld/flexld/internal/crtfetch"
	"github.com/flexld/flexld/internal/linkerr"
)

// wellKnownStartfiles are the C runtime object basenames the loader will
// bootstrap on cfg.AutoFetchStartfiles, matching the set gcc/clang expect a
// sysroot to provide (crt1.o/Scrt1.o for non-PIE/PIE entry glue, crti.o/
// crtn.o bracketing .init/.fini).
var wellKnownStartfiles = map[string]bool{
	"crt1.o":  true,
	"Scrt1.o": true,
	"crti.o":  true,
	"crtn.o":  true,
}

// ensureStartfiles scans cfg.Inputs for missing well-known startfile paths
// and fetches them via internal/crtfetch into cfg.StartfilesCacheDir,
// writing the bytes into fs at the exact path the caller originally named
// so the rest of Load never needs to know a fetch happened — the loader
// only ever sees resolved local paths, per the spec's design note.
func ensureStartfiles(cfg *config.Config, fs afero.Fs) error {
	var missingNames []string
	var missingPaths []string
	for _, path := range cfg.Inputs {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return linkerr.Wrap(linkerr.KindInput, err, "checking input %q", path)
		}
		if exists {
			continue
		}
		base := filepath.Base(path)
		if !wellKnownStartfiles[base] {
			continue
		}
		missingNames = append(missingNames, base)
		missingPaths = append(missingPaths, path)
	}
	if len(missingNames) == 0 {
		return nil
	}

	mgr := crtfetch.NewManager(slog.Default(), cfg.StartfilesCacheDir)
	src := crtfetch.Source{
		Name:             "libc-startfiles",
		VersionConstaint: ">= " + cfg.MinStartFilesVersion,
		BaseURL:          cfg.StartfilesMirror,
		Files:            missingNames,
	}

	dir, err := mgr.Ensure(src, cfg.MinStartFilesVersion)
	if err != nil {
		return linkerr.Wrap(linkerr.KindInput, err, "fetching startfiles")
	}

	for i, base := range missingNames {
		fetched := filepath.Join(dir, base)
		data, err := os.ReadFile(fetched)
		if err != nil {
			return linkerr.Wrap(linkerr.KindInput, err, "reading fetched startfile %q", fetched)
		}

		sum := sha256.Sum256(data)
		slog.Default().Debug("bootstrapped startfile", "path", missingPaths[i], "sha256", hex.EncodeToString(sum[:]))

		if err := afero.WriteFile(fs, missingPaths[i], data, 0o644); err != nil {
			return linkerr.Wrap(linkerr.KindInput, err, "caching startfile %q", missingPaths[i])
		}
	}

	return nil
}
