// Package crtfetch optionally fetches the C runtime startfiles
// (crt1.o, crti.o, crtn.o and friends) a link needs when the user passes
// --auto-fetch-startfiles instead of pointing directly at a local sysroot.
// A small metadata file records what's already on disk, and a fetch only
// happens if that's missing or stale for the requested version.
package crtfetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/cavaliergopher/grab/v3"
)

const metadataFilename = "crtfetch-metadata.json"

// Source describes where to fetch one startfile set from, and which
// version constraint it must satisfy.
type Source struct {
	Name             string
	VersionConstaint string // e.g. ">= 2.34"
	BaseURL          string // directory URL; files are joined as BaseURL+"/"+name
	Files            []string
}

type metadata struct {
	Version string `json:"version"`
}

// Manager fetches and caches startfiles under a storage directory, one
// subdirectory per Source.Name.
type Manager struct {
	logger  *slog.Logger
	storage string
}

// NewManager creates a Manager that caches fetched startfiles under
// storageDir.
func NewManager(logger *slog.Logger, storageDir string) *Manager {
	return &Manager{logger: logger, storage: storageDir}
}

// Ensure makes sure src's startfiles are present and satisfy its version
// constraint, fetching them if not, and returns the directory they live in.
func (m *Manager) Ensure(src Source, availableVersion string) (string, error) {
	dir := filepath.Join(m.storage, src.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("crtfetch: creating cache dir %s: %w", dir, err)
	}

	constraint, err := semver.NewConstraint(src.VersionConstaint)
	if err != nil {
		return "", fmt.Errorf("crtfetch: invalid version constraint %q: %w", src.VersionConstaint, err)
	}
	version, err := semver.NewVersion(availableVersion)
	if err != nil {
		return "", fmt.Errorf("crtfetch: invalid version %q: %w", availableVersion, err)
	}
	if !constraint.Check(version) {
		return "", fmt.Errorf("crtfetch: %s version %s does not satisfy constraint %q", src.Name, availableVersion, src.VersionConstaint)
	}

	metaPath := filepath.Join(dir, metadataFilename)
	if up, err := m.upToDate(metaPath, availableVersion); err != nil {
		return "", err
	} else if up {
		m.logger.Debug("startfiles already cached and up to date", "source", src.Name, "version", availableVersion)
		return dir, nil
	}

	m.logger.Info("fetching startfiles", "source", src.Name, "version", availableVersion)

	reqs := make([]*grab.Request, 0, len(src.Files))
	for _, f := range src.Files {
		req, err := grab.NewRequest(dir, src.BaseURL+"/"+f)
		if err != nil {
			return "", fmt.Errorf("crtfetch: building request for %s: %w", f, err)
		}
		reqs = append(reqs, req)
	}

	client := grab.NewClient()
	responses := client.DoBatch(-1, reqs...)
	for resp := range responses {
		if err := resp.Err(); err != nil {
			return "", fmt.Errorf("crtfetch: downloading %s: %w", resp.Request.URL(), err)
		}
		m.logger.Debug("downloaded startfile", "file", resp.Filename, "bytes", resp.BytesComplete())
	}

	if err := m.writeMetadata(metaPath, availableVersion); err != nil {
		return "", err
	}

	return dir, nil
}

func (m *Manager) upToDate(metaPath, wantVersion string) (bool, error) {
	f, err := os.Open(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("crtfetch: opening metadata %s: %w", metaPath, err)
	}
	defer f.Close()

	var meta metadata
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		// Corrupt metadata is treated the same as missing: refetch.
		return false, nil
	}

	return meta.Version == wantVersion, nil
}

func (m *Manager) writeMetadata(metaPath, version string) error {
	f, err := os.Create(metaPath)
	if err != nil {
		return fmt.Errorf("crtfetch: writing metadata %s: %w", metaPath, err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(metadata{Version: version}); err != nil {
		return fmt.Errorf("crtfetch: encoding metadata: %w", err)
	}
	return nil
}
