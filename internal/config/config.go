// Package config defines the linker's configuration, populated from a
// config file (via spf13/viper, defaulted via creasty/defaults) and
// overridden by spf13/cobra flags, following the same override order as
// the teacher's loadConfig.
package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"github.com/flexld/flexld/internal/linkerr"
)

// OutputMode is the link's output kind: a non-PIE executable, a PIE
// executable, or a shared object. Exactly one must be selected.
type OutputMode int

const (
	ModeNoPIE OutputMode = iota
	ModePIE
	ModeShared
)

// BuildIDStyle selects how .note.gnu.build-id is derived, or disables it.
type BuildIDStyle int

const (
	BuildIDNone BuildIDStyle = iota
	BuildIDSHA1
	BuildIDUUID
)

// StackExec controls the executable bit on PT_GNU_STACK.
type StackExec int

const (
	StackNoExec StackExec = iota
	StackExec_
)

// RelroMode controls GOT/GOT.PLT hardening.
type RelroMode int

const (
	RelroNone RelroMode = iota
	RelroPartial
	RelroNow
)

// Config is the fully resolved set of link options, after config-file
// defaults and flag overrides have both been applied.
type Config struct {
	Inputs []string

	Output        string `mapstructure:"output" default:"a.out"`
	Entry         string `mapstructure:"entry" default:"_start"`
	DynamicLinker string `mapstructure:"dynamic_linker"`
	LibraryPaths  []string

	Mode   OutputMode
	SoName string

	GCSections             bool   `mapstructure:"gc_sections"`
	BuildID                BuildIDStyle
	CompressDebugSections  bool   `mapstructure:"compress_debug_sections"`
	StackExec              StackExec
	Relro                  RelroMode

	// BaseAddress is where internal/passes/layout starts placing the first
	// loadable segment. 4194304 (0x400000) is the conventional non-PIE
	// executable base; PIE and shared-object links leave it at 0 and rely
	// on the loader's own placement (ASLR), since this linker never embeds
	// a load-time relocation section for its own static addresses.
	BaseAddress uint64 `mapstructure:"base_address" default:"4194304"`
	// PageAlign is the page size segment starts are rounded up to. 4096
	// (0x1000) is the universal x86/x86-64 page size.
	PageAlign uint64 `mapstructure:"page_align" default:"4096"`

	AutoFetchStartfiles  bool   `mapstructure:"auto_fetch_startfiles"`
	StartfilesCacheDir   string `mapstructure:"startfiles_cache_dir" default:"/var/cache/flexld/startfiles"`
	StartfilesMirror     string `mapstructure:"startfiles_mirror"`
	MinStartFilesVersion string `mapstructure:"min_startfiles_version" default:"2.34"`

	DebugPrint []string

	NoColor bool
}

// Load reads defaults from the optional config file at path (if non-empty)
// via viper, applies creasty/defaults struct-tag defaults for anything the
// file left unset, and returns the result; callers then apply cobra flag
// overrides on top, the same two-stage order the teacher's loadConfig used
// for its own config struct.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: setting defaults: %w", err)
	}

	if path == "" {
		return cfg, nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, linkerr.Wrap(linkerr.KindConfiguration, err, "reading config file %q", path)
	}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, linkerr.Wrap(linkerr.KindConfiguration, err, "parsing config file %q", path)
	}

	return cfg, nil
}

// Validate checks the cross-flag invariants the spec calls out as
// configuration errors, after all flags and file defaults have been
// merged.
func (c *Config) Validate() error {
	// -pie/-shared/-no-pie mutual exclusivity is enforced by the flag
	// parser before a single Mode value is ever constructed; by the time a
	// Config reaches Validate, Mode is already one exclusive choice.

	if len(c.Inputs) == 0 {
		return linkerr.New(linkerr.KindConfiguration, "no input files given")
	}

	if c.SoName != "" && c.Mode != ModeShared {
		return linkerr.Wrap(linkerr.KindConfiguration, linkerr.ErrSonameRequiresShared, "-soname %q", c.SoName)
	}

	if c.Relro == RelroNow && c.Mode != ModePIE && c.Mode != ModeShared {
		return linkerr.Wrap(linkerr.KindConfiguration, linkerr.ErrNowRequiresPIE, "-z now")
	}
	if c.Relro != RelroNone && c.Mode != ModePIE && c.Mode != ModeShared {
		return linkerr.Wrap(linkerr.KindConfiguration, linkerr.ErrRelroRequiresPIE, "-z relro")
	}

	for _, p := range c.LibraryPaths {
		if isSysrootRelative(p) {
			return linkerr.Wrap(linkerr.KindConfiguration, linkerr.ErrSysrootPathUnsupported, "-L %q", p)
		}
	}

	return nil
}

func isSysrootRelative(p string) bool {
	if len(p) > 0 && p[0] == '=' {
		return true
	}
	return len(p) >= 8 && p[:8] == "$SYSROOT"
}
