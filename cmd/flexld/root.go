package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/flexld/flexld/internal/config"
	"github.com/flexld/flexld/internal/linkerr"
	"github.com/flexld/flexld/internal/pipeline"
)

// cliFlags mirrors the subset of config.Config the command line can set
// directly, before Validate sees the merged result. Kept separate from
// config.Config itself so cobra's StringVar/BoolVar targets don't have to
// be struct fields the config file's viper.Unmarshal also writes to.
type cliFlags struct {
	configPath string

	output        string
	entry         string
	dynamicLinker string
	libraryPaths  []string

	noPIE  bool
	pie    bool
	shared bool
	soName string

	zFlags []string

	gcSections bool
	buildID    string

	compressDebugSections bool

	autoFetchStartfiles bool
	startfilesCacheDir  string
	startfilesMirror    string

	debugPrint []string
	noColor    bool
}

func newRootCommand(logger *slog.Logger) *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:           "flexld [flags] input...",
		Short:         "Static linker for the ELF object format (x86/x86-64, System V ABI)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags, args)
			if err != nil {
				return err
			}
			return runLink(cfg, logger, flags.noColor)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "path to a config file (viper-supported format)")
	f.StringVarP(&flags.output, "output", "o", "a.out", "output path")
	f.StringVarP(&flags.entry, "entry", "e", "_start", "entry symbol")
	f.StringVar(&flags.dynamicLinker, "dynamic-linker", "", "PT_INTERP path for PIE/shared output")
	f.StringArrayVarP(&flags.libraryPaths, "library-path", "L", nil, "library search path (repeatable)")

	f.BoolVar(&flags.noPIE, "no-pie", true, "produce a non-PIE executable (default)")
	f.BoolVar(&flags.pie, "pie", false, "produce a position-independent executable")
	f.BoolVar(&flags.shared, "shared", false, "produce a shared object")
	// GNU ld's "-h <name>" shorthand for -soname is not bound here: its
	// conventional shorthand letter collides with cobra's own --help
	// shorthand, so only the long form is accepted.
	f.StringVar(&flags.soName, "soname", "", "shared-object SONAME (requires -shared)")

	f.StringArrayVarP(&flags.zFlags, "z", "z", nil, "linker hardening option: execstack|noexecstack|relro|norelro|now|lazy (repeatable)")

	f.BoolVar(&flags.gcSections, "gc-sections", false, "remove unreachable sections")
	f.StringVar(&flags.buildID, "build-id", "", "emit .note.gnu.build-id: none|sha1|uuid")
	f.BoolVar(&flags.compressDebugSections, "compress-debug-sections", false, "compress .debug* sections with zlib")

	f.BoolVar(&flags.autoFetchStartfiles, "auto-fetch-startfiles", false, "fetch missing CRT startfiles from a mirror")
	f.StringVar(&flags.startfilesCacheDir, "startfiles-cache-dir", "", "cache directory for fetched startfiles")
	f.StringVar(&flags.startfilesMirror, "startfiles-mirror", "", "mirror URL for fetched startfiles")

	f.StringArrayVar(&flags.debugPrint, "debug-print", nil, "trace a pipeline stage: sections|symbols|gc (repeatable, key[=filter])")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colorized diagnostic output")

	return cmd
}

// resolveConfig loads any config file, then applies every flag the user set
// on top, the same override order internal/config.Load documents, and
// finally validates the merged result.
func resolveConfig(flags *cliFlags, args []string) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	cfg.Inputs = args
	cfg.Output = flags.output
	cfg.Entry = flags.entry
	cfg.DynamicLinker = flags.dynamicLinker
	if len(flags.libraryPaths) > 0 {
		cfg.LibraryPaths = flags.libraryPaths
	}

	if err := applyMode(cfg, flags); err != nil {
		return nil, err
	}
	cfg.SoName = flags.soName

	applyZFlags(cfg, flags.zFlags)

	cfg.GCSections = flags.gcSections
	if style, err := parseBuildID(flags.buildID); err != nil {
		return nil, err
	} else if flags.buildID != "" {
		cfg.BuildID = style
	}
	cfg.CompressDebugSections = flags.compressDebugSections

	cfg.AutoFetchStartfiles = flags.autoFetchStartfiles
	if flags.startfilesCacheDir != "" {
		cfg.StartfilesCacheDir = flags.startfilesCacheDir
	}
	cfg.StartfilesMirror = flags.startfilesMirror

	cfg.DebugPrint = stripDebugFilters(flags.debugPrint)
	cfg.NoColor = flags.noColor

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyMode(cfg *config.Config, flags *cliFlags) error {
	count := 0
	if flags.pie {
		count++
	}
	if flags.shared {
		count++
	}
	if count > 1 {
		return linkerr.Wrap(linkerr.KindConfiguration, linkerr.ErrMutuallyExclusiveModes, "-pie/-shared")
	}

	switch {
	case flags.shared:
		cfg.Mode = config.ModeShared
	case flags.pie:
		cfg.Mode = config.ModePIE
	default:
		cfg.Mode = config.ModeNoPIE
	}
	return nil
}

func applyZFlags(cfg *config.Config, zFlags []string) {
	for _, z := range zFlags {
		switch z {
		case "execstack":
			cfg.StackExec = config.StackExec_
		case "noexecstack":
			cfg.StackExec = config.StackNoExec
		case "relro":
			cfg.Relro = config.RelroPartial
		case "norelro":
			cfg.Relro = config.RelroNone
		case "now":
			cfg.Relro = config.RelroNow
		case "lazy":
			// lazy binding is this linker's default (no BIND_NOW emitted);
			// accepted for GNU ld compatibility but otherwise a no-op.
		}
	}
}

func parseBuildID(v string) (config.BuildIDStyle, error) {
	switch v {
	case "", "none":
		return config.BuildIDNone, nil
	case "sha1":
		return config.BuildIDSHA1, nil
	case "uuid":
		return config.BuildIDUUID, nil
	default:
		return 0, linkerr.New(linkerr.KindConfiguration, "--build-id: unrecognized style %q", v)
	}
}

// stripDebugFilters drops any "=filter" suffix from a --debug-print value,
// since internal/pipeline.Result.Emit only matches against the bare stage
// key; the filter part of a value is not applied.
func stripDebugFilters(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		if idx := strings.IndexByte(k, '='); idx >= 0 {
			k = k[:idx]
		}
		out[i] = k
	}
	return out
}

// runLink drives one full link: internal/pipeline.Run, diagnostic
// rendering, and writing the output file. On any error it deletes a
// partially-written output file before returning, per the spec's I/O
// design (no partial artifact survives a failed link).
func runLink(cfg *config.Config, logger *slog.Logger, noColor bool) error {
	fs := afero.NewOsFs()

	result, err := pipeline.Run(cfg, fs)
	if err != nil {
		renderError(err, noColor)
		return err
	}

	result.Emit(os.Stderr, cfg)

	if err := writeOutput(fs, cfg.Output, result); err != nil {
		renderError(err, noColor)
		return err
	}

	logger.Info("link complete", "output", cfg.Output, "entry", cfg.Entry)
	return nil
}

// writeOutput serializes result.Writer to path. If serialization fails
// partway through, the partially-written file is removed rather than left
// behind as a misleadingly-named broken binary.
func writeOutput(fs afero.Fs, path string, result *pipeline.Result) error {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return linkerr.Wrap(linkerr.KindOutput, err, "opening output %q", path)
	}

	_, writeErr := result.Writer.WriteTo(f)
	closeErr := f.Close()

	if writeErr != nil || closeErr != nil {
		_ = fs.Remove(path)
		if writeErr != nil {
			return linkerr.Wrap(linkerr.KindOutput, writeErr, "writing output %q", path)
		}
		return linkerr.Wrap(linkerr.KindOutput, closeErr, "closing output %q", path)
	}
	return nil
}

// renderError prints a colorized, Kind-tagged rendering of err to stderr,
// the "diagnostic widget" the spec's error-handling design calls for.
func renderError(err error, noColor bool) {
	label := "error"
	if kind, ok := linkerr.KindOf(err); ok {
		label = fmt.Sprintf("error (%s)", kind)
	}
	if noColor {
		fmt.Fprintf(os.Stderr, "flexld: %s: %s\n", label, err)
		return
	}
	red := color.New(color.FgRed, color.Bold)
	fmt.Fprintf(os.Stderr, "%s %s\n", red.Sprint("flexld: "+label+":"), err)
}
