package linkerr

import "errors"

// Configuration-time sentinels.
var (
	ErrMutuallyExclusiveModes = errors.New("output modes are mutually exclusive")
	ErrMissingRequiredValue   = errors.New("missing required configuration value")
	ErrSysrootPathUnsupported = errors.New("sysroot-relative library paths are unsupported")
	ErrRelroRequiresPIE       = errors.New("-z relro requires a PIE or shared output mode")
	ErrNowRequiresPIE         = errors.New("-z now requires a PIE or shared output mode")
	ErrSonameRequiresShared   = errors.New("-soname requires -shared")
	ErrMissingInput           = errors.New("no input files given")
)

// Input / archive sentinels.
var (
	ErrUnrecognizedFileFormat  = errors.New("unrecognized object file format")
	ErrUnsupportedArchiveFormat = errors.New("unsupported archive format")
	ErrArchiveMemberParseFailed = errors.New("archive member failed to parse")
	ErrTruncatedArchive        = errors.New("truncated archive")
)

// Semantic load-time sentinels.
var (
	ErrMismatchedEnv           = errors.New("mismatched link environment")
	ErrMismatchedSectionPerms  = errors.New("mismatched section permissions")
	ErrMismatchedSectionTypes  = errors.New("mismatched section content types")
	ErrMismatchedDeduplication = errors.New("mismatched section deduplication policy")
	ErrUnsupportedUnknownNote  = errors.New("unsupported unknown note type")
	ErrUnsupportedUnknownSection = errors.New("unsupported unknown section type")
	ErrUnsupportedSymbolKind   = errors.New("unsupported symbol binding, visibility, or type")
)

// Linking sentinels.
var (
	ErrDuplicateGlobalSymbol = errors.New("duplicate global symbol")
	ErrMissingGlobalSymbol   = errors.New("missing global symbol")
	ErrUndefinedSymbol       = errors.New("undefined symbol")
	ErrRedirectChainTooLong  = errors.New("symbol redirect chain exceeds bound")
)

// Section-merge / deduplication sentinels.
var (
	ErrRelocationsUnsupported                = errors.New("relocations are not supported in deduplicated sections")
	ErrUnevenChunkSize                        = errors.New("section size is not a multiple of the chunk size")
	ErrNonZeroTerminatedString                = errors.New("section data does not end in a zero-terminated string")
	ErrUnsupportedUnalignedReference          = errors.New("unsupported unaligned reference into deduplicated section")
	ErrRecursiveDuplicationFacadesNotAllowed  = errors.New("deduplication facades may not reference other facades")
)

// Relocation sentinels.
var (
	ErrUnsupportedRelocationType                 = errors.New("unsupported relocation type")
	ErrOutOfBoundsAccess                         = errors.New("relocation site is out of bounds for its section")
	ErrRelocatedAddressOutOfBounds               = errors.New("relocated address overflows the target field width")
	ErrRelativeRelocationAgainstAbsoluteSymbol    = errors.New("relative relocation against a purely absolute symbol")
	ErrGotRelativeWithNoGot                      = errors.New("GOT-relative relocation with no GOT present")
)

// Layout sentinels.
var (
	ErrEntryPointNotFound     = errors.New("entry point symbol not found")
	ErrEntryPointNotAnAddress = errors.New("entry point symbol does not resolve to an address")
	ErrEntrypointIsZero       = errors.New("entry point address is zero")
	ErrSegmentsOverlap        = errors.New("allocated sections overlap in memory")
)

// Output sentinels.
var (
	ErrInconsistentStringTableReference = errors.New("inconsistent string table reference")
	ErrMissingSectionNameTable           = errors.New("missing section name table")
	ErrUnexpectedByteCountWritten        = errors.New("wrote an unexpected number of bytes")
)
