// Package config holds the small set of fixed constants shared across
// the normalizer, denormalizer, and storage engine. These are treated as
// data the rest of the codebase reads, never hardcoded at each call site.
package config

// PREFIX is the canonical-identifier prefix the allocator hands out:
// names take the form "_" + PREFIX + "_v_" + N (e.g. "_cp_v_0").
const PREFIX = "cp"

// PoolImportModule is the module path the normalizer recognizes as a
// pool import: `from <PoolImportModule> import object_<hash> as alias`.
// "import" itself is a reserved word of the source grammar (it cannot
// appear as a dotted-name segment), so this picks a module path the
// grammar can actually parse rather than spec.md §9's own illustrative
// "pool.import" example literally.
const PoolImportModule = "pool.objects"

// PoolObjectPrefix is the required name prefix for a pool-imported
// object inside PoolImportModule, e.g. "object_<hash>".
const PoolObjectPrefix = "object_"

// DefaultPoolDirName is the directory created under the user's home
// directory when POOL_ROOT is not set.
const DefaultPoolDirName = ".codepool"

// DocstringSentinel is the fixed, non-empty placeholder docstring the
// normalizer substitutes for the author's real docstring in
// normalized_code (spec.md §3 invariant: "an invariant non-empty
// sentinel"). normalized_code_no_docstring omits any docstring
// statement at all, which is what the function hash is computed over.
const DocstringSentinel = "canonical function body"

// HashAlgorithm identifies the function/mapping hash algorithm recorded
// in stored objects. It is modeled as a string type with a single
// defined constant, leaving room for the extension point spec.md's data
// model names without inventing one prematurely.
type HashAlgorithm string

// SHA256 is the only hash algorithm this implementation produces or
// accepts.
const SHA256 HashAlgorithm = "sha256"

// SchemaVersionV1 is the current on-disk object schema version.
const SchemaVersionV1 = "v1"

// SchemaVersionV0 is the legacy schema version pkg/migrate upgrades from.
const SchemaVersionV0 = "v0"

// BuiltinNames are identifiers the allocator never renames because they
// refer to language built-ins rather than user-introduced bindings.
var BuiltinNames = map[string]bool{
	"True": true, "False": true, "None": true,
	"print": true, "len": true, "range": true, "int": true, "str": true,
	"float": true, "bool": true, "list": true, "dict": true, "set": true,
	"tuple": true, "enumerate": true, "zip": true, "map": true, "filter": true,
	"sorted": true, "reversed": true, "sum": true, "min": true, "max": true,
	"abs": true, "isinstance": true, "super": true, "self": true, "cls": true,
	"Exception": true, "ValueError": true, "TypeError": true, "KeyError": true,
	"IndexError": true, "StopIteration": true, "RuntimeError": true,
}
