package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/mod/semver"

	"github.com/proptest-go/proptest/database"
	"github.com/proptest-go/proptest/internal/perr"
)

// Phase names one of the four run stages a caller may enable or disable.
type Phase string

const (
	PhaseExplicit Phase = "explicit"
	PhaseReuse    Phase = "reuse"
	PhaseGenerate Phase = "generate"
	PhaseShrink   Phase = "shrink"
)

// AllPhases is the default phase set: every stage runs.
func AllPhases() map[Phase]bool {
	return map[Phase]bool{PhaseExplicit: true, PhaseReuse: true, PhaseGenerate: true, PhaseShrink: true}
}

// Config carries every knob the engine honors. The zero value is not
// usable; start from DefaultConfig or LoadConfig.
type Config struct {
	MaxExamples  int
	MaxShrinks   int
	BufferSize   int
	DatabasePath *string // nil disables persistence
	Phases       map[Phase]bool
	Derandomize  bool

	// DeadlineMS bounds each single predicate invocation's wall clock. An
	// invocation that passes but overshoots the budget is reclassified as
	// interesting under engine.DeadlineTag, so the shrinker can hunt for a
	// smaller input that is also slow.
	DeadlineMS *int

	// RunDeadline is the monotonic whole-run deadline. Once past it the
	// in-flight predicate invocation finishes, then the engine
	// halts with whatever best counterexample it holds; shrink is skipped
	// entirely if the deadline has already passed at shrink entry. Zero
	// means no run deadline.
	RunDeadline time.Time

	// MaxIterations is the absolute cap on predicate invocations, including
	// INVALID ones. Zero (the DefaultConfig value) means 10 * MaxExamples.
	MaxIterations int

	// Logger receives DatabaseIO degradation warnings (a failed fetch, save
	// or delete), which are logged but never propagated as a test outcome.
	// Never used for INTERESTING/shrink progress.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// SchemaVersion is checked against SupportedConfigSchemaVersion when a
	// Config is loaded via LoadConfig; it has no effect on a Config built
	// directly in Go code.
	SchemaVersion string
}

// SupportedConfigSchemaVersion is the schema version LoadConfig accepts.
const SupportedConfigSchemaVersion = "v1.0.0"

// DefaultConfig returns the stock configuration. Two environment
// variables are honored here and nowhere else: HYPOTHESIS_DATABASE_FILE
// overrides the database path, and HYPOTHESIS_VERBOSITY_LEVEL gates the
// diagnostic logger's level; neither changes engine behavior.
func DefaultConfig() Config {
	root := database.DefaultRoot
	if env := os.Getenv("HYPOTHESIS_DATABASE_FILE"); env != "" {
		root = env
	}
	return Config{
		MaxExamples:   100,
		MaxShrinks:    500,
		BufferSize:    8192,
		DatabasePath:  &root,
		Phases:        AllPhases(),
		Derandomize:   false,
		DeadlineMS:    nil,
		MaxIterations: 0,
		Logger:        defaultLogger(),
		SchemaVersion: SupportedConfigSchemaVersion,
	}
}

// defaultLogger maps HYPOTHESIS_VERBOSITY_LEVEL onto a slog level. Unset or
// unrecognized values fall back to slog.Default() unchanged.
func defaultLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(os.Getenv("HYPOTHESIS_VERBOSITY_LEVEL")) {
	case "quiet":
		level = slog.LevelError
	case "verbose":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// effectiveMaxIterations returns MaxIterations if set, else the
// documented default of 10*MaxExamples.
func (c Config) effectiveMaxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return 10 * c.MaxExamples
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// configSchema is the embedded JSON Schema a file-based config is
// validated against before use. Compiled once, lazily.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "schemaVersion": {"type": "string"},
    "maxExamples": {"type": "integer", "minimum": 1},
    "maxIterations": {"type": "integer", "minimum": 1},
    "maxShrinks": {"type": "integer", "minimum": 0},
    "bufferSize": {"type": "integer", "minimum": 1},
    "databasePath": {"type": ["string", "null"]},
    "phases": {
      "type": "array",
      "items": {"enum": ["explicit", "reuse", "generate", "shrink"]}
    },
    "derandomize": {"type": "boolean"},
    "deadlineMs": {"type": ["integer", "null"], "minimum": 1}
  },
  "required": ["schemaVersion"],
  "additionalProperties": false
}`

type fileConfig struct {
	SchemaVersion string   `json:"schemaVersion"`
	MaxExamples   int      `json:"maxExamples"`
	MaxIterations int      `json:"maxIterations"`
	MaxShrinks    *int     `json:"maxShrinks"`
	BufferSize    int      `json:"bufferSize"`
	DatabasePath  *string  `json:"databasePath"`
	Phases        []string `json:"phases"`
	Derandomize   bool     `json:"derandomize"`
	DeadlineMS    *int     `json:"deadlineMs"`
}

var compiledConfigSchema *jsonschema.Schema

func compileConfigSchema() (*jsonschema.Schema, error) {
	if compiledConfigSchema != nil {
		return compiledConfigSchema, nil
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	const url = "schema://proptest-config.json"
	if err := compiler.AddResource(url, strings.NewReader(configSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	compiledConfigSchema = schema
	return schema, nil
}

// LoadConfig reads a JSON config file, validates it against configSchema,
// checks SchemaVersion compatibility via golang.org/x/mod/semver, and
// returns the equivalent Config. This is additive sugar over building a
// Config directly; it is never required.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, perr.Wrap(perr.KindDatabaseIO, "read config file", err)
	}

	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return Config{}, perr.Wrap(perr.KindInternal, "config file is not valid JSON", err)
	}

	schema, err := compileConfigSchema()
	if err != nil {
		return Config{}, perr.Wrap(perr.KindInternal, "compile config schema", err)
	}
	if err := schema.Validate(instance); err != nil {
		return Config{}, perr.Wrap(perr.KindInternal, "config file failed schema validation", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return Config{}, perr.Wrap(perr.KindInternal, "decode config file", err)
	}

	if !semver.IsValid(fc.SchemaVersion) || semver.Compare(fc.SchemaVersion, SupportedConfigSchemaVersion) > 0 {
		return Config{}, perr.New(perr.KindInternal,
			fmt.Sprintf("config schemaVersion %q is not supported by this build (supports up to %s)",
				fc.SchemaVersion, SupportedConfigSchemaVersion))
	}

	cfg := DefaultConfig()
	cfg.SchemaVersion = fc.SchemaVersion
	if fc.MaxExamples > 0 {
		cfg.MaxExamples = fc.MaxExamples
	}
	if fc.MaxIterations > 0 {
		cfg.MaxIterations = fc.MaxIterations
	}
	if fc.MaxShrinks != nil {
		// Zero is meaningful here (it disables shrinking), so absence is
		// distinguished from zero via the pointer.
		cfg.MaxShrinks = *fc.MaxShrinks
	}
	if fc.BufferSize > 0 {
		cfg.BufferSize = fc.BufferSize
	}
	if m, ok := instance.(map[string]interface{}); ok {
		// An explicit "databasePath": null disables persistence; an absent
		// key keeps the default root.
		if _, present := m["databasePath"]; present {
			cfg.DatabasePath = fc.DatabasePath
		}
	}
	cfg.Derandomize = fc.Derandomize
	cfg.DeadlineMS = fc.DeadlineMS
	if len(fc.Phases) > 0 {
		phases := make(map[Phase]bool, len(fc.Phases))
		for _, p := range fc.Phases {
			phases[Phase(p)] = true
		}
		cfg.Phases = phases
	}
	return cfg, nil
}
