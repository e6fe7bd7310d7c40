package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry holds compiled CUE schemas used to validate loaded values.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

var (
	defaultSchemas     *SchemaRegistry
	defaultSchemasOnce sync.Once
)

// DefaultSchemas returns the process-wide registry with the built-in schemas.
func DefaultSchemas() *SchemaRegistry {
	defaultSchemasOnce.Do(func() {
		defaultSchemas = NewSchemaRegistry()
	})
	return defaultSchemas
}

// NewSchemaRegistry creates a registry with the built-in schemas registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("settings", builtinSettingsSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles and registers a CUE schema under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// Validate unifies data with the named schema and requires a concrete result.
func (sr *SchemaRegistry) Validate(schemaName string, data interface{}) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[schemaName]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %s: %s", schemaName, errors.Details(err, nil))
	}
	return nil
}

// ValidateSettings validates s against the settings schema.
func (sr *SchemaRegistry) ValidateSettings(s *Settings) error {
	return sr.Validate("settings", s)
}

const builtinSettingsSchema = `
mirror:         =~"^(https?|file|sftp)://[^ ]+$"
cache_dir:      =~"^/"
user_cache_dir: =~"^/"
db_path:        string & !=""
log_level:      "trace" | "debug" | "info" | "warn" | "error" | "fatal"
log_format:     "console" | "json"
trace_exporter: "none" | "stdout" | "otlp"
chroot_binary:  =~"^/"
hook_timeout:   int & >=0
policy_dir:     string
nproc:          int & >0
`
