// Package manifest loads and validates a native-module manifest: the
// declaration of which native modules and functions a wibble host offers
// to guest bytecode, and at which module/function indices SYS expects to
// find them. The manifest is plain TOML; a CUE schema catches malformed
// arities and naming before a bad manifest ever reaches vm.RegisterNative.
package manifest

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/BurntSushi/toml"
)

// Manifest is the parsed contents of a native-module manifest file. The
// json tags name the fields for the CUE encoding in validate.
type Manifest struct {
	Module []ModuleDecl `toml:"module" json:"module"`
}

// ModuleDecl declares one native module and its function table, in the
// order SYS's module/function indices assume.
type ModuleDecl struct {
	Name     string         `toml:"name" json:"name"`
	Function []FunctionDecl `toml:"function" json:"function"`
}

// FunctionDecl declares one native function's calling convention.
type FunctionDecl struct {
	Name     string `toml:"name" json:"name"`
	ArityIn  int    `toml:"arity_in" json:"arity_in"`
	ArityOut int    `toml:"arity_out" json:"arity_out"`
}

// schema constrains the shape TOML unmarshaling alone can't: non-empty
// names and non-negative arities.
const schema = `
module: [...{
	name: string & =~"^[a-z][a-z0-9_]*$"
	function: [...{
		name:      string & =~"^[a-z][a-z0-9_]*$"
		arity_in:  int & >=0 & <=64
		arity_out: int & >=0 & <=64
	}]
}]
`

// Load reads and validates a manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and unmarshals raw manifest TOML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse error: %w", err)
	}

	if err := validate(m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validate(m Manifest) error {
	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("manifest: internal schema error: %w", err)
	}

	dataVal := ctx.Encode(m)
	unified := schemaVal.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("manifest: schema validation failed: %w", err)
	}
	return nil
}

// FunctionIndex looks up the (moduleIndex, functionIndex) pair for the
// named function of the named module, as a convenience for wiring handlers
// up after RegisterNative.
func (m *Manifest) FunctionIndex(moduleName, functionName string) (moduleIndex, functionIndex int, ok bool) {
	for mi, mod := range m.Module {
		if mod.Name != moduleName {
			continue
		}
		for fi, fn := range mod.Function {
			if fn.Name == functionName {
				return mi, fi, true
			}
		}
		return mi, 0, false
	}
	return 0, 0, false
}
