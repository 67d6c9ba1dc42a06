package schema

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type fileDef struct {
	Schemas []schemaDef `yaml:"schemas"`
}

type schemaDef struct {
	Name         string  `yaml:"name"`
	Instructions string  `yaml:"instructions"`
	Inputs       []Field `yaml:"inputs"`
	Outputs      []Field `yaml:"outputs"`
}

// LoadOverrides reads a YAML schema file and returns a copy of base with the
// defined schemas added or replaced. Every definition is validated.
func LoadOverrides(path string, base Set) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return ParseOverrides(data, base)
}

// ParseOverrides is LoadOverrides on in-memory YAML.
func ParseOverrides(data []byte, base Set) (Set, error) {
	var def fileDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, eris.Wrap(err, "schema: parse yaml")
	}

	out := make(Set, len(base)+len(def.Schemas))
	for name, sc := range base {
		out[name] = sc
	}
	for _, d := range def.Schemas {
		sc, err := New(d.Name, d.Instructions, d.Inputs, d.Outputs)
		if err != nil {
			return nil, err
		}
		out[sc.Name()] = sc
	}
	return out, nil
}
