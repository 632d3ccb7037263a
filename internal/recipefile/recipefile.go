package recipefile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/frederic-klein/mlhpkg/internal/packager"
	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

// DefaultName is the recipe file looked up when no path is given.
const DefaultName = "mathlibhelper.yaml"

const schemaURL = "https://github.com/frederic-klein/mlhpkg/recipe.schema.json"

//go:embed recipe.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// File mirrors the YAML recipe format.
type File struct {
	Name           string              `yaml:"name"`
	Version        string              `yaml:"version"`
	License        string              `yaml:"license,omitempty"`
	Settings       []string            `yaml:"settings,omitempty"`
	Generators     []string            `yaml:"generators,omitempty"`
	Exports        []string            `yaml:"exports,omitempty"`
	Options        map[string][]string `yaml:"options,omitempty"`
	DefaultOptions map[string]string   `yaml:"default_options,omitempty"`
	Requires       []string            `yaml:"requires,omitempty"`
	Libs           []string            `yaml:"libs,omitempty"`
	Layout         []Rule              `yaml:"layout,omitempty"`
}

// Rule mirrors packager.Rule. KeepPath defaults to true when omitted.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Dst      string `yaml:"dst,omitempty"`
	Src      string `yaml:"src,omitempty"`
	KeepPath *bool  `yaml:"keep_path,omitempty"`
}

// Load reads, validates and decodes the recipe at path. Fields the file
// leaves out take their value from recipe.Default().
func Load(path string) (*recipe.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}
	desc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

// Parse decodes a recipe from YAML bytes.
func Parse(data []byte) (*recipe.Descriptor, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing recipe: %w", err)
	}

	desc, err := f.Descriptor()
	if err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// Validate checks YAML recipe bytes against the embedded JSON schema.
func Validate(data []byte) error {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("loading recipe schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	if schemaErr != nil {
		return schemaErr
	}

	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("parsing recipe: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("parsing recipe: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("recipe does not match schema: %w", err)
	}
	return nil
}

// Descriptor converts the file into a descriptor on top of recipe.Default().
func (f *File) Descriptor() (*recipe.Descriptor, error) {
	d := recipe.Default()
	d.Name = f.Name
	d.Version = f.Version

	if f.License != "" {
		d.License = f.License
	}
	if f.Settings != nil {
		d.Settings = f.Settings
	}
	if f.Generators != nil {
		d.Generators = f.Generators
	}
	if f.Exports != nil {
		d.Exports = f.Exports
	}
	if f.Options != nil {
		d.Options = make(map[string][]string, len(f.Options))
		for name, values := range f.Options {
			for _, v := range values {
				d.Options[name] = append(d.Options[name], recipe.NormalizeBool(v))
			}
		}
	}
	if f.DefaultOptions != nil {
		d.DefaultOptions = make(map[string]string, len(f.DefaultOptions))
		for name, v := range f.DefaultOptions {
			d.DefaultOptions[name] = recipe.NormalizeBool(v)
		}
	}
	if f.Requires != nil {
		d.Requires = nil
		for _, s := range f.Requires {
			ref, err := recipe.ParseReference(s)
			if err != nil {
				return nil, err
			}
			d.Requires = append(d.Requires, ref)
		}
	}
	if f.Libs != nil {
		d.Libs = f.Libs
	}
	if f.Layout != nil {
		d.Layout = nil
		for _, r := range f.Layout {
			keep := true
			if r.KeepPath != nil {
				keep = *r.KeepPath
			}
			d.Layout = append(d.Layout, packager.Rule{Pattern: r.Pattern, Dst: r.Dst, Src: r.Src, KeepPath: keep})
		}
	}
	return d, nil
}

// FromDescriptor converts a descriptor into its file form.
func FromDescriptor(d *recipe.Descriptor) *File {
	f := &File{
		Name:           d.Name,
		Version:        d.Version,
		License:        d.License,
		Settings:       d.Settings,
		Generators:     d.Generators,
		Exports:        d.Exports,
		Options:        d.Options,
		DefaultOptions: d.DefaultOptions,
		Libs:           d.Libs,
	}
	for _, ref := range d.Requires {
		f.Requires = append(f.Requires, ref.String())
	}
	for _, r := range d.Layout {
		keep := r.KeepPath
		f.Layout = append(f.Layout, Rule{Pattern: r.Pattern, Dst: r.Dst, Src: r.Src, KeepPath: &keep})
	}
	return f
}

// Save writes d to path as YAML.
func Save(path string, d *recipe.Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating recipe directory: %w", err)
	}

	data, err := yaml.Marshal(FromDescriptor(d))
	if err != nil {
		return fmt.Errorf("marshaling recipe: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing recipe: %w", err)
	}
	return nil
}
