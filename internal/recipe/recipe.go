package recipe

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/frederic-klein/mlhpkg/internal/packager"
)

const (
	// OptionShared toggles between a shared and a static library build.
	OptionShared = "shared"

	// DefineSharedLibs is the CMake define carrying the shared option.
	DefineSharedLibs = "BUILD_SHARED_LIBS"

	// DefineBuildType is the CMake define carrying the build_type setting.
	DefineBuildType = "CMAKE_BUILD_TYPE"

	// GeneratorCMake emits buildinfo.cmake for the dependencies.
	GeneratorCMake = "cmake"
)

// Descriptor declares how a native library is built and packaged.
type Descriptor struct {
	Name           string
	Version        string
	License        string
	Settings       []string            // e.g. os, arch, compiler, build_type
	Generators     []string            // e.g. cmake
	Exports        []string            // globs exported alongside the recipe
	Options        map[string][]string // option -> allowed values
	DefaultOptions map[string]string   // option -> value
	Requires       []Reference
	Libs           []string // libraries consumers link against
	Layout         []packager.Rule
}

// Default returns the MathLibHelper descriptor.
func Default() *Descriptor {
	return &Descriptor{
		Name:       "MathLibHelper",
		Version:    "0.1.0",
		License:    "MIT",
		Settings:   []string{SettingOS, SettingArch, SettingCompiler, SettingBuildType},
		Generators: []string{GeneratorCMake},
		Exports:    []string{"*"},
		Options: map[string][]string{
			OptionShared: {"True", "False"},
		},
		DefaultOptions: map[string]string{
			OptionShared: "False",
		},
		Requires: []Reference{
			{Name: "doctest", Version: "2.3.4", User: "bincrafters", Channel: "stable"},
		},
		Libs:   []string{"MathLibHelper"},
		Layout: packager.DefaultRules(),
	}
}

// Validate checks identity fields, references, option domains and layout rules.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor: name is required")
	}
	if d.Version == "" {
		return fmt.Errorf("descriptor %s: version is required", d.Name)
	}
	for _, ref := range d.Requires {
		if err := ref.Validate(); err != nil {
			return &Error{Op: "validate", Package: d.Name, Err: err}
		}
	}
	for name, allowed := range d.Options {
		if name != OptionShared {
			return &Error{Op: "validate", Package: d.Name, Err: fmt.Errorf("%w: unsupported option %q", ErrInvalidOption, name)}
		}
		if def, ok := d.DefaultOptions[name]; ok && !contains(allowed, NormalizeBool(def)) {
			return &Error{Op: "validate", Package: d.Name, Err: fmt.Errorf("%w: default %s=%s not in %v", ErrInvalidOption, name, def, allowed)}
		}
	}
	for _, rule := range d.Layout {
		if err := rule.Validate(); err != nil {
			return &Error{Op: "validate", Package: d.Name, Err: err}
		}
	}
	return nil
}

// Ref returns the name/version identity of the descriptor.
func (d *Descriptor) Ref() string {
	return d.Name + "/" + d.Version
}

// Options holds the resolved option values for one invocation.
type Options struct {
	Shared bool
}

// ResolveOptions starts from the descriptor defaults and applies overrides
// given as option -> value.
func (d *Descriptor) ResolveOptions(overrides map[string]string) (Options, error) {
	values := make(map[string]string, len(d.DefaultOptions))
	for k, v := range d.DefaultOptions {
		values[k] = v
	}
	for k, v := range overrides {
		if _, ok := d.Options[k]; !ok {
			return Options{}, fmt.Errorf("%w: %s has no option %q", ErrInvalidOption, d.Name, k)
		}
		values[k] = v
	}

	var opts Options
	if raw, ok := values[OptionShared]; ok {
		v := NormalizeBool(raw)
		if !contains(d.Options[OptionShared], v) {
			return Options{}, fmt.Errorf("%w: %s=%s, allowed %v", ErrInvalidOption, OptionShared, raw, d.Options[OptionShared])
		}
		opts.Shared = v == "True"
	}
	return opts, nil
}

// Values returns the options in their textual form.
func (o Options) Values() map[string]string {
	return map[string]string{OptionShared: FormatBool(o.Shared)}
}

// Definitions translates options and settings into build-system defines.
func (d *Descriptor) Definitions(opts Options, settings Settings) map[string]string {
	defs := map[string]string{
		DefineSharedLibs: FormatBool(opts.Shared),
	}
	if bt := d.BuildType(settings); bt != "" {
		defs[DefineBuildType] = bt
	}
	return defs
}

// BuildType returns the build_type setting, or "" when the recipe does not
// declare that axis.
func (d *Descriptor) BuildType(settings Settings) string {
	if !contains(d.Settings, SettingBuildType) {
		return ""
	}
	return settings.BuildType
}

// DeclaredSettings returns the non-empty values of the setting axes the
// recipe declares. Undeclared axes do not affect the package.
func (d *Descriptor) DeclaredSettings(settings Settings) map[string]string {
	all := settings.Values()
	out := make(map[string]string, len(d.Settings))
	for _, axis := range d.Settings {
		if v, ok := all[axis]; ok {
			out[axis] = v
		}
	}
	return out
}

// HasGenerator reports whether the recipe asks for generator name.
func (d *Descriptor) HasGenerator(name string) bool {
	return contains(d.Generators, name)
}

// CppInfo tells consumers how to compile and link against a package.
type CppInfo struct {
	Libs        []string
	IncludeDirs []string
	LibDirs     []string
	BinDirs     []string
}

// PackageInfo returns the linkage metadata for consumers. It has no side
// effects and returns fresh slices on every call.
func (d *Descriptor) PackageInfo() CppInfo {
	return CppInfo{
		Libs:        append([]string(nil), d.Libs...),
		IncludeDirs: []string{"include"},
		LibDirs:     []string{"lib"},
		BinDirs:     []string{"bin"},
	}
}

// FormatBool renders a boolean the way CMake and recipe files spell it.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// NormalizeBool maps the usual spellings of a boolean to "True" or "False"
// and returns anything else unchanged.
func NormalizeBool(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return "True"
	case "false", "0", "no", "off":
		return "False"
	default:
		return s
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Setting names.
const (
	SettingOS        = "os"
	SettingArch      = "arch"
	SettingCompiler  = "compiler"
	SettingBuildType = "build_type"
)

// Settings is the build matrix for one invocation. Values are opaque tags
// passed through to the build system and recorded in the package manifest.
type Settings struct {
	OS        string
	Arch      string
	Compiler  string
	BuildType string
}

// DetectSettings derives settings for the host.
func DetectSettings() Settings {
	s := Settings{BuildType: "Release"}

	switch runtime.GOOS {
	case "linux":
		s.OS, s.Compiler = "Linux", "gcc"
	case "darwin":
		s.OS, s.Compiler = "Macos", "apple-clang"
	case "windows":
		s.OS, s.Compiler = "Windows", "Visual Studio"
	case "freebsd":
		s.OS, s.Compiler = "FreeBSD", "clang"
	default:
		s.OS, s.Compiler = runtime.GOOS, "gcc"
	}

	switch runtime.GOARCH {
	case "amd64":
		s.Arch = "x86_64"
	case "386":
		s.Arch = "x86"
	case "arm64":
		s.Arch = "armv8"
	case "arm":
		s.Arch = "armv7"
	default:
		s.Arch = runtime.GOARCH
	}
	return s
}

// Apply overrides settings given as name -> value.
func (s Settings) Apply(overrides map[string]string) (Settings, error) {
	for k, v := range overrides {
		switch k {
		case SettingOS:
			s.OS = v
		case SettingArch:
			s.Arch = v
		case SettingCompiler:
			s.Compiler = v
		case SettingBuildType:
			s.BuildType = v
		default:
			return s, fmt.Errorf("%w: %q", ErrInvalidSetting, k)
		}
	}
	return s, nil
}

// Values returns the non-empty settings by name.
func (s Settings) Values() map[string]string {
	values := make(map[string]string)
	for k, v := range map[string]string{
		SettingOS:        s.OS,
		SettingArch:      s.Arch,
		SettingCompiler:  s.Compiler,
		SettingBuildType: s.BuildType,
	} {
		if v != "" {
			values[k] = v
		}
	}
	return values
}

// ParseAssignments splits "key=value" pairs as given on the command line.
func ParseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
