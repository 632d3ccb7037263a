package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

// FileName is the manifest written at the root of every package directory.
const FileName = "mlhinfo.txt"

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/frederic-klein/mlhpkg"))

// Info describes a built package: what it is, how it was configured, and
// what a consumer links against.
type Info struct {
	Name      string
	Version   string
	PackageID string
	Settings  map[string]string
	Options   map[string]string
	Requires  []string
	Libs      []string
}

// New assembles the manifest for a descriptor built with opts and settings.
// Only the setting axes the descriptor declares are recorded.
func New(desc *recipe.Descriptor, opts recipe.Options, settings recipe.Settings) *Info {
	info := &Info{
		Name:     desc.Name,
		Version:  desc.Version,
		Settings: desc.DeclaredSettings(settings),
		Options:  opts.Values(),
		Libs:     desc.PackageInfo().Libs,
	}
	for _, ref := range desc.Requires {
		info.Requires = append(info.Requires, ref.String())
	}
	info.PackageID = PackageID(info)
	return info
}

// PackageID derives a stable identifier from the binary-affecting inputs:
// settings, options and requirements. Name and version are not part of it.
func PackageID(info *Info) string {
	var b strings.Builder
	for _, k := range recipe.SortedKeys(info.Settings) {
		fmt.Fprintf(&b, "s:%s=%s\n", k, info.Settings[k])
	}
	for _, k := range recipe.SortedKeys(info.Options) {
		fmt.Fprintf(&b, "o:%s=%s\n", k, info.Options[k])
	}
	reqs := append([]string(nil), info.Requires...)
	sort.Strings(reqs)
	for _, r := range reqs {
		fmt.Fprintf(&b, "r:%s\n", r)
	}
	return uuid.NewSHA1(namespace, []byte(b.String())).String()
}

// CppInfo converts the manifest into consumer linkage metadata using the
// standard package layout.
func (i *Info) CppInfo() recipe.CppInfo {
	return recipe.CppInfo{
		Libs:        append([]string(nil), i.Libs...),
		IncludeDirs: []string{"include"},
		LibDirs:     []string{"lib"},
		BinDirs:     []string{"bin"},
	}
}

// WriteFile writes the manifest to path.
func WriteFile(path string, info *Info) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if err := NewEmitter(f).Emit(info); err != nil {
		f.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	return f.Close()
}

// ReadFile parses the manifest at path.
func ReadFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()
	return NewParser(f).Parse()
}
