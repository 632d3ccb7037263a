// Package generator writes build-system glue describing resolved dependencies.
package generator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

// CMakeFileName is the file written by the cmake generator.
const CMakeFileName = "buildinfo.cmake"

// Dependency is the generator's view of a resolved requirement.
type Dependency struct {
	Name string
	Root string
	Info recipe.CppInfo
}

// WriteCMake writes a CMake script exposing include dirs, lib dirs and libs of
// deps, in the order given, plus an mlh_basic_setup() macro that applies them.
func WriteCMake(w io.Writer, deps []Dependency) error {
	var allInc, allLib, allBin, allLibs []string

	bw := &errWriter{w: w}
	bw.printf("# Generated by mlhpkg. Do not edit.\n\n")

	for _, d := range deps {
		inc := absDirs(d.Root, d.Info.IncludeDirs)
		lib := absDirs(d.Root, d.Info.LibDirs)
		bin := absDirs(d.Root, d.Info.BinDirs)
		upper := cmakeName(d.Name)

		bw.printf("set(MLH_%s_ROOT %s)\n", upper, quote(filepath.ToSlash(d.Root)))
		bw.printf("set(MLH_INCLUDE_DIRS_%s %s)\n", upper, quoteList(inc))
		bw.printf("set(MLH_LIB_DIRS_%s %s)\n", upper, quoteList(lib))
		bw.printf("set(MLH_BIN_DIRS_%s %s)\n", upper, quoteList(bin))
		bw.printf("set(MLH_LIBS_%s %s)\n\n", upper, quoteList(d.Info.Libs))

		allInc = append(allInc, inc...)
		allLib = append(allLib, lib...)
		allBin = append(allBin, bin...)
		allLibs = append(allLibs, d.Info.Libs...)
	}

	bw.printf("set(MLH_INCLUDE_DIRS %s)\n", quoteList(allInc))
	bw.printf("set(MLH_LIB_DIRS %s)\n", quoteList(allLib))
	bw.printf("set(MLH_BIN_DIRS %s)\n", quoteList(allBin))
	bw.printf("set(MLH_LIBS %s)\n\n", quoteList(allLibs))

	bw.printf(`macro(mlh_basic_setup)
    include_directories(${MLH_INCLUDE_DIRS})
    link_directories(${MLH_LIB_DIRS})
    list(APPEND CMAKE_PREFIX_PATH ${MLH_LIB_DIRS})
endmacro()
`)
	return bw.err
}

// WriteCMakeFile writes buildinfo.cmake into dir and returns its path.
func WriteCMakeFile(dir string, deps []Dependency) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, CMakeFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCMake(f, deps); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func absDirs(root string, dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, filepath.ToSlash(filepath.Join(root, d)))
	}
	return out
}

func cmakeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quote(s)
	}
	return strings.Join(quoted, " ")
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
