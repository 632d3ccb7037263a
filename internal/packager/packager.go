package packager

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/frederic-klein/mlhpkg/internal/logger"
)

// Rule copies files matching Pattern below Src (relative to the build dir)
// into Dst (relative to the package dir). When KeepPath is false the
// directory structure below Src is flattened.
type Rule struct {
	Pattern  string
	Dst      string
	Src      string
	KeepPath bool
}

func (r Rule) String() string {
	return fmt.Sprintf("%s -> %s/ (src=%q, keep_path=%v)", r.Pattern, r.Dst, r.Src, r.KeepPath)
}

// DefaultRules returns the package layout for a native library: headers
// under include/, archives and unix shared objects under lib/, windows and
// macOS dynamic libraries under bin/.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "*.h", Dst: "include", KeepPath: true},
		{Pattern: "*.lib", Dst: "lib", Src: "lib"},
		{Pattern: "*.dll", Dst: "bin", Src: "bin"},
		{Pattern: "*.dylib", Dst: "bin", Src: "lib"},
		{Pattern: "*.so", Dst: "lib"},
		{Pattern: "*.a", Dst: "lib"},
	}
}

// Validate rejects bad glob patterns and directories escaping their root.
func (r Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule %s: empty pattern", r)
	}
	if _, err := path.Match(r.Pattern, ""); err != nil {
		return fmt.Errorf("rule %s: %w", r, err)
	}
	for _, dir := range []string{r.Dst, r.Src} {
		if dir == "" {
			continue
		}
		if filepath.IsAbs(dir) || !filepath.IsLocal(dir) {
			return fmt.Errorf("rule %s: directory %q must be relative and stay inside its root", r, dir)
		}
	}
	return nil
}

// Copy records one copied file. From is relative to the tree it was found in
// (build or source dir), To to the package dir.
type Copy struct {
	From string
	To   string
}

// Result describes what a Collect call produced.
type Result struct {
	Copied []Copy
	// Unmatched holds rules that matched no file. This is not an error: a
	// missing artifact only surfaces when a consumer fails to link.
	Unmatched []Rule
}

// Files returns the destination paths of all copied files.
func (r *Result) Files() []string {
	files := make([]string, 0, len(r.Copied))
	for _, c := range r.Copied {
		files = append(files, c.To)
	}
	return files
}

// Packager copies build artifacts into a package directory.
type Packager struct {
	buildDir   string
	packageDir string
	sourceDir  string
	exports    []string
}

// New creates a packager reading from buildDir and writing into packageDir.
func New(buildDir, packageDir string) *Packager {
	return &Packager{
		buildDir:   filepath.Clean(buildDir),
		packageDir: filepath.Clean(packageDir),
	}
}

// WithSources makes Collect also apply the rules to the files of sourceDir
// that match one of exports, as if they had been exported into the build
// tree. A build output and a source file with the same destination resolve
// to the build output.
func (p *Packager) WithSources(sourceDir string, exports []string) *Packager {
	p.sourceDir = filepath.Clean(sourceDir)
	p.exports = exports
	return p
}

// PackageDir returns the destination root.
func (p *Packager) PackageDir() string {
	return p.packageDir
}

// root is one tree rules are applied to.
type root struct {
	dir     string
	exports []string // nil: every file qualifies
	skip    []string // absolute dirs never descended into
}

// Collect applies rules in order. It only creates or overwrites files it
// copies itself and never removes anything.
func (p *Packager) Collect(rules []Rule) (*Result, error) {
	log := logger.Logger()

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}

	roots, err := p.roots()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, rule := range rules {
		var copied []Copy
		for _, r := range roots {
			c, err := p.apply(rule, r)
			if err != nil {
				return nil, err
			}
			copied = append(copied, c...)
		}
		if len(copied) == 0 {
			log.Warnf("package: no files matched %s", rule)
			result.Unmatched = append(result.Unmatched, rule)
			continue
		}
		result.Copied = append(result.Copied, copied...)
	}

	log.Infof("package: copied %d files into %s", len(result.Copied), p.packageDir)
	return result, nil
}

// roots returns the source tree, when set, followed by the build tree.
func (p *Packager) roots() ([]root, error) {
	absPackage, err := filepath.Abs(p.packageDir)
	if err != nil {
		return nil, fmt.Errorf("resolving package dir: %w", err)
	}
	absBuild, err := filepath.Abs(p.buildDir)
	if err != nil {
		return nil, fmt.Errorf("resolving build dir: %w", err)
	}
	if absPackage == absBuild {
		return nil, fmt.Errorf("package dir %s must differ from the build dir", p.packageDir)
	}

	build := root{dir: p.buildDir, skip: []string{absPackage}}
	if p.sourceDir == "" {
		return []root{build}, nil
	}

	absSource, err := filepath.Abs(p.sourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving source dir: %w", err)
	}
	switch absSource {
	case absBuild:
		// In-source build: the build pass already sees the sources.
		return []root{build}, nil
	case absPackage:
		return nil, fmt.Errorf("package dir %s must differ from the source dir", p.packageDir)
	}
	source := root{dir: p.sourceDir, exports: p.exports, skip: []string{absPackage, absBuild}}
	return []root{source, build}, nil
}

func (p *Packager) apply(rule Rule, r root) ([]Copy, error) {
	log := logger.Logger()
	srcRoot := filepath.Join(r.dir, rule.Src)

	info, err := os.Stat(srcRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", srcRoot, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	var copied []Copy
	err = filepath.WalkDir(srcRoot, func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			abs, err := filepath.Abs(fpath)
			if err != nil {
				return err
			}
			for _, skip := range r.skip {
				if abs == skip {
					return filepath.SkipDir
				}
			}
			return nil
		}

		rel, err := filepath.Rel(srcRoot, fpath)
		if err != nil {
			return err
		}
		ok, err := Match(rule.Pattern, filepath.ToSlash(rel))
		if err != nil || !ok {
			return err
		}

		from, err := filepath.Rel(r.dir, fpath)
		if err != nil {
			return err
		}
		if r.exports != nil {
			exported, err := matchAny(r.exports, filepath.ToSlash(from))
			if err != nil || !exported {
				return err
			}
		}

		// Follow symlinks; skip anything that is not a regular file.
		st, err := os.Stat(fpath)
		if err != nil || !st.Mode().IsRegular() {
			return nil
		}

		destRel := filepath.Base(rel)
		if rule.KeepPath {
			destRel = rel
		}
		destRel = filepath.Join(rule.Dst, destRel)

		if err := copyFile(fpath, filepath.Join(p.packageDir, destRel), st.Mode().Perm()); err != nil {
			return err
		}
		log.Debugf("package: %s -> %s", from, destRel)

		copied = append(copied, Copy{From: filepath.ToSlash(from), To: filepath.ToSlash(destRel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting %s: %w", rule.Pattern, err)
	}
	return copied, nil
}

func matchAny(patterns []string, rel string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := Match(pattern, rel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Match reports whether a slash-separated relative path matches pattern.
// Patterns without a slash are matched against the base name only, so "*.h"
// finds headers at any depth.
func Match(pattern, rel string) (bool, error) {
	if !strings.Contains(pattern, "/") {
		return path.Match(pattern, path.Base(rel))
	}
	return path.Match(pattern, rel)
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	// Write to a fresh temp file next to dst, then rename
	out, err := os.CreateTemp(filepath.Dir(dst), ".mlh-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	tmpPath := out.Name()

	_, err = io.Copy(out, in)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing file: %w", err)
	}

	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting mode: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}
