package resolver

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/frederic-klein/mlhpkg/internal/archive"
	"github.com/frederic-klein/mlhpkg/internal/downloader"
	"github.com/frederic-klein/mlhpkg/internal/generator"
	"github.com/frederic-klein/mlhpkg/internal/logger"
	"github.com/frederic-klein/mlhpkg/internal/manifest"
	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

// ArchiveName is the file a remote serves for each package.
const ArchiveName = "package.tar.xz"

// Dependency is a requirement that is present on disk.
type Dependency struct {
	Ref  recipe.Reference
	Root string
	Info recipe.CppInfo
}

// Generator converts the dependency for build-system generators.
func (d Dependency) Generator() generator.Dependency {
	return generator.Dependency{Name: d.Ref.Name, Root: d.Root, Info: d.Info}
}

// Resolver locates pinned requirements in the local package cache, fetching
// missing ones from a remote when one is configured.
type Resolver struct {
	cacheDir   string
	remote     string
	downloader *downloader.Downloader
}

// NewResolver creates a resolver. remote may be empty to work offline; dl may
// be nil when remote is empty.
func NewResolver(cacheDir, remote string, dl *downloader.Downloader) *Resolver {
	return &Resolver{
		cacheDir:   cacheDir,
		remote:     strings.TrimSuffix(remote, "/"),
		downloader: dl,
	}
}

// PackagePath returns where ref lives in the local cache.
func (r *Resolver) PackagePath(ref recipe.Reference) string {
	return filepath.Join(r.cacheDir, ref.Name, ref.Version, ref.User, ref.Channel)
}

// RemoteURL returns where ref's archive lives on the remote.
func (r *Resolver) RemoteURL(ref recipe.Reference) string {
	return r.remote + "/" + path.Join(ref.Name, ref.Version, ref.User, ref.Channel, ArchiveName)
}

// Resolve makes every reference available locally and returns them in the
// order given. Any failure wraps recipe.ErrDependencyResolution.
func (r *Resolver) Resolve(ctx context.Context, refs []recipe.Reference) ([]Dependency, error) {
	log := logger.Logger()

	var missing []recipe.Reference
	for _, ref := range refs {
		if _, err := os.Stat(filepath.Join(r.PackagePath(ref), manifest.FileName)); err != nil {
			if !os.IsNotExist(err) {
				return nil, r.fail(ref, err)
			}
			missing = append(missing, ref)
			continue
		}
		log.Debugf("resolve: %s found in cache", ref)
	}

	if len(missing) > 0 {
		if err := r.fetch(ctx, missing); err != nil {
			return nil, err
		}
	}

	deps := make([]Dependency, 0, len(refs))
	for _, ref := range refs {
		root := r.PackagePath(ref)
		info, err := manifest.ReadFile(filepath.Join(root, manifest.FileName))
		if err != nil {
			return nil, r.fail(ref, err)
		}
		if info.Name != ref.Name || info.Version != ref.Version {
			return nil, r.fail(ref, fmt.Errorf("cached package is %s/%s", info.Name, info.Version))
		}
		log.Infof("resolve: %s -> %s", ref, root)
		deps = append(deps, Dependency{Ref: ref, Root: root, Info: info.CppInfo()})
	}
	return deps, nil
}

func (r *Resolver) fetch(ctx context.Context, refs []recipe.Reference) error {
	if r.remote == "" || r.downloader == nil {
		return r.fail(refs[0], fmt.Errorf("not in local cache %s and no remote configured", r.cacheDir))
	}

	jobs := make([]downloader.Job, len(refs))
	for i, ref := range refs {
		jobs[i] = downloader.Job{
			URL:      r.RemoteURL(ref),
			DestPath: r.downloader.CachePath(path.Join(ref.Name, ref.Version, ref.User, ref.Channel, ArchiveName)),
			Name:     ref.String(),
		}
	}

	results := r.downloader.Download(ctx, jobs)
	for i, res := range results {
		if res.Error != nil {
			return r.fail(refs[i], res.Error)
		}
		if err := r.install(refs[i], res.Job.DestPath); err != nil {
			return r.fail(refs[i], err)
		}
	}
	return nil
}

// install unpacks an archive next to its final location and renames it into
// place so a half-extracted package is never visible in the cache. An archive
// that cannot be installed is removed so the next resolve downloads it again.
func (r *Resolver) install(ref recipe.Reference, archivePath string) error {
	if err := r.installArchive(ref, archivePath); err != nil {
		if rmErr := os.Remove(archivePath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Logger().Warnf("resolve: removing %s: %v", archivePath, rmErr)
		}
		return err
	}
	return nil
}

func (r *Resolver) installArchive(ref recipe.Reference, archivePath string) error {
	dest := r.PackagePath(ref)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(dest), ".install-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := archive.UnpackFile(archivePath, tmpDir); err != nil {
		return fmt.Errorf("unpacking %s: %w", archivePath, err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, manifest.FileName)); err != nil {
		return fmt.Errorf("archive %s has no %s", archivePath, manifest.FileName)
	}
	// MkdirTemp creates 0700, cache entries are 0755.
	if err := os.Chmod(tmpDir, 0755); err != nil {
		return fmt.Errorf("setting mode on %s: %w", tmpDir, err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clearing %s: %w", dest, err)
	}
	if err := os.Rename(tmpDir, dest); err != nil {
		return fmt.Errorf("installing %s: %w", ref, err)
	}
	return nil
}

func (r *Resolver) fail(ref recipe.Reference, err error) error {
	return &recipe.Error{
		Op:      "resolve",
		Package: ref.String(),
		Err:     fmt.Errorf("%w: %w", recipe.ErrDependencyResolution, err),
	}
}
