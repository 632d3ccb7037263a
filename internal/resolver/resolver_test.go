package resolver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/frederic-klein/mlhpkg/internal/archive"
	"github.com/frederic-klein/mlhpkg/internal/downloader"
	"github.com/frederic-klein/mlhpkg/internal/manifest"
	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

var doctest = recipe.Reference{Name: "doctest", Version: "2.3.4", User: "bincrafters", Channel: "stable"}

// writePackage lays out a package directory with a manifest and one header.
func writePackage(t *testing.T, dir string, name, version string, libs []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "include"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "include", name+".h"), []byte("// "+name), 0644); err != nil {
		t.Fatal(err)
	}
	info := &manifest.Info{Name: name, Version: version, Libs: libs}
	if err := manifest.WriteFile(filepath.Join(dir, manifest.FileName), info); err != nil {
		t.Fatal(err)
	}
}

func TestResolver_Resolve_FromCache(t *testing.T) {
	// Arrange
	cacheDir := t.TempDir()
	r := NewResolver(cacheDir, "", nil)
	writePackage(t, r.PackagePath(doctest), "doctest", "2.3.4", nil)

	// Act
	deps, err := r.Resolve(context.Background(), []recipe.Reference{doctest})

	// Assert
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := []Dependency{{
		Ref:  doctest,
		Root: filepath.Join(cacheDir, "doctest", "2.3.4", "bincrafters", "stable"),
		Info: recipe.CppInfo{IncludeDirs: []string{"include"}, LibDirs: []string{"lib"}, BinDirs: []string{"bin"}},
	}}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_Resolve_MissingOffline(t *testing.T) {
	r := NewResolver(t.TempDir(), "", nil)

	_, err := r.Resolve(context.Background(), []recipe.Reference{doctest})
	if !errors.Is(err, recipe.ErrDependencyResolution) {
		t.Fatalf("Resolve() error = %v, want ErrDependencyResolution", err)
	}
}

func TestResolver_Resolve_VersionMismatch(t *testing.T) {
	r := NewResolver(t.TempDir(), "", nil)
	writePackage(t, r.PackagePath(doctest), "doctest", "2.4.0", nil)

	_, err := r.Resolve(context.Background(), []recipe.Reference{doctest})
	if !errors.Is(err, recipe.ErrDependencyResolution) {
		t.Fatalf("Resolve() error = %v, want ErrDependencyResolution", err)
	}
}

func TestResolver_Resolve_FromRemote(t *testing.T) {
	// Arrange: serve a packed doctest package
	src := t.TempDir()
	writePackage(t, src, "doctest", "2.3.4", nil)
	var pkg bytes.Buffer
	if err := archive.Pack(src, &pkg, archive.FormatTarXZ); err != nil {
		t.Fatal(err)
	}

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests++
		if req.URL.Path != "/doctest/2.3.4/bincrafters/stable/package.tar.xz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(pkg.Bytes())
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	dl := downloader.NewDownloader(2, filepath.Join(cacheDir, ".downloads"))
	r := NewResolver(cacheDir, server.URL+"/", dl)

	// Act
	deps, err := r.Resolve(context.Background(), []recipe.Reference{doctest})

	// Assert
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(deps) != 1 || deps[0].Root != r.PackagePath(doctest) {
		t.Fatalf("Resolve() = %+v", deps)
	}
	if _, err := os.Stat(filepath.Join(deps[0].Root, "include", "doctest.h")); err != nil {
		t.Errorf("package not installed: %v", err)
	}
	st, err := os.Stat(deps[0].Root)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0755 {
		t.Errorf("package root mode = %v, want 0755", st.Mode().Perm())
	}

	// A second resolve is served from the cache.
	if _, err := r.Resolve(context.Background(), []recipe.Reference{doctest}); err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if requests != 1 {
		t.Errorf("remote hit %d times, want 1", requests)
	}
}

func TestResolver_Resolve_RemoteNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	r := NewResolver(cacheDir, server.URL, downloader.NewDownloader(1, filepath.Join(cacheDir, ".downloads")))

	_, err := r.Resolve(context.Background(), []recipe.Reference{doctest})
	if !errors.Is(err, recipe.ErrDependencyResolution) {
		t.Fatalf("Resolve() error = %v, want ErrDependencyResolution", err)
	}
	if _, statErr := os.Stat(r.PackagePath(doctest)); !os.IsNotExist(statErr) {
		t.Error("failed resolve left a package directory behind")
	}
}

func TestResolver_RemoteURL(t *testing.T) {
	r := NewResolver("/cache", "https://packages.example.com/mlh/", nil)
	want := "https://packages.example.com/mlh/doctest/2.3.4/bincrafters/stable/package.tar.xz"
	if got := r.RemoteURL(doctest); got != want {
		t.Errorf("RemoteURL() = %q, want %q", got, want)
	}
}

func TestDependency_Generator(t *testing.T) {
	d := Dependency{Ref: doctest, Root: "/cache/doctest", Info: recipe.CppInfo{Libs: []string{"x"}}}
	g := d.Generator()
	if g.Name != "doctest" || g.Root != "/cache/doctest" || g.Info.Libs[0] != "x" {
		t.Errorf("Generator() = %+v", g)
	}
}

func TestResolver_Resolve_RetriesAfterBadArchive(t *testing.T) {
	// Arrange: the first response is not an archive, later ones are
	src := t.TempDir()
	writePackage(t, src, "doctest", "2.3.4", nil)
	var pkg bytes.Buffer
	if err := archive.Pack(src, &pkg, archive.FormatTarXZ); err != nil {
		t.Fatal(err)
	}

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requests++
		if requests == 1 {
			w.Write([]byte("<html>maintenance</html>"))
			return
		}
		w.Write(pkg.Bytes())
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	dl := downloader.NewDownloader(1, filepath.Join(cacheDir, ".downloads"))
	r := NewResolver(cacheDir, server.URL, dl)

	// Act
	_, firstErr := r.Resolve(context.Background(), []recipe.Reference{doctest})
	_, secondErr := r.Resolve(context.Background(), []recipe.Reference{doctest})

	// Assert
	if !errors.Is(firstErr, recipe.ErrDependencyResolution) {
		t.Fatalf("first Resolve() error = %v, want ErrDependencyResolution", firstErr)
	}
	if secondErr != nil {
		t.Fatalf("second Resolve() error = %v", secondErr)
	}
	if requests != 2 {
		t.Errorf("remote hit %d times, want 2", requests)
	}
}
