package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Format is a compressed tarball flavour.
type Format string

const (
	FormatTarXZ Format = "tar.xz"
	FormatTarGZ Format = "tar.gz"
)

// FormatFromName picks the format from a file name's extension.
func FormatFromName(name string) (Format, error) {
	switch {
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return FormatTarXZ, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGZ, nil
	default:
		return "", fmt.Errorf("unknown archive format for %s", name)
	}
}

// Pack writes every regular file and directory below srcDir to w. Entries are
// written in lexical order with owner information stripped so that packing
// the same tree twice gives the same archive.
func Pack(srcDir string, w io.Writer, format Format) error {
	cw, err := compressor(w, format)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.ModTime = info.ModTime().UTC().Truncate(time.Second)
		hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
		hdr.Format = tar.FormatPAX

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		cw.Close()
		return fmt.Errorf("packing %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		cw.Close()
		return fmt.Errorf("closing tar: %w", err)
	}
	return cw.Close()
}

// PackFile archives srcDir into a new file at dest; the format follows the extension.
func PackFile(srcDir, dest string) error {
	format, err := FormatFromName(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmpPath := dest + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if err := Pack(srcDir, out, format); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dest)
}

// Unpack extracts an archive into destDir. Entries that would land outside
// destDir are rejected.
func Unpack(r io.Reader, destDir string, format Format) error {
	dr, err := decompressor(r, format)
	if err != nil {
		return err
	}

	tarReader := tar.NewReader(dr)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		name := strings.TrimSuffix(header.Name, "/")
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("archive entry %q escapes destination", header.Name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tarReader); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnpackFile extracts the archive at path into destDir.
func UnpackFile(path, destDir string) error {
	format, err := FormatFromName(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	return Unpack(f, destDir, format)
}

func compressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case FormatTarXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	case FormatTarGZ:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

func decompressor(r io.Reader, format Format) (io.Reader, error) {
	switch format {
	case FormatTarXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompressing xz: %w", err)
		}
		return xr, nil
	case FormatTarGZ:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompressing gzip: %w", err)
		}
		return gr, nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}
