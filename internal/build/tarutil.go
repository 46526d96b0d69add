package build

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/stratabuild/strata/internal/paths"
)

// Prefix marking a deleted path in a layer tarball (OCI whiteout format).
const whiteoutPrefix = ".wh."

// Timestamp applied to every layer entry so rebuilds are byte-identical.
var epoch = time.Unix(0, 0)

// Returns a normalized tar header for a layer entry.
//
// Ownership is fixed to root and all timestamps are zeroed; only the path,
// type, size, and permission bits carry information. This keeps layer
// tarballs deterministic across rebuilds and machines.
func layerHeader(name string, info os.FileInfo, link string) *tar.Header {
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		ModTime: epoch,
	}

	switch {
	case info.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name = strings.TrimSuffix(name, "/") + "/"
	case info.Mode()&os.ModeSymlink != 0:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = link
	default:
		hdr.Typeflag = tar.TypeReg
		hdr.Size = info.Size()
	}

	return hdr
}

// Writes a whiteout entry marking a path as deleted.
func writeWhiteout(tw *tar.Writer, name string) error {
	dir, base := path.Split(name)
	return tw.WriteHeader(&tar.Header{
		Name:     dir + whiteoutPrefix + base,
		Typeflag: tar.TypeReg,
		Mode:     0,
		ModTime:  epoch,
	})
}

// Writes one filesystem entry from hostPath into the tar stream under name.
func writeTarEntry(tw *tar.Writer, hostPath, name string, info os.FileInfo) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		link = target
	}

	if err := tw.WriteHeader(layerHeader(name, info, link)); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(hostPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
	}

	return nil
}

// Extracts a layer tarball into a root directory.
//
// Whiteout entries delete the named path. Entries that would escape the
// root are rejected. Hard links and devices are not produced by this
// builder and are skipped.
func applyLayer(root string, r io.Reader) error {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading layer: %w", err)
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "/"))
		if name == "." {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("reading layer: entry %q escapes the root", hdr.Name)
		}

		if base := path.Base(name); strings.HasPrefix(base, whiteoutPrefix) {
			target := path.Join(path.Dir(name), strings.TrimPrefix(base, whiteoutPrefix))
			if err := os.RemoveAll(filepath.Join(root, filepath.FromSlash(target))); err != nil {
				return fmt.Errorf("applying whiteout %s: %w", target, err)
			}
			continue
		}

		dest := filepath.Join(root, filepath.FromSlash(name))
		if err := extractEntry(tr, hdr, dest); err != nil {
			return fmt.Errorf("extracting %s: %w", name, err)
		}
	}
}

// Materializes a single tar entry at dest.
func extractEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, os.FileMode(hdr.Mode).Perm())

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
			return err
		}
		os.Remove(dest)
		return os.Symlink(hdr.Linkname, dest)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), paths.DefaultDirMode); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	default:
		return nil
	}
}
