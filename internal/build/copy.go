package build

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// A parsed copy operation.
type copyOp struct {
	src       string // Source path relative to the build context.
	dest      string // Absolute destination path inside the image.
	destIsDir bool   // Whether dest names a directory to copy into.
}

// Parses a copy string into a source and destination.
//
// The string must contain exactly two whitespace-separated tokens. A
// relative destination is resolved against the current working directory.
// A destination of ".", or one ending in "/", names a directory that the
// source is copied into.
func parseCopy(s, workdir string) (copyOp, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return copyOp{}, fmt.Errorf("expected source and destination, got %q", s)
	}

	src := parts[0]
	dest := parts[1]

	destIsDir := dest == "." || dest == "./" || strings.HasSuffix(dest, "/")

	if !path.IsAbs(dest) {
		dest = path.Join(workdir, dest)
	}
	dest = path.Clean(dest)

	return copyOp{src: src, dest: dest, destIsDir: destIsDir}, nil
}

// Writes the layer tarball for a copy operation.
//
// A directory source copies its contents into the destination. A file
// source copies to the destination path itself, or into it when the
// destination names a directory.
func copyLayer(contextDir string, op copyOp, w io.Writer) error {
	full, err := contextPath(contextDir, op.src)
	if err != nil {
		return err
	}

	info, err := os.Lstat(full)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, op.src)
	}

	tw := tar.NewWriter(w)

	if info.IsDir() {
		if err := writeDirHeader(tw, op.dest, info); err != nil {
			return err
		}
		err := walkSorted(full, func(rel string, entryInfo os.FileInfo) error {
			name := imagePath(path.Join(op.dest, rel))
			hostPath := filepath.Join(full, filepath.FromSlash(rel))
			return writeTarEntry(tw, hostPath, name, entryInfo)
		})
		if err != nil {
			return err
		}
		return tw.Close()
	}

	dest := op.dest
	if op.destIsDir {
		dest = path.Join(dest, path.Base(op.src))
	}
	if err := writeTarEntry(tw, full, imagePath(dest), info); err != nil {
		return err
	}
	return tw.Close()
}

// Writes a directory header for the copy destination, unless it is the
// image root.
func writeDirHeader(tw *tar.Writer, dest string, info os.FileInfo) error {
	name := imagePath(dest)
	if name == "" {
		return nil
	}
	return tw.WriteHeader(layerHeader(name, info, ""))
}

// Converts an absolute in-image path to a tar entry name.
func imagePath(p string) string {
	return strings.TrimPrefix(path.Clean(p), "/")
}
