package build

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
)

// Identity of one filesystem entry within a snapshot.
type fileSum struct {
	mode os.FileMode
	link string        // Symlink target, if any.
	sum  digest.Digest // Content digest for regular files.
}

// Records the state of every entry under root, keyed by slash-separated
// relative path. Used before and after a run step to compute the step's
// layer as a filesystem diff.
func snapshot(root string) (map[string]fileSum, error) {
	sums := make(map[string]fileSum)

	err := walkSorted(root, func(rel string, info os.FileInfo) error {
		entry := fileSum{mode: info.Mode()}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			entry.link = target

		case info.Mode().IsRegular():
			sum, err := fileDigest(filepath.Join(root, filepath.FromSlash(rel)), info.Mode())
			if err != nil {
				return err
			}
			entry.sum = sum
		}

		sums[rel] = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sums, nil
}

// Writes the difference between two snapshots as a layer tarball.
//
// Added and changed entries are written from the current root; entries
// present before but absent after become whiteouts. Both groups are written
// in sorted path order so the layer is deterministic.
func diffLayer(root string, before, after map[string]fileSum, w io.Writer) error {
	var changed, removed []string

	for rel, entry := range after {
		if prev, ok := before[rel]; !ok || prev != entry {
			changed = append(changed, rel)
		}
	}
	for rel := range before {
		if _, ok := after[rel]; !ok {
			removed = append(removed, rel)
		}
	}

	sort.Strings(changed)
	sort.Strings(removed)

	tw := tar.NewWriter(w)

	for _, rel := range removed {
		// A removed child of a removed directory is covered by the
		// directory's own whiteout.
		if parentRemoved(before, after, rel) {
			continue
		}
		if err := writeWhiteout(tw, rel); err != nil {
			return err
		}
	}

	for _, rel := range changed {
		hostPath := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Lstat(hostPath)
		if err != nil {
			return err
		}
		if err := writeTarEntry(tw, hostPath, rel, info); err != nil {
			return err
		}
	}

	return tw.Close()
}

// Reports whether any ancestor directory of rel was itself removed.
func parentRemoved(before, after map[string]fileSum, rel string) bool {
	for dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." && dir != "/"; dir = filepath.ToSlash(filepath.Dir(dir)) {
		_, existed := before[dir]
		_, exists := after[dir]
		if existed && !exists {
			return true
		}
	}
	return false
}
