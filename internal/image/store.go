package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stratabuild/strata/internal/paths"
)

// Reference name resolved to the empty base image.
const ScratchRef = "scratch"

// A local image store backed by OCI layout directories.
//
// Each saved reference lives in its own layout directory named by the hash
// of the reference, so arbitrary reference strings map to valid directory
// names. The reference itself is recorded as an OCI annotation on the
// layout's index entry.
type Store struct {
	root string // Directory holding one OCI layout per reference.
}

// Describes a stored image.
type Info struct {
	Ref    string  // Reference the image was saved under.
	Digest v1.Hash // Manifest digest.
	Size   int64   // Manifest size in bytes.
}

// Opens the store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("open image store: %w", err)
	}
	return &Store{root: dir}, nil
}

// Looks up an image by reference.
//
// Returns an error wrapping [errdefs.ErrNotFound] when no image is saved
// under the reference.
func (s *Store) Resolve(ref string) (v1.Image, error) {
	dir := s.refDir(ref)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("image %q: %w", ref, errdefs.ErrNotFound)
	}

	p, err := layout.FromPath(dir)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", ref, err)
	}

	index, err := p.ImageIndex()
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", ref, err)
	}

	manifest, err := index.IndexManifest()
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", ref, err)
	}
	if len(manifest.Manifests) == 0 {
		return nil, fmt.Errorf("image %q: empty index: %w", ref, errdefs.ErrNotFound)
	}

	img, err := index.Image(manifest.Manifests[0].Digest)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", ref, err)
	}
	return img, nil
}

// Saves an image under a reference, replacing any previous image saved
// under the same reference. Returns the image's manifest digest.
func (s *Store) Save(ref string, img v1.Image) (v1.Hash, error) {
	dgst, err := img.Digest()
	if err != nil {
		return v1.Hash{}, fmt.Errorf("save image %q: %w", ref, err)
	}

	tmp, err := os.MkdirTemp(s.root, "save-")
	if err != nil {
		return v1.Hash{}, fmt.Errorf("save image %q: %w", ref, err)
	}
	defer os.RemoveAll(tmp)

	p, err := layout.Write(tmp, empty.Index)
	if err != nil {
		return v1.Hash{}, fmt.Errorf("save image %q: %w", ref, err)
	}

	err = p.AppendImage(img, layout.WithAnnotations(map[string]string{
		ocispec.AnnotationRefName: ref,
	}))
	if err != nil {
		return v1.Hash{}, fmt.Errorf("save image %q: %w", ref, err)
	}

	dir := s.refDir(ref)
	if err := os.RemoveAll(dir); err != nil {
		return v1.Hash{}, fmt.Errorf("save image %q: %w", ref, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return v1.Hash{}, fmt.Errorf("save image %q: %w", ref, err)
	}

	return dgst, nil
}

// Lists all stored images.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := s.describe(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue // Skip directories that are not valid layouts.
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// Removes the image saved under a reference.
//
// Returns an error wrapping [errdefs.ErrNotFound] when nothing is saved
// under the reference.
func (s *Store) Remove(ref string) error {
	dir := s.refDir(ref)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("image %q: %w", ref, errdefs.ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove image %q: %w", ref, err)
	}
	return nil
}

// Reads the reference annotation and manifest descriptor from a layout.
func (s *Store) describe(dir string) (Info, error) {
	p, err := layout.FromPath(dir)
	if err != nil {
		return Info{}, err
	}

	index, err := p.ImageIndex()
	if err != nil {
		return Info{}, err
	}

	manifest, err := index.IndexManifest()
	if err != nil {
		return Info{}, err
	}
	if len(manifest.Manifests) == 0 {
		return Info{}, fmt.Errorf("empty index in %s", dir)
	}

	desc := manifest.Manifests[0]
	return Info{
		Ref:    desc.Annotations[ocispec.AnnotationRefName],
		Digest: desc.Digest,
		Size:   desc.Size,
	}, nil
}

// Returns the layout directory for a reference.
//
// The reference is hashed so any reference string maps to a valid directory
// name regardless of which characters it contains.
func (s *Store) refDir(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return filepath.Join(s.root, hex.EncodeToString(h[:]))
}

// Resolves a base image reference for a build.
//
// "scratch" resolves to the empty image. Other references are looked up in
// the store first; a reference naming an existing file is loaded as an OCI
// archive. Returns an error wrapping [errdefs.ErrNotFound] when the
// reference resolves to nothing.
func ResolveBase(store *Store, ref string) (v1.Image, error) {
	if ref == ScratchRef {
		return empty.Image, nil
	}

	img, err := store.Resolve(ref)
	if err == nil {
		return img, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, err
	}

	if _, statErr := os.Stat(ref); statErr == nil {
		img, tarErr := tarball.ImageFromPath(ref, nil)
		if tarErr != nil {
			return nil, fmt.Errorf("base %q: %w", ref, tarErr)
		}
		return img, nil
	}

	return nil, fmt.Errorf("base %q: %w", ref, errdefs.ErrNotFound)
}
