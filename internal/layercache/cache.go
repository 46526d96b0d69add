package layercache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"

	"github.com/stratabuild/strata/internal/paths"
)

// Reported when a cache entry fails its integrity check. Callers should
// treat a corrupt entry as a miss and rebuild the layer.
var ErrCorrupt = errors.New("cache entry corrupt")

// A content-addressed layer cache on disk.
//
// Entries are keyed by a content-derived digest. Each entry holds an
// uncompressed layer tarball and a JSON metadata sidecar. Writes go through
// a temporary file and an atomic rename, so concurrent builds writing the
// same key settle on last-writer-wins; keys are content-derived, so
// colliding writes carry identical content.
type Cache struct {
	root string // Directory holding layer tarballs and metadata sidecars.
}

// A cached layer.
type Entry struct {
	Key    digest.Digest // Cache key the layer is stored under.
	Path   string        // Path to the uncompressed layer tarball.
	DiffID digest.Digest // Digest of the uncompressed tarball.
	Size   int64         // Size of the tarball in bytes.
}

// Metadata sidecar persisted next to each layer tarball.
type metadata struct {
	DiffID  digest.Digest `json:"diffId"`
	Size    int64         `json:"size"`
	Created time.Time     `json:"created"`
}

// Opens the cache rooted at dir, creating the directory if needed.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("open layer cache: %w", err)
	}
	return &Cache{root: dir}, nil
}

// Returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Looks up a layer by key.
//
// Returns an error wrapping [errdefs.ErrNotFound] on a miss. Returns an
// error wrapping [ErrCorrupt] when the entry exists but its tarball does
// not match the recorded digest, or its metadata cannot be read.
func (c *Cache) Get(key digest.Digest) (*Entry, error) {
	metaPath := c.metaPath(key)

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("layer %s: %w", key.Encoded(), errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("layer %s: %w: %w", key.Encoded(), ErrCorrupt, err)
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("layer %s: %w: %w", key.Encoded(), ErrCorrupt, err)
	}

	layerPath := c.layerPath(key)
	actual, err := digestFile(layerPath)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w: %w", key.Encoded(), ErrCorrupt, err)
	}
	if actual != meta.DiffID {
		return nil, fmt.Errorf("layer %s: %w: digest %s does not match recorded %s",
			key.Encoded(), ErrCorrupt, actual, meta.DiffID)
	}

	return &Entry{
		Key:    key,
		Path:   layerPath,
		DiffID: meta.DiffID,
		Size:   meta.Size,
	}, nil
}

// Stores a layer tarball under the given key.
//
// The tarball is streamed to a temporary file and renamed into place, then
// the metadata sidecar is written the same way. An existing entry under the
// same key is replaced.
func (c *Cache) Put(key digest.Digest, layer io.Reader) (*Entry, error) {
	tmp, err := os.CreateTemp(c.root, "put-*.tar")
	if err != nil {
		return nil, fmt.Errorf("store layer: %w", err)
	}
	defer os.Remove(tmp.Name())

	digester := digest.SHA256.Digester()
	size, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), layer)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("store layer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("store layer: %w", err)
	}

	layerPath := c.layerPath(key)
	if err := os.Rename(tmp.Name(), layerPath); err != nil {
		return nil, fmt.Errorf("store layer: %w", err)
	}

	meta := metadata{
		DiffID:  digester.Digest(),
		Size:    size,
		Created: time.Now().UTC(),
	}
	if err := c.writeMetadata(key, meta); err != nil {
		return nil, err
	}

	return &Entry{
		Key:    key,
		Path:   layerPath,
		DiffID: meta.DiffID,
		Size:   meta.Size,
	}, nil
}

// Removes the entry stored under key, if any.
func (c *Cache) Remove(key digest.Digest) error {
	if err := os.Remove(c.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove layer: %w", err)
	}
	if err := os.Remove(c.layerPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove layer: %w", err)
	}
	return nil
}

// Writes the metadata sidecar via a temporary file and rename.
func (c *Cache) writeMetadata(key digest.Digest, meta metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("store layer metadata: %w", err)
	}

	tmp, err := os.CreateTemp(c.root, "put-*.json")
	if err != nil {
		return fmt.Errorf("store layer metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store layer metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store layer metadata: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.metaPath(key)); err != nil {
		return fmt.Errorf("store layer metadata: %w", err)
	}
	return nil
}

// Returns the path of the layer tarball for a key.
func (c *Cache) layerPath(key digest.Digest) string {
	return filepath.Join(c.root, key.Encoded()+".tar")
}

// Returns the path of the metadata sidecar for a key.
func (c *Cache) metaPath(key digest.Digest) string {
	return filepath.Join(c.root, key.Encoded()+".json")
}

// Computes the digest of a file's contents.
func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return digest.FromReader(f)
}
