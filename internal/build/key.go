package build

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"

	"github.com/stratabuild/strata/internal/recipe"
)

// Canonical material hashed into a step's cache key.
//
// The parent key chains every earlier step and the base image into the key,
// so a change anywhere in the recipe prefix invalidates this layer and all
// later ones. Inputs carry the content digests of context files the step
// reads, so a copy source or dependency manifest edit invalidates exactly
// the steps that consume it.
type keyMaterial struct {
	Parent  digest.Digest            `json:"parent"`
	Step    recipe.Step              `json:"step"`
	Inputs  map[string]digest.Digest `json:"inputs,omitempty"`
	Skipped bool                     `json:"skipped,omitempty"`
}

// Returns the root of the cache key chain for a base image.
func baseKey(baseDigest v1.Hash) digest.Digest {
	return digest.FromString("base\n" + baseDigest.String())
}

// Derives the cache key for a step from its parent key, its declaration,
// and the digests of the context files it reads.
func stepKey(parent digest.Digest, step recipe.Step, inputs map[string]digest.Digest, skipped bool) digest.Digest {
	material, err := json.Marshal(keyMaterial{
		Parent:  parent,
		Step:    step,
		Inputs:  inputs,
		Skipped: skipped,
	})
	if err != nil {
		// Only plain structs and maps are marshalled here.
		panic(fmt.Sprintf("marshalling key material: %v", err))
	}
	return digest.FromBytes(material)
}

// Computes a content digest for a path inside the build context.
//
// A regular file digests to its contents and mode. A directory digests to
// the sorted sequence of its entries' relative paths, modes, and content
// digests, so any file change inside the tree changes the digest. Returns
// an error wrapping [ErrPathNotFound] when the path is absent from the
// context, and rejects paths that escape the context.
func contextDigest(contextDir, src string) (digest.Digest, error) {
	full, err := contextPath(contextDir, src)
	if err != nil {
		return "", err
	}

	info, err := os.Lstat(full)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}

	if !info.IsDir() {
		return fileDigest(full, info.Mode())
	}

	digester := digest.SHA256.Digester()
	hash := digester.Hash()

	err = walkSorted(full, func(rel string, info os.FileInfo) error {
		if info.IsDir() {
			fmt.Fprintf(hash, "dir\x00%s\x00%o\n", rel, info.Mode().Perm())
			return nil
		}
		sum, err := fileDigest(filepath.Join(full, filepath.FromSlash(rel)), info.Mode())
		if err != nil {
			return err
		}
		fmt.Fprintf(hash, "file\x00%s\x00%s\n", rel, sum)
		return nil
	})
	if err != nil {
		return "", err
	}

	return digester.Digest(), nil
}

// Resolves a context-relative source path, rejecting absolute paths and
// paths that climb out of the context.
func contextPath(contextDir, src string) (string, error) {
	if src == "." {
		return contextDir, nil
	}
	if !filepath.IsLocal(src) {
		return "", fmt.Errorf("%w: %s escapes the build context", ErrPathNotFound, src)
	}
	return filepath.Join(contextDir, src), nil
}

// Digests a single file's contents and permission bits.
func fileDigest(path string, mode os.FileMode) (digest.Digest, error) {
	if mode&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return "", err
		}
		return digest.FromString("link\x00" + target), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digester := digest.SHA256.Digester()
	hash := digester.Hash()
	fmt.Fprintf(hash, "%o\x00", mode.Perm())
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return digester.Digest(), nil
}

// Walks a directory tree depth-first in sorted order, calling fn with
// slash-separated paths relative to root. The root itself is not visited.
func walkSorted(root string, fn func(rel string, info os.FileInfo) error) error {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}

	sort.Strings(rels)
	for _, rel := range rels {
		info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		if err := fn(rel, info); err != nil {
			return err
		}
	}
	return nil
}
