package image

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/stratabuild/strata/internal/paths"
)

// Filename of the OCI archive produced by Export.
const ExportFilename = "image.tar"

// Reference used for exported archives when the build has no tag.
const defaultExportRef = "strata.local/build"

// Runtime metadata recorded on an assembled image's config.
type Metadata struct {
	Env          []string // "KEY=VALUE" pairs, overlaid on the base image's env.
	WorkingDir   string   // Working directory for the default command.
	User         string   // Effective user for the default command.
	ExposedPorts []int    // Declared TCP ports, metadata only.
	Cmd          []string // Default command. Last recipe declaration wins.
	Entrypoint   []string // Entrypoint. Setting it clears an inherited Cmd.
}

// Composes the base image, layer tarballs, and metadata into a final image.
//
// Layers are appended in order. The config is copied from the base, the
// metadata overlaid, and the creation timestamp zeroed so that rebuilding
// from unchanged inputs yields a byte-identical image.
func Assemble(base v1.Image, layerPaths []string, meta Metadata) (v1.Image, error) {
	layers := make([]v1.Layer, 0, len(layerPaths))
	for _, path := range layerPaths {
		layer, err := tarball.LayerFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("assemble image: layer %s: %w", path, err)
		}
		layers = append(layers, layer)
	}

	img, err := mutate.AppendLayers(base, layers...)
	if err != nil {
		return nil, fmt.Errorf("assemble image: %w", err)
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("assemble image: %w", err)
	}

	cfg := *cfgFile
	cfg.Created = v1.Time{}
	cfg.Config.Env = mergeEnv(cfg.Config.Env, meta.Env)

	if meta.WorkingDir != "" {
		cfg.Config.WorkingDir = meta.WorkingDir
	}
	if meta.User != "" {
		cfg.Config.User = meta.User
	}
	if len(meta.Cmd) > 0 {
		cfg.Config.Cmd = meta.Cmd
	}
	if len(meta.Entrypoint) > 0 {
		cfg.Config.Entrypoint = meta.Entrypoint
		if len(meta.Cmd) == 0 {
			cfg.Config.Cmd = nil
		}
	}

	if len(meta.ExposedPorts) > 0 {
		if cfg.Config.ExposedPorts == nil {
			cfg.Config.ExposedPorts = make(map[string]struct{}, len(meta.ExposedPorts))
		}
		for _, port := range meta.ExposedPorts {
			cfg.Config.ExposedPorts[fmt.Sprintf("%d/tcp", port)] = struct{}{}
		}
	}

	img, err = mutate.ConfigFile(img, &cfg)
	if err != nil {
		return nil, fmt.Errorf("assemble image: %w", err)
	}

	return img, nil
}

// Writes the image to an OCI archive at dir/image.tar.
//
// The reference is attached to the archive's manifest entry so engines can
// load it under a stable name. An empty ref falls back to a local default.
func Export(img v1.Image, dir, ref string) (string, error) {
	if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("export image: %w", err)
	}

	if ref == "" {
		ref = defaultExportRef
	}
	tag, err := name.NewTag(ref, name.WithDefaultRegistry(""))
	if err != nil {
		return "", fmt.Errorf("export image: reference %q: %w", ref, err)
	}

	path := filepath.Join(dir, ExportFilename)
	if err := tarball.WriteToFile(path, tag, img); err != nil {
		return "", fmt.Errorf("export image: %w", err)
	}

	return path, nil
}

// Merges override env entries on top of a base env slice.
//
// Entries are "KEY=VALUE" strings; a later key replaces an earlier one.
// The result is sorted so the merged env is deterministic.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}
