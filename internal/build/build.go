package build

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/containerd/errdefs"
	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/stratabuild/strata/internal/image"
	"github.com/stratabuild/strata/internal/layercache"
	"github.com/stratabuild/strata/internal/recipe"
)

// Controls recipe execution.
type Options struct {
	Recipe  *recipe.Recipe // Recipe to execute.
	Context string         // Build context directory, root for copy sources.
	Output  string         // Directory for the exported archive. Empty skips export.
	Tag     string         // Reference to save the image under. Empty skips saving.
	Command []string       // Overrides the recipe's default command.
}

// Returned after successful recipe execution.
type Result struct {
	Digest       v1.Hash // Manifest digest of the built image.
	Path         string  // Path of the exported archive, empty when not exported.
	LayersReused int     // Layers taken from the cache.
	LayersBuilt  int     // Layers executed and committed this build.
}

// Executes a recipe against the build context and produces an image.
//
// Steps run strictly in declared order. Each layer-producing step is keyed
// by the chain of declarations and context inputs before it; a cached layer
// is reused without execution, and a missing or corrupt entry is rebuilt
// and committed to the cache. The image exists only after every step has
// succeeded: a failing step aborts the build, leaving previously committed
// cache entries in place for the next attempt.
func Run(ctx context.Context, store *image.Store, cache *layercache.Cache, opts Options) (*Result, error) {
	if err := opts.Recipe.Validate(); err != nil {
		return nil, err
	}

	contextDir, err := filepath.Abs(opts.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving context: %w", ErrBuild, err)
	}

	base, err := image.ResolveBase(store, opts.Recipe.From)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrBaseNotFound, opts.Recipe.From)
		}
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	slog.Info("building image",
		"base", opts.Recipe.From,
		"steps", len(opts.Recipe.Steps),
		"context", contextDir,
	)

	b, err := newBuilder(store, cache, contextDir, base, opts.Recipe)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	defer b.cleanup()

	for i, step := range opts.Recipe.Steps {
		if err := b.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("%w: step %d (%s): %w", ErrBuild, i+1, step, err)
		}
	}

	// An operator-supplied command overrides whatever the recipe declared.
	if len(opts.Command) > 0 {
		b.state.cmd = opts.Command
	}

	img, err := image.Assemble(b.base, b.layers, b.metadata())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	if opts.Tag != "" {
		if _, err := store.Save(opts.Tag, img); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}
	}

	var exportPath string
	if opts.Output != "" {
		exportPath, err = image.Export(img, opts.Output, opts.Tag)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, err)
		}
	}

	slog.Info("image built",
		"digest", dgst.String(),
		"reused", b.reused,
		"built", b.built,
	)

	return &Result{
		Digest:       dgst,
		Path:         exportPath,
		LayersReused: b.reused,
		LayersBuilt:  b.built,
	}, nil
}
