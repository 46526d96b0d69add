package cli

import (
	"context"
	"fmt"

	"github.com/stratabuild/strata/internal/build"
	"github.com/stratabuild/strata/internal/image"
	"github.com/stratabuild/strata/internal/layercache"
	"github.com/stratabuild/strata/internal/paths"
	"github.com/stratabuild/strata/internal/recipe"
)

// Represents the 'strata build' command.
type BuildCmd struct {
	Recipe  string   `short:"f" default:"recipe.yml" help:"Recipe file to execute." placeholder:"FILE"`
	Context string   `arg:"" optional:"" default:"." help:"Build context directory."`
	Tag     string   `short:"t" help:"Reference to save the image under." placeholder:"NAME:TAG"`
	Output  string   `short:"o" help:"Directory to export the image archive into." placeholder:"DIR"`
	Command []string `help:"Override the recipe's command."`
}

// Executes the build command.
//
// Loads the recipe, runs every step against the build context, and prints
// the digest of the resulting image. The process exit code mirrors a failed
// step's command exit code.
func (c *BuildCmd) Run(ctx context.Context) error {
	r, err := recipe.Load(c.Recipe)
	if err != nil {
		return err
	}

	store, cache, err := openStores()
	if err != nil {
		return err
	}

	result, err := build.Run(ctx, store, cache, build.Options{
		Recipe:  r,
		Context: c.Context,
		Output:  c.Output,
		Tag:     c.Tag,
		Command: c.Command,
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Digest)
	return nil
}

// Opens the image store and layer cache, honoring root flag overrides.
func openStores() (*image.Store, *layercache.Cache, error) {
	storeDir := RootCmd.Store
	if storeDir == "" {
		storeDir = paths.ImageStore()
	}

	cacheDir := RootCmd.Cache
	if cacheDir == "" {
		cacheDir = paths.LayerCache()
	}

	store, err := image.Open(storeDir)
	if err != nil {
		return nil, nil, err
	}

	cache, err := layercache.Open(cacheDir)
	if err != nil {
		return nil, nil, err
	}

	return store, cache, nil
}
