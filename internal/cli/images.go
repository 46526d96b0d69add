package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Represents the 'strata images' command.
type ImagesCmd struct{}

// Executes the images command, listing every image in the local store.
func (c *ImagesCmd) Run(ctx context.Context) error {
	store, _, err := openStores()
	if err != nil {
		return err
	}

	infos, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tDIGEST\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\n", info.Ref, info.Digest, info.Size)
	}
	return w.Flush()
}

// Represents the 'strata rm' command.
type RemoveCmd struct {
	Ref string `arg:"" help:"Reference of the image to remove."`
}

// Executes the remove command.
func (c *RemoveCmd) Run(ctx context.Context) error {
	store, _, err := openStores()
	if err != nil {
		return err
	}
	return store.Remove(c.Ref)
}
