package cli

import (
	"context"
	"fmt"

	"github.com/stratabuild/strata/internal"
)

// Represents the 'strata version' command.
type VersionCmd struct{}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
