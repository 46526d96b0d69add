package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// An ordered build recipe.
//
// A recipe names a base image, lists the steps that produce the image's
// layers and metadata, and optionally declares a default command or
// entrypoint. Step-level command and entrypoint declarations override the
// top-level ones; the last declaration wins.
type Recipe struct {
	From       string   `yaml:"from"`                 // Base image reference, "scratch", or a path to an OCI archive.
	Steps      []Step   `yaml:"steps"`                // Ordered build steps.
	Command    []string `yaml:"command,omitempty"`    // Default command for the final image.
	Entrypoint []string `yaml:"entrypoint,omitempty"` // Entrypoint for the final image.
}

// Reads and validates a recipe from a YAML file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecipe, err)
	}
	return Parse(data)
}

// Parses and validates a recipe from YAML bytes.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecipe, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Checks that the recipe is well-formed.
//
// A recipe must name a base image, and every step must carry exactly one
// operation. Validation failures identify the offending step by its
// 1-based position.
func (r *Recipe) Validate() error {
	if r.From == "" {
		return fmt.Errorf("%w: missing base image (from)", ErrRecipe)
	}

	for i, step := range r.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("%w: step %d: %w", ErrRecipe, i+1, err)
		}
	}

	return nil
}
