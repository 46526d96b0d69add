// Package build executes recipes and produces layered images.
//
// A recipe is an ordered sequence of steps. Metadata steps (env, workdir,
// user switch, expose, command) only accumulate state; copy, run, and user
// steps each commit one immutable layer. Every layer is keyed by the chain
// of all declarations before it plus the content digests of the context
// files it reads, and the layer cache is consulted before any step
// executes. A build whose inputs are unchanged reuses every layer and
// produces a byte-identical image.
//
// Steps run strictly in order, one at a time. The first step that must
// execute stages the image filesystem in a temporary directory; run
// commands execute on the host against that staged root, and the resulting
// filesystem diff becomes the step's layer. A failing step aborts the
// build with no image produced, while layers committed before the failure
// stay cached for the next attempt.
//
// Example usage:
//
//	result, err := build.Run(ctx, store, cache, build.Options{
//	    Recipe:  r,
//	    Context: ".",
//	    Output:  "dist",
//	    Tag:     "myapp",
//	})
//	if err != nil {
//	    return err
//	}
package build
