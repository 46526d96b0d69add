// Package image assembles, stores, and exports OCI images without a
// container engine.
//
// Assembly composes a base image with layer tarballs produced by the build
// pipeline and overlays runtime metadata (env, working directory, user,
// exposed ports, default command) on the image config. The [Store] keeps
// built and imported images in per-reference OCI layout directories under
// the local data dir, and Export writes a single image as an OCI archive
// that any engine can load.
//
// Example usage:
//
//	store, err := image.Open(paths.ImageStore())
//	if err != nil {
//	    return err
//	}
//
//	base, err := image.ResolveBase(store, "python-slim")
//	if err != nil {
//	    return err
//	}
//
//	img, err := image.Assemble(base, layerPaths, image.Metadata{
//	    ExposedPorts: []int{8000},
//	    Cmd:          []string{"python", "app.py"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	path, err := image.Export(img, "dist", "myapp")
package image
