// Package layercache stores built image layers keyed by content-derived
// digests.
//
// Each cached layer is an uncompressed tarball with a JSON metadata sidecar
// recording its digest and size. Lookups verify the tarball against the
// recorded digest; a mismatch is reported as [ErrCorrupt], which the build
// pipeline treats as a miss rather than a failure. All writes are staged in
// a temporary file and renamed into place, so independent builds can share
// one cache directory safely.
//
// Example usage:
//
//	cache, err := layercache.Open(paths.LayerCache())
//	if err != nil {
//	    return err
//	}
//
//	entry, err := cache.Get(key)
//	switch {
//	case errdefs.IsNotFound(err):
//	    // build the layer, then cache.Put(key, tarball)
//	case errors.Is(err, layercache.ErrCorrupt):
//	    cache.Remove(key)
//	    // rebuild the layer
//	case err != nil:
//	    return err
//	}
package layercache
