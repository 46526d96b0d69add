package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/opencontainers/go-digest"

	"github.com/stratabuild/strata/internal/image"
	"github.com/stratabuild/strata/internal/layercache"
	"github.com/stratabuild/strata/internal/paths"
	"github.com/stratabuild/strata/internal/recipe"
)

// Holds shared state while executing one recipe.
//
// The cache key chains from the base image digest through every step's
// declaration and context inputs, so the key at any point identifies the
// exact filesystem state of the image so far. The root filesystem is only
// staged on disk once a step actually has to execute; a fully cached build
// never touches it.
type builder struct {
	store      *image.Store
	cache      *layercache.Cache
	contextDir string
	base       v1.Image
	state      *stepState
	key        digest.Digest
	layers     []string // Committed layer tarball paths, in recipe order.
	rootfs     string   // Staged image filesystem, empty until materialized.
	scratch    string   // Temp dir for layer tarballs under construction.
	reused     int
	built      int
}

// Creates a builder for one recipe execution.
func newBuilder(store *image.Store, cache *layercache.Cache, contextDir string, base v1.Image, r *recipe.Recipe) (*builder, error) {
	baseDigest, err := base.Digest()
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "strata-build-")
	if err != nil {
		return nil, err
	}

	state := newStepState()
	state.cmd = r.Command
	state.entrypoint = r.Entrypoint

	return &builder{
		store:      store,
		cache:      cache,
		contextDir: contextDir,
		base:       base,
		state:      state,
		key:        baseKey(baseDigest),
		scratch:    scratch,
	}, nil
}

// Removes the builder's temporary directories.
func (b *builder) cleanup() {
	os.RemoveAll(b.scratch)
	if b.rootfs != "" {
		os.RemoveAll(b.rootfs)
	}
}

// Executes a single step, dispatching on its kind.
//
// Copy, run, and user steps produce layers and consult the cache. All
// other kinds only mutate the step state and advance the key chain.
func (b *builder) executeStep(ctx context.Context, step recipe.Step) error {
	switch step.Kind() {
	case recipe.KindCopy:
		return b.executeCopy(step)
	case recipe.KindRun:
		return b.executeRun(ctx, step)
	case recipe.KindUser:
		return b.executeUser(step)
	default:
		b.state.apply(step)
		b.key = stepKey(b.key, step, nil, false)
		return nil
	}
}

// Executes a copy step.
//
// The layer is keyed by the source's content digest, so editing any copied
// file invalidates this layer and everything after it, while leaving
// earlier layers cached.
func (b *builder) executeCopy(step recipe.Step) error {
	op, err := parseCopy(step.Copy, b.state.workdir)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	srcDigest, err := contextDigest(b.contextDir, op.src)
	if err != nil {
		return err
	}

	b.key = stepKey(b.key, step, map[string]digest.Digest{op.src: srcDigest}, false)

	entry, err := b.lookup(b.key)
	if err != nil {
		return err
	}
	if entry != nil {
		return b.commit(entry)
	}

	entry, err = b.buildLayer(b.key, func(w io.Writer) error {
		return copyLayer(b.contextDir, op, w)
	})
	if err != nil {
		return err
	}

	slog.Debug("copy", "src", op.src, "dest", op.dest, "layer", entry.DiffID.Encoded()[:12])
	return b.commit(entry)
}

// Executes a run step.
//
// The layer is keyed by the command and its declared context inputs, so a
// dependency-manifest edit re-executes the install command while an
// unrelated source edit leaves its layer cached. A run step guarded by a
// manifest is skipped when the manifest is absent from the context.
func (b *builder) executeRun(ctx context.Context, step recipe.Step) error {
	inputs := make(map[string]digest.Digest)

	if step.Manifest != "" {
		sum, err := contextDigest(b.contextDir, step.Manifest)
		if errors.Is(err, ErrPathNotFound) {
			slog.Info("manifest absent, skipping step", "manifest", step.Manifest, "command", step.Run)
			b.key = stepKey(b.key, step, nil, true)
			return nil
		}
		if err != nil {
			return err
		}
		inputs[step.Manifest] = sum
	}

	for _, in := range step.Inputs {
		sum, err := contextDigest(b.contextDir, in)
		if err != nil {
			return err
		}
		inputs[in] = sum
	}

	b.key = stepKey(b.key, step, inputs, false)

	entry, err := b.lookup(b.key)
	if err != nil {
		return err
	}
	if entry != nil {
		return b.commit(entry)
	}

	if err := b.materialize(); err != nil {
		return err
	}

	before, err := snapshot(b.rootfs)
	if err != nil {
		return err
	}

	workdir := b.hostPath(b.state.workdir)
	if err := os.MkdirAll(workdir, paths.DefaultDirMode); err != nil {
		return err
	}

	env := append(b.state.environ(), rootfsEnv+"="+b.rootfs)
	slog.Debug("run", "command", step.Run, "shell", b.state.shell, "workdir", b.state.workdir)

	res, err := runCommand(ctx, b.state.shell, step.Run, workdir, env)
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return &CommandError{Command: step.Run, ExitCode: res.exitCode, Stderr: res.stderr}
	}

	after, err := snapshot(b.rootfs)
	if err != nil {
		return err
	}

	entry, err = b.buildLayer(b.key, func(w io.Writer) error {
		return diffLayer(b.rootfs, before, after, w)
	})
	if err != nil {
		return err
	}

	// The staged filesystem already reflects this layer.
	b.layers = append(b.layers, entry.Path)
	return nil
}

// Executes a user step: creates the user in the image filesystem and
// switches the effective identity for everything that follows.
func (b *builder) executeUser(step recipe.Step) error {
	b.key = stepKey(b.key, step, nil, false)

	entry, err := b.lookup(b.key)
	if err != nil {
		return err
	}

	if entry != nil {
		if err := b.commit(entry); err != nil {
			return err
		}
		b.state.apply(step)
		return nil
	}

	if err := b.materialize(); err != nil {
		return err
	}

	before, err := snapshot(b.rootfs)
	if err != nil {
		return err
	}

	if err := createUser(b.rootfs, step.User); err != nil {
		return err
	}

	after, err := snapshot(b.rootfs)
	if err != nil {
		return err
	}

	entry, err = b.buildLayer(b.key, func(w io.Writer) error {
		return diffLayer(b.rootfs, before, after, w)
	})
	if err != nil {
		return err
	}

	b.layers = append(b.layers, entry.Path)
	b.state.apply(step)
	return nil
}

// Looks up a layer in the cache.
//
// Returns nil without error on a miss. A corrupt entry is logged, removed,
// and treated as a miss so the layer is rebuilt rather than failing the
// build.
func (b *builder) lookup(key digest.Digest) (*layercache.Entry, error) {
	entry, err := b.cache.Get(key)
	switch {
	case err == nil:
		b.reused++
		slog.Debug("layer cache hit", "key", key.Encoded()[:12])
		return entry, nil
	case errdefs.IsNotFound(err):
		return nil, nil
	case errors.Is(err, layercache.ErrCorrupt):
		slog.Warn("corrupt cache entry, rebuilding layer", "key", key.Encoded()[:12], "error", err)
		if err := b.cache.Remove(key); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, err
	}
}

// Builds a layer tarball via fn and commits it to the cache under key.
func (b *builder) buildLayer(key digest.Digest, fn func(io.Writer) error) (*layercache.Entry, error) {
	tmp, err := os.CreateTemp(b.scratch, "layer-*.tar")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := fn(tmp); err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	entry, err := b.cache.Put(key, tmp)
	if err != nil {
		return nil, err
	}

	b.built++
	return entry, nil
}

// Appends a committed layer and, when the root filesystem is staged,
// applies it so later run steps observe its contents.
func (b *builder) commit(entry *layercache.Entry) error {
	b.layers = append(b.layers, entry.Path)

	if b.rootfs == "" {
		return nil
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return applyLayer(b.rootfs, f)
}

// Stages the image filesystem on disk: the flattened base plus every layer
// committed so far. A no-op when already staged.
func (b *builder) materialize() error {
	if b.rootfs != "" {
		return nil
	}

	dir, err := os.MkdirTemp("", "strata-rootfs-")
	if err != nil {
		return err
	}

	rc := mutate.Extract(b.base)
	defer rc.Close()
	if err := applyLayer(dir, rc); err != nil {
		os.RemoveAll(dir)
		return err
	}

	for _, layerPath := range b.layers {
		f, err := os.Open(layerPath)
		if err != nil {
			os.RemoveAll(dir)
			return err
		}
		err = applyLayer(dir, f)
		f.Close()
		if err != nil {
			os.RemoveAll(dir)
			return err
		}
	}

	b.rootfs = dir
	slog.Debug("rootfs staged", "path", dir, "layers", len(b.layers))
	return nil
}

// Resolves an absolute in-image path to its location in the staged root.
func (b *builder) hostPath(imgPath string) string {
	return filepath.Join(b.rootfs, filepath.FromSlash(strings.TrimPrefix(imgPath, "/")))
}

// Returns the runtime metadata accumulated from the recipe's steps.
func (b *builder) metadata() image.Metadata {
	meta := image.Metadata{
		Env:          b.state.environ(),
		User:         b.state.user,
		ExposedPorts: b.state.ports,
		Cmd:          b.state.cmd,
		Entrypoint:   b.state.entrypoint,
	}
	if b.state.workdir != defaultWorkdir {
		meta.WorkingDir = b.state.workdir
	}
	return meta
}
