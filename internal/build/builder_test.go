package build

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"

	"github.com/stratabuild/strata/internal/image"
	"github.com/stratabuild/strata/internal/layercache"
	"github.com/stratabuild/strata/internal/recipe"
)

func testBuild(t *testing.T, r *recipe.Recipe, contextDir string, opts Options) (*Result, error) {
	t.Helper()

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	opts.Recipe = r
	opts.Context = contextDir
	return Run(context.Background(), store, cache, opts)
}

// Reads the flattened filesystem of an image into path -> content.
func imageFiles(t *testing.T, img v1.Image) map[string]string {
	t.Helper()

	files := make(map[string]string)
	rc := mutate.Extract(img)
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files
		}
		if err != nil {
			t.Fatalf("reading image filesystem: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading %s: %v", hdr.Name, err)
		}
		files[strings.TrimPrefix(hdr.Name, "/")] = string(data)
	}
}

func TestRunScenario(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "requirements.txt", "flask==3.0\n")
	writeFile(t, contextDir, "app.py", "print('hi')\n")

	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{Env: map[string]string{"GREETING": "hello"}},
			{Workdir: "/app"},
			{Copy: "requirements.txt ."},
			{Run: "cp requirements.txt installed.txt", Manifest: "requirements.txt"},
			{Copy: ". ."},
			{Run: `printf '%s\n' "$GREETING" > greeting.txt`},
			{User: "appuser"},
			{Expose: 8000},
			{Command: []string{"./app"}},
		},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	res, err := Run(context.Background(), store, cache, Options{
		Recipe:  r,
		Context: contextDir,
		Output:  out,
		Tag:     "app:latest",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.LayersBuilt != 5 || res.LayersReused != 0 {
		t.Fatalf("built %d reused %d, want 5 built 0 reused", res.LayersBuilt, res.LayersReused)
	}
	if res.Path != filepath.Join(out, image.ExportFilename) {
		t.Fatalf("export path = %q", res.Path)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatalf("exported archive missing: %v", err)
	}

	img, err := store.Resolve("app:latest")
	if err != nil {
		t.Fatalf("resolving saved image: %v", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if cfg.Config.User != "appuser" {
		t.Errorf("user = %q, want appuser", cfg.Config.User)
	}
	if cfg.Config.WorkingDir != "/app" {
		t.Errorf("workdir = %q, want /app", cfg.Config.WorkingDir)
	}
	if _, ok := cfg.Config.ExposedPorts["8000/tcp"]; !ok {
		t.Errorf("exposed ports = %v, want 8000/tcp", cfg.Config.ExposedPorts)
	}
	if diff := cmp.Diff([]string{"./app"}, cfg.Config.Cmd); diff != "" {
		t.Errorf("cmd mismatch (-want +got):\n%s", diff)
	}
	var hasGreeting bool
	for _, e := range cfg.Config.Env {
		if e == "GREETING=hello" {
			hasGreeting = true
		}
	}
	if !hasGreeting {
		t.Errorf("env = %v, want GREETING=hello", cfg.Config.Env)
	}

	files := imageFiles(t, img)
	if files["app/installed.txt"] != "flask==3.0\n" {
		t.Errorf("app/installed.txt = %q", files["app/installed.txt"])
	}
	if files["app/greeting.txt"] != "hello\n" {
		t.Errorf("app/greeting.txt = %q", files["app/greeting.txt"])
	}
	if !strings.Contains(files["etc/passwd"], "appuser:x:1000:") {
		t.Errorf("etc/passwd = %q, want appuser entry", files["etc/passwd"])
	}
}

func TestRunIdempotent(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "requirements.txt", "flask==3.0\n")
	writeFile(t, contextDir, "app.py", "print('hi')\n")

	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{Workdir: "/app"},
			{Copy: "requirements.txt ."},
			{Run: "cp requirements.txt installed.txt", Manifest: "requirements.txt"},
			{Copy: ". ."},
		},
		Command: []string{"./app"},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Recipe: r, Context: contextDir}

	first, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	if first.Digest != second.Digest {
		t.Fatalf("rebuild digest %s differs from %s", second.Digest, first.Digest)
	}
	if second.LayersBuilt != 0 || second.LayersReused != 3 {
		t.Fatalf("rebuild built %d reused %d, want 0 built 3 reused", second.LayersBuilt, second.LayersReused)
	}
}

func TestSourceChangeKeepsInstallLayer(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "requirements.txt", "flask==3.0\n")
	writeFile(t, contextDir, "app.py", "print('v1')\n")

	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{Workdir: "/app"},
			{Copy: "requirements.txt ."},
			{Run: "cp requirements.txt installed.txt", Manifest: "requirements.txt"},
			{Copy: ". ."},
		},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Recipe: r, Context: contextDir}

	if _, err := Run(context.Background(), store, cache, opts); err != nil {
		t.Fatalf("first build: %v", err)
	}

	writeFile(t, contextDir, "app.py", "print('v2')\n")
	res, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	// The manifest copy and the install command stay cached; only the
	// source copy re-runs.
	if res.LayersReused != 2 || res.LayersBuilt != 1 {
		t.Fatalf("rebuild built %d reused %d, want 1 built 2 reused", res.LayersBuilt, res.LayersReused)
	}
}

func TestManifestChangeInvalidatesInstall(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "requirements.txt", "flask==3.0\n")
	writeFile(t, contextDir, "app.py", "print('hi')\n")

	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{Workdir: "/app"},
			{Copy: "requirements.txt ."},
			{Run: "cp requirements.txt installed.txt", Manifest: "requirements.txt"},
			{Copy: ". ."},
		},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Recipe: r, Context: contextDir}

	if _, err := Run(context.Background(), store, cache, opts); err != nil {
		t.Fatalf("first build: %v", err)
	}

	writeFile(t, contextDir, "requirements.txt", "flask==3.1\n")
	res, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if res.LayersReused != 0 || res.LayersBuilt != 3 {
		t.Fatalf("rebuild built %d reused %d, want 3 built 0 reused", res.LayersBuilt, res.LayersReused)
	}
}

func TestManifestAbsentSkipsStep(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "app.py", "print('hi')\n")

	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{Workdir: "/app"},
			{Run: "cp requirements.txt installed.txt", Manifest: "requirements.txt"},
			{Copy: ". ."},
		},
		Command: []string{"./app"},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	res, err := Run(context.Background(), store, cache, Options{
		Recipe:  r,
		Context: contextDir,
		Tag:     "app:latest",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.LayersBuilt != 1 {
		t.Fatalf("built %d layers, want 1 (guarded step skipped)", res.LayersBuilt)
	}

	img, err := store.Resolve("app:latest")
	if err != nil {
		t.Fatal(err)
	}
	files := imageFiles(t, img)
	if _, ok := files["app/installed.txt"]; ok {
		t.Fatal("guarded command ran despite absent manifest")
	}
	if files["app/app.py"] != "print('hi')\n" {
		t.Fatalf("app/app.py = %q", files["app/app.py"])
	}
}

func TestRunBaseNotFound(t *testing.T) {
	r := &recipe.Recipe{From: "no-such-image:latest"}

	_, err := testBuild(t, r, t.TempDir(), Options{})
	if !errors.Is(err, ErrBaseNotFound) {
		t.Fatalf("error = %v, want ErrBaseNotFound", err)
	}
}

func TestRunCopyPathNotFound(t *testing.T) {
	r := &recipe.Recipe{
		From:  image.ScratchRef,
		Steps: []recipe.Step{{Copy: "missing.txt ."}},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = Run(context.Background(), store, cache, Options{
		Recipe:  r,
		Context: t.TempDir(),
		Tag:     "app:latest",
	})
	if !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("error = %v, want ErrPathNotFound", err)
	}
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("error = %v, want ErrBuild", err)
	}

	// Nothing was saved for the failed build.
	if _, err := store.Resolve("app:latest"); !errdefs.IsNotFound(err) {
		t.Fatalf("resolve after failed build = %v, want not found", err)
	}
}

func TestRunCommandFailed(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "app.py", "print('hi')\n")

	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{Copy: "app.py /srv/"},
			{Run: "echo boom >&2; exit 7"},
		},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Recipe: r, Context: contextDir}

	_, err = Run(context.Background(), store, cache, opts)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("error = %v, want ErrCommandFailed", err)
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error %v does not unwrap to CommandError", err)
	}
	if cmdErr.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Stderr, "boom") {
		t.Fatalf("stderr = %q, want to contain boom", cmdErr.Stderr)
	}
	if ExitCode(err) != 7 {
		t.Fatalf("ExitCode = %d, want 7", ExitCode(err))
	}

	// The copy layer committed before the failure survives for the next
	// attempt.
	r.Steps[1] = recipe.Step{Run: "true"}
	res, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if res.LayersReused != 1 {
		t.Fatalf("rebuild reused %d layers, want 1", res.LayersReused)
	}
}

func TestRunUserExists(t *testing.T) {
	r := &recipe.Recipe{
		From: image.ScratchRef,
		Steps: []recipe.Step{
			{User: "appuser"},
			{User: "appuser"},
		},
	}

	_, err := testBuild(t, r, t.TempDir(), Options{})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("error = %v, want ErrUserExists", err)
	}
}

func TestRunCommandOverride(t *testing.T) {
	contextDir := t.TempDir()

	r := &recipe.Recipe{
		From:    image.ScratchRef,
		Command: []string{"./app"},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache, err := layercache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = Run(context.Background(), store, cache, Options{
		Recipe:  r,
		Context: contextDir,
		Tag:     "app:latest",
		Command: []string{"./debug", "--trace"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	img, err := store.Resolve("app:latest")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"./debug", "--trace"}, cfg.Config.Cmd); diff != "" {
		t.Fatalf("cmd mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCorruptCacheEntryRebuilt(t *testing.T) {
	contextDir := t.TempDir()
	writeFile(t, contextDir, "app.py", "print('hi')\n")

	r := &recipe.Recipe{
		From:  image.ScratchRef,
		Steps: []recipe.Step{{Copy: "app.py /srv/"}},
	}

	store, err := image.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cacheDir := t.TempDir()
	cache, err := layercache.Open(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{Recipe: r, Context: contextDir}

	first, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}

	// Flip bytes in the cached layer so its digest no longer matches.
	tars, err := filepath.Glob(filepath.Join(cacheDir, "*.tar"))
	if err != nil || len(tars) != 1 {
		t.Fatalf("cache layers = %v (err %v), want exactly one", tars, err)
	}
	if err := os.WriteFile(tars[0], []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := Run(context.Background(), store, cache, opts)
	if err != nil {
		t.Fatalf("rebuild with corrupt cache: %v", err)
	}
	if second.LayersBuilt != 1 || second.LayersReused != 0 {
		t.Fatalf("rebuild built %d reused %d, want 1 built 0 reused", second.LayersBuilt, second.LayersReused)
	}
	if first.Digest != second.Digest {
		t.Fatalf("rebuild digest %s differs from %s", second.Digest, first.Digest)
	}
}
