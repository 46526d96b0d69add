package build

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCopy(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		workdir string
		want    copyOp
	}{
		{
			name:    "file to current dir",
			spec:    "requirements.txt .",
			workdir: "/app",
			want:    copyOp{src: "requirements.txt", dest: "/app", destIsDir: true},
		},
		{
			name:    "context root to workdir",
			spec:    ". .",
			workdir: "/app",
			want:    copyOp{src: ".", dest: "/app", destIsDir: true},
		},
		{
			name:    "file to absolute path",
			spec:    "config.yml /etc/app/config.yml",
			workdir: "/",
			want:    copyOp{src: "config.yml", dest: "/etc/app/config.yml"},
		},
		{
			name:    "file to directory with trailing slash",
			spec:    "app.py /srv/",
			workdir: "/",
			want:    copyOp{src: "app.py", dest: "/srv", destIsDir: true},
		},
		{
			name:    "relative dest joins workdir",
			spec:    "app.py sub/app.py",
			workdir: "/app",
			want:    copyOp{src: "app.py", dest: "/app/sub/app.py"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCopy(tt.spec, tt.workdir)
			if err != nil {
				t.Fatalf("parseCopy(%q) error: %v", tt.spec, err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(copyOp{})); diff != "" {
				t.Fatalf("copy op mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCopyInvalid(t *testing.T) {
	for _, spec := range []string{"", "onlysource", "a b c"} {
		t.Run(spec, func(t *testing.T) {
			if _, err := parseCopy(spec, "/"); err == nil {
				t.Fatalf("parseCopy(%q) succeeded, want error", spec)
			}
		})
	}
}

func TestContextPathEscape(t *testing.T) {
	dir := t.TempDir()
	for _, src := range []string{"..", "../outside", "a/../../b"} {
		t.Run(src, func(t *testing.T) {
			_, err := contextPath(dir, src)
			if !errors.Is(err, ErrPathNotFound) {
				t.Fatalf("contextPath(%q) error = %v, want ErrPathNotFound", src, err)
			}
		})
	}
}

func TestImagePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/app", "app"},
		{"/etc/app/config.yml", "etc/app/config.yml"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := imagePath(tt.in); got != tt.want {
			t.Errorf("imagePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
