package build

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateUser(t *testing.T) {
	root := t.TempDir()

	if err := createUser(root, "appuser"); err != nil {
		t.Fatalf("createUser: %v", err)
	}

	passwd, err := os.ReadFile(filepath.Join(root, "etc", "passwd"))
	if err != nil {
		t.Fatalf("reading passwd: %v", err)
	}
	want := "appuser:x:1000:1000::/home/appuser:/bin/sh\n"
	if !strings.Contains(string(passwd), want) {
		t.Fatalf("passwd = %q, want entry %q", passwd, want)
	}

	group, err := os.ReadFile(filepath.Join(root, "etc", "group"))
	if err != nil {
		t.Fatalf("reading group: %v", err)
	}
	if !strings.Contains(string(group), "appuser:x:1000:\n") {
		t.Fatalf("group = %q, want appuser entry", group)
	}

	info, err := os.Stat(filepath.Join(root, "home", "appuser"))
	if err != nil || !info.IsDir() {
		t.Fatalf("home directory missing: %v", err)
	}
}

func TestCreateUserExists(t *testing.T) {
	root := t.TempDir()

	if err := createUser(root, "appuser"); err != nil {
		t.Fatalf("createUser: %v", err)
	}
	err := createUser(root, "appuser")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("second createUser error = %v, want ErrUserExists", err)
	}
}

func TestCreateUserSkipsTakenIDs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "etc/passwd", "root:x:0:0:root:/root:/bin/sh\nexisting:x:1000:1000::/home/existing:/bin/sh\n")

	if err := createUser(root, "appuser"); err != nil {
		t.Fatalf("createUser: %v", err)
	}

	passwd, err := os.ReadFile(filepath.Join(root, "etc", "passwd"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(passwd), "appuser:x:1001:1001:") {
		t.Fatalf("passwd = %q, want appuser at uid 1001", passwd)
	}
}
