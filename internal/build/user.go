package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stratabuild/strata/internal/paths"
)

// First identifier considered for new users and groups. Identifiers below
// this are reserved for system accounts in the base image.
const firstUserID = 1000

// Adds a non-privileged user to the image filesystem.
//
// Appends entries to etc/passwd and etc/group and creates the home
// directory. The identifier is the lowest free one at or above 1000, which
// is deterministic for a given base image. Returns an error wrapping
// [ErrUserExists] when the name is already present in etc/passwd.
func createUser(root, name string) error {
	passwdPath := filepath.Join(root, "etc", "passwd")
	groupPath := filepath.Join(root, "etc", "group")

	users, err := readColonFile(passwdPath)
	if err != nil {
		return fmt.Errorf("create user %s: %w", name, err)
	}

	uid := firstUserID
	for _, fields := range users {
		if fields[0] == name {
			return fmt.Errorf("%w: %s", ErrUserExists, name)
		}
		if len(fields) < 3 {
			continue
		}
		if id, err := strconv.Atoi(fields[2]); err == nil && id >= uid && id < 65534 {
			uid = id + 1
		}
	}

	home := "/home/" + name
	passwdLine := fmt.Sprintf("%s:x:%d:%d::%s:/bin/sh\n", name, uid, uid, home)
	groupLine := fmt.Sprintf("%s:x:%d:\n", name, uid)

	if err := appendLine(passwdPath, passwdLine); err != nil {
		return fmt.Errorf("create user %s: %w", name, err)
	}
	if err := appendLine(groupPath, groupLine); err != nil {
		return fmt.Errorf("create user %s: %w", name, err)
	}

	homeDir := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(home, "/")))
	if err := os.MkdirAll(homeDir, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("create user %s: %w", name, err)
	}

	return nil
}

// Reads a colon-separated database file (passwd, group) into records.
// A missing file reads as empty.
func readColonFile(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records [][]string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		records = append(records, strings.Split(line, ":"))
	}
	return records, nil
}

// Appends a line to a file, creating it and its parent directory if needed.
func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, paths.DefaultFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return err
	}
	return nil
}
