package utils

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrEmptyPath = errors.New("path cannot be empty")

// ResolvePath expands a leading `~` and returns a clean absolute path.
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}

	if strings.HasPrefix(p, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		p = strings.Replace(p, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(p string) error {
	return EnsureDir(filepath.Dir(p))
}

func EnsureDir(p string) error {
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.MkdirAll(p, 0o755)
}

func FileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NormPath converts an OS path to the slash separated form stored in the record table.
// Trailing slashes are removed, except for the root "/".
func NormPath(p string) string {
	p = filepath.ToSlash(p)
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// IsUnder reports whether p equals root or lives below it. Both are slash paths.
func IsUnder(root, p string) bool {
	root, p = NormPath(root), NormPath(p)
	if root == p {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	if root == "" {
		return !strings.HasPrefix(p, "/") && p != ".." && !strings.HasPrefix(p, "../")
	}
	return strings.HasPrefix(p, root+"/")
}

// RelTo returns p relative to root ("" when p is root). ok is false when p is outside root.
func RelTo(root, p string) (rel string, ok bool) {
	root, p = NormPath(root), NormPath(p)
	if !IsUnder(root, p) {
		return "", false
	}
	if root == p {
		return "", true
	}
	switch root {
	case "/":
		return strings.TrimPrefix(p, "/"), true
	case "":
		return p, true
	}
	return strings.TrimPrefix(p, root+"/"), true
}

// JoinSlash joins slash path elements, keeping a leading "/" when root has one.
func JoinSlash(root string, elem ...string) string {
	parts := append([]string{root}, elem...)
	return NormPath(path.Join(parts...))
}
