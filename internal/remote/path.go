package remote

import (
	"path"
	"strings"
)

// Clean normalises a logical path: no leading or trailing slash, no "." or ".."
// elements. The root is the empty string. A backslash is an ordinary name character.
func Clean(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// CleanRoot normalises a user supplied remote root, where a backslash is taken as a
// separator.
func CleanRoot(p string) string {
	return Clean(strings.ReplaceAll(p, "\\", "/"))
}

// Join joins logical path elements and cleans the result.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// Base returns the last element of a logical path.
func Base(p string) string {
	p = Clean(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Dir returns all but the last element of a logical path.
func Dir(p string) string {
	p = Clean(p)
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

// ValidKey reports whether p can name a remote file.
func ValidKey(p string) bool {
	if p == "" || strings.HasSuffix(p, "/") {
		return false
	}
	for _, part := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if part == ".." {
			return false
		}
	}
	return Clean(p) != ""
}
