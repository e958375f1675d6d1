package metacache

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Root is the normalized path of the drive root.
const Root = "/"

// Clean normalizes a drive path: one leading slash, no trailing slash,
// "." and ".." resolved, duplicate separators collapsed, Unicode NFC.
// Backslashes are treated as separators.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = norm.NFC.String(p)

	return path.Clean("/" + p)
}

// Parent returns the parent directory of a cleaned path. The parent of Root is Root.
func Parent(p string) string {
	return path.Dir(p)
}

// Base returns the final element of a cleaned path, or "" for Root.
func Base(p string) string {
	if p == Root {
		return ""
	}

	return path.Base(p)
}

// Join appends name to a cleaned directory path.
func Join(dir, name string) string {
	if dir == Root {
		return "/" + name
	}

	return dir + "/" + name
}

// Segments splits a cleaned path into its names. Root has none.
func Segments(p string) []string {
	if p == Root {
		return nil
	}

	return strings.Split(p[1:], "/")
}

// IsWithin reports whether p is dir itself or lies beneath it.
func IsWithin(p, dir string) bool {
	if dir == Root || p == dir {
		return true
	}

	return strings.HasPrefix(p, dir+"/")
}
