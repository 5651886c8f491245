// Package sourcekey builds and resolves canonical source keys.
//
// A canonical source key identifies a logical document independent of the
// absolute path it was scanned under:
//
//	<scope>:<identity>:<relative_path>
//
// where scope is "client" or "server", identity is the executor ID (client
// scope) or the root ID (server scope), and relative_path is the normalized
// path of the document under its watched root. Two clients watching the same
// folder produce distinct keys; two scans of the same server root under
// different mount points produce the same key.
package sourcekey

import (
	"runtime"
	"strings"
)

// Execution scopes. A watched root is owned either by a single desktop
// client or by the server-side scheduler, never both.
const (
	ScopeClient = "client"
	ScopeServer = "server"
)

// Key is a resolved canonical source key.
type Key struct {
	Scope        string
	Identity     string
	RelativePath string
}

// String reassembles the key in wire form.
func (k Key) String() string {
	return k.Scope + ":" + k.Identity + ":" + k.RelativePath
}

// ValidScope reports whether s is a known execution scope.
func ValidScope(s string) bool {
	return s == ScopeClient || s == ScopeServer
}

// NormalizePath canonicalizes an absolute folder or file path: backslashes
// become forward slashes, duplicate slashes collapse, a trailing slash is
// stripped (except for the bare root "/"). Case is folded only on Windows,
// where paths are case-insensitive; on other platforms case is significant
// and preserved.
func NormalizePath(p string) string {
	return normalizePath(p, runtime.GOOS)
}

func normalizePath(p, goos string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if goos == "windows" {
		p = strings.ToLower(p)
	}
	return p
}

// NormalizeRelative canonicalizes a path relative to a watched root. The
// result always has a leading slash and never a trailing one; the bare root
// is "/".
func NormalizeRelative(rel string) string {
	rel = strings.ReplaceAll(rel, `\`, "/")
	for strings.Contains(rel, "//") {
		rel = strings.ReplaceAll(rel, "//", "/")
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	if len(rel) > 1 {
		rel = strings.TrimSuffix(rel, "/")
	}
	return rel
}

// Build assembles a canonical source key from its parts. The relative path
// is normalized; scope and identity are used as given.
func Build(scope, identity, relativePath string) string {
	return scope + ":" + identity + ":" + NormalizeRelative(relativePath)
}

// Resolve parses a canonical source key. It returns nil and false when the
// key is malformed: fewer than two separators, an unknown scope, or an empty
// identity. The relative path segment may itself contain colons.
func Resolve(key string) (*Key, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return nil, false
	}
	if !ValidScope(parts[0]) || parts[1] == "" {
		return nil, false
	}
	return &Key{
		Scope:        parts[0],
		Identity:     parts[1],
		RelativePath: NormalizeRelative(parts[2]),
	}, true
}

// RelativePath derives the normalized path of absolute under root. Both
// inputs are normalized first. When the paths are equal the result is "/";
// when absolute does not live under root the normalized absolute path is
// returned unchanged.
func RelativePath(root, absolute string) string {
	nroot := NormalizePath(root)
	nabs := NormalizePath(absolute)

	if nabs == nroot {
		return "/"
	}
	prefix := nroot
	if prefix != "/" {
		prefix += "/"
	}
	if strings.HasPrefix(nabs, prefix) {
		return "/" + strings.TrimPrefix(nabs, prefix)
	}
	return nabs
}
