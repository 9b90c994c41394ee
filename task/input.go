package task

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"ffclip/clip"
)

// remoteSchemes are the network sources ffmpeg may open on behalf of a caller.
var remoteSchemes = map[string]bool{"http": true, "https": true}

// checkInput admits http(s) URLs, and local paths or file:// URLs that
// resolve inside one of roots.
func checkInput(input string, roots []string) error {
	path := input
	if u, err := url.Parse(input); err == nil && len(u.Scheme) > 1 {
		scheme := strings.ToLower(u.Scheme)
		switch {
		case remoteSchemes[scheme]:
			return nil
		case scheme == "file":
			path = u.Path
		default:
			return &clip.ValidationError{Field: "input", Reason: fmt.Sprintf("scheme %q is not allowed", u.Scheme)}
		}
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return &clip.ValidationError{Field: "input", Reason: "is not a valid path"}
	}
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		r, err := resolvePath(root)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(r, resolved); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &clip.ValidationError{Field: "input", Reason: "local path is outside the allowed input roots"}
}

// resolvePath makes p absolute and follows symlinks in its existing
// parent directories.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	dir, base := filepath.Split(abs)
	if dir == abs || dir == "" {
		return abs, nil
	}
	parent, err := resolvePath(filepath.Clean(dir))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}
