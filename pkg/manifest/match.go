package manifest

import (
	"path"
	"strings"
)

// Match reports whether the repo identity (owner/name) matches a glob
// pattern. On top of path.Match syntax, `**` matches any number of
// segments, including zero.
func Match(pattern, repo string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(repo, "/"))
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], parts) {
			return true
		}
		return len(parts) > 0 && matchSegments(pat, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}
