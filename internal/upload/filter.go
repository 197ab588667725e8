package upload

import (
	"path/filepath"
	"strings"
)

// MatchFilters reports whether name passes any of the glob patterns.
// Matching ignores case, and "*.*" or an empty list accepts every name.
func MatchFilters(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	lower := strings.ToLower(filepath.Base(name))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "*.*" || p == "*" {
			return true
		}
		if ok, err := filepath.Match(strings.ToLower(p), lower); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidateFilters rejects malformed patterns before a batch starts.
func ValidateFilters(patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(strings.ToLower(strings.TrimSpace(p)), ""); err != nil {
			return err
		}
	}
	return nil
}
