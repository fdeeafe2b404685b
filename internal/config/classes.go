package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
)

// DefaultClassNames is used when no classes file exists.
var DefaultClassNames = []string{"blue_finger", "clubbing", "healthy"}

// Errors for an unusable classes file.
var (
	ErrNoClassNames       = errors.New("class list is empty")
	ErrDuplicateClassName = errors.New("duplicate class name")
)

// LoadClassNames reads an ordered JSON array of class names. A missing
// file yields the defaults; a file that exists but is unreadable,
// malformed or empty is an error.
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return slices.Clone(DefaultClassNames), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read classes: %w", err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse classes %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoClassNames)
	}
	seen := make(map[string]int, len(names))
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("%s: class %d has an empty name", path, i)
		}
		if j, dup := seen[n]; dup {
			return nil, fmt.Errorf("%s: %w: %q at %d and %d", path, ErrDuplicateClassName, n, j, i)
		}
		seen[n] = i
	}
	return names, nil
}
