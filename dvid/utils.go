package dvid

import (
	"fmt"
	"path/filepath"
)

// Kilo, Mega, and Giga are byte multipliers.
const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns an absolute path for a path that may be relative to the given
// directory, e.g., the directory of a configuration file.
func ConvertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	abs, err := filepath.Abs(filepath.Join(dir, path))
	if err != nil {
		return "", fmt.Errorf("can't make %q absolute relative to %q: %v", path, dir, err)
	}
	return abs, nil
}
