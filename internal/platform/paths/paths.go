package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	DefaultUnixDataRoot    = "/var/lib/ts-alarms"
	DefaultUnixConfigPath  = "/etc/ts-alarms/alarmd.yaml"
	DefaultWindowsDataRoot = `C:\ProgramData\TechnoSupport\Alarms`

	configFile = "alarmd.yaml"
	spoolDir   = "spool"
)

// ResolveDataRoot returns the directory for mutable service state.
func ResolveDataRoot() string {
	if root := os.Getenv("ALARMD_DATA_ROOT"); root != "" {
		return root
	}
	if runtime.GOOS == "windows" {
		return DefaultWindowsDataRoot
	}
	return DefaultUnixDataRoot
}

// ResolveConfigPath returns customPath, or the platform default config file.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(ResolveDataRoot(), "config", configFile)
	}
	return DefaultUnixConfigPath
}

// ResolveSpoolDir places the journal spool. Empty selects <data root>/spool,
// relative paths are kept inside the data root.
func ResolveSpoolDir(dir string) (string, error) {
	switch {
	case dir == "":
		return filepath.Join(ResolveDataRoot(), spoolDir), nil
	case filepath.IsAbs(dir):
		return filepath.Clean(dir), nil
	default:
		return SafeJoin(ResolveDataRoot(), dir)
	}
}

// EnsureDirs creates the standard data root subdirectories.
func EnsureDirs() error {
	dataRoot := ResolveDataRoot()
	for _, sub := range []string{"config", spoolDir} {
		path := filepath.Join(dataRoot, sub)
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within base.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path or UNC not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
