package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// InstallDir returns the directory containing the running executable, with
// symlinks resolved, so a supervisor linked from elsewhere still finds its
// worker script and packages next to the real binary.
func InstallDir() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return installDirFrom(exePath)
}

func installDirFrom(exePath string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(exePath); err == nil {
		exePath = resolved
	}
	abs, err := filepath.Abs(exePath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for %s: %w", exePath, err)
	}
	return filepath.Dir(abs), nil
}

// EnsureDir creates dir (and parents) if it does not exist.
func EnsureDir(dir string, perm os.FileMode) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access %s: %w", dir, err)
	}
	return os.MkdirAll(dir, perm)
}
