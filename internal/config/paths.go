package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// AppDirName names the engine's workspace directory across OS data dirs.
const AppDirName = "martingale-chaser"

// ResolveConfigPath prefers configs/config.yaml under the working directory,
// and falls back to the OS-standard config dir.
func ResolveConfigPath() string {
	local := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(local); err == nil {
		return local
	}

	if root, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(root, AppDirName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}

	return local
}

// WorkspaceDir returns the directory the engine stores its lock file under,
// and its IPC log database when no ipc.sqlite_path is configured.
func WorkspaceDir() (string, error) {
	root, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(root, "."+AppDirName), nil
}

// EnsureDir creates dir (and any parents) with mode 0755.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// CreateLockFile creates an exclusive lock file under workDir, failing fast
// if another instance already holds it.
func CreateLockFile(workDir string) (unlock func(), err error) {
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("config: another instance is already running (%s)", lockPath)
		}
		return nil, fmt.Errorf("config: create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}
