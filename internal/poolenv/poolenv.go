// Package poolenv resolves the two environment-driven inputs the pool
// needs — where it lives on disk and who is writing to it — exactly
// once per CLI invocation. The core packages (pkg/pool, pkg/normalize,
// pkg/migrate, ...) never read the environment themselves; callers
// resolve these values here and pass them down as explicit parameters
// (spec.md §6 "Environment inputs").
package poolenv

import (
	"os"
	"path/filepath"

	"github.com/autonomous-bits/codepool/internal/config"
)

// Root resolves POOL_ROOT, falling back to
// "<user home>/.codepool" when it is unset or empty.
func Root() (string, error) {
	if root := os.Getenv("POOL_ROOT"); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, config.DefaultPoolDirName), nil
}

// Author resolves the identity recorded on newly created objects:
// USER on Unix-like systems, USERNAME on Windows, falling back to
// "unknown" when neither is set.
func Author() string {
	name := os.Getenv("USER")
	if name == "" {
		name = os.Getenv("USERNAME")
	}
	if name == "" {
		return "unknown"
	}
	return name
}
