package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manager prepares per-run workspaces. With sandboxing enabled every run gets
// an exclusive, disposable copy of the source repository; nothing outside the
// action executor ever writes to it.
type Manager struct {
	enabled  bool
	root     string
	excluded map[string]struct{}
}

func NewManager(enabled bool, root string, excludeDirs []string) *Manager {
	excluded := make(map[string]struct{}, len(excludeDirs))
	for _, name := range excludeDirs {
		name = strings.TrimSpace(name)
		if name != "" {
			excluded[name] = struct{}{}
		}
	}
	return &Manager{enabled: enabled, root: root, excluded: excluded}
}

func (m *Manager) Enabled() bool { return m.enabled }

// PrepareWorkspace returns the workspace path for the run. When sandboxing is
// disabled it resolves (and creates, if absent) the repo path itself. When
// enabled it removes any stale sandbox left over for the run id and copies
// the repository into a fresh one. Copy failure is fatal to run creation.
func (m *Manager) PrepareWorkspace(runID string, repoPath string) (string, error) {
	source, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolve repo path %s: %w", repoPath, err)
	}
	if !m.enabled {
		if err := os.MkdirAll(source, 0o755); err != nil {
			return "", fmt.Errorf("create repo path %s: %w", source, err)
		}
		return source, nil
	}

	root, err := filepath.Abs(m.root)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root %s: %w", m.root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox root %s: %w", root, err)
	}

	workspace := filepath.Join(root, runID)
	if err := os.RemoveAll(workspace); err != nil {
		return "", fmt.Errorf("remove stale sandbox %s: %w", workspace, err)
	}
	if err := m.copyTree(source, workspace); err != nil {
		return "", fmt.Errorf("copy repo into sandbox %s: %w", workspace, err)
	}
	return workspace, nil
}

func (m *Manager) copyTree(source string, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", source)
	}
	if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, skip := m.excluded[entry.Name()]; skip {
			continue
		}
		sourcePath := filepath.Join(source, entry.Name())
		destPath := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := m.copyTree(sourcePath, destPath); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			// symlinks and devices are never copied into a sandbox
			continue
		}
		if err := copyFile(sourcePath, destPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(source string, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
