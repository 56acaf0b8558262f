package node

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ReplaceInConfig substitutes every occurrence of from with to in one of the
// member's config files. The member must be stopped; the change takes effect
// on the next start. Zero matches is not an error.
func (h *Handle) ReplaceInConfig(file, from, to string) (int, error) {
	if from == "" {
		return 0, ErrEmptyPattern
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StateStopped || h.alive() {
		return 0, fmt.Errorf("%w: %s is %s", ErrNotStopped, h.spec.Name, h.State())
	}

	path, err := h.configPath(file)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	n := strings.Count(string(data), from)
	if n == 0 {
		return 0, nil
	}

	replaced := strings.ReplaceAll(string(data), from, to)
	if err := os.WriteFile(path, []byte(replaced), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to write config %s: %w", path, err)
	}

	h.log.Info("config rewritten", "file", file, "from", from, "to", to, "count", n)
	return n, nil
}

// ConfigDrift lists the config aliases whose content differs from the
// snapshot taken when the handle was created.
func (h *Handle) ConfigDrift() ([]string, error) {
	var drifted []string
	for alias, want := range h.snapshots {
		got, err := os.ReadFile(h.spec.ConfigFiles[alias])
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", alias, err)
		}
		if !bytes.Equal(got, want) {
			drifted = append(drifted, alias)
		}
	}

	slices.Sort(drifted)
	return drifted, nil
}

// RestoreConfig writes every config snapshot back to disk.
func (h *Handle) RestoreConfig() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for alias, data := range h.snapshots {
		path := h.spec.ConfigFiles[alias]
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat config %s: %w", path, err)
		}
		if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to restore config %s: %w", path, err)
		}
	}

	return nil
}

// configPath resolves an alias, or an absolute path registered for the member.
func (h *Handle) configPath(file string) (string, error) {
	if path, ok := h.spec.ConfigFiles[file]; ok {
		return path, nil
	}

	for _, path := range h.spec.ConfigFiles {
		if filepath.Clean(path) == filepath.Clean(file) {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s has no config %q", ErrUnknownConfig, h.spec.Name, file)
}
