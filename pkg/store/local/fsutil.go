// Package local implements the five adapter capabilities over a plain
// directory tree: one JSON file per entity, a per-store mutex serializing
// read-modify-write cycles, and unique-suffix temp files committed by rename.
// Safe across concurrent callers in one process; not across processes.
package local

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFileAtomic commits data to path via a uniquely named temp file in the
// same directory, so concurrent writers never observe torn content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

// writeJSONAtomic marshals v and commits it atomically.
func writeJSONAtomic(path string, v any, perm os.FileMode) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data, perm)
}

// readJSON loads path into v. Returns os.ErrNotExist unwrapped-checkable via
// os.IsNotExist for missing files.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // paths are store-derived, not caller input
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ensureDir creates the store directory if needed.
func ensureDir(dir string) error {
	//nolint:gosec // G301: 0755 is intentional for the shared data directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ensure store dir: %w", err)
	}
	return nil
}

// keyFile maps an arbitrary entity key to a stable, filesystem-safe name.
func keyFile(prefix, key string) string {
	sum := sha256.Sum256([]byte(key))
	return prefix + "_" + hex.EncodeToString(sum[:8]) + ".json"
}
