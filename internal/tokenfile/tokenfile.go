// Package tokenfile is the local credential store. A token file holds one
// OAuth2 token, the scope set it was granted for, and optional cached
// metadata (account email, display name). It is a leaf package imported by
// auth/ and the CLI.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// Sentinel errors for store access. Callers match with errors.Is.
var (
	ErrNotFound       = errors.New("tokenfile: no credential stored")
	ErrCorruptStore   = errors.New("tokenfile: credential store unreadable")
	ErrPersistFailure = errors.New("tokenfile: credential store not written")
)

// File is the on-disk format for token files.
type File struct {
	Token  *oauth2.Token     `json:"token"`
	Scopes []string          `json:"scopes,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Covers reports whether the stored scope set includes every scope in want.
func (f *File) Covers(want []string) bool {
	for _, s := range want {
		if !slices.Contains(f.Scopes, s) {
			return false
		}
	}

	return true
}

// Load reads a saved token file from disk. A missing file returns
// ErrNotFound; an unreadable or undecodable file, or one without a token,
// returns ErrCorruptStore.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCorruptStore, path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrCorruptStore, path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("%w: %s missing token field (re-login required)", ErrCorruptStore, path)
	}

	return &tf, nil
}

// Save writes a token file to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs token values. Every failure wraps
// ErrPersistFailure.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return fmt.Errorf("%w: nothing to save", ErrPersistFailure)
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrPersistFailure, err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("%w: creating directory %s: %w", ErrPersistFailure, dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrPersistFailure, err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: setting permissions: %w", ErrPersistFailure, err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing: %w", ErrPersistFailure, err)
	}

	// Flush before rename so a power loss cannot leave a partial file at path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing: %w", ErrPersistFailure, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing: %w", ErrPersistFailure, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming: %w", ErrPersistFailure, err)
	}

	success = true

	return nil
}

// MergeMeta reads the current token file, merges new metadata keys (new
// keys overwrite existing), and saves.
func MergeMeta(path string, meta map[string]string) error {
	tf, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading token for metadata update: %w", err)
	}

	if tf.Meta == nil {
		tf.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(tf.Meta, meta)

	return Save(path, tf)
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}
