// Package cache manages the persistent firmware cache: one flat directory
// per release tag or CI artifact, holding the full set of flashable images.
//
// Entries are written through a Tx into a staging directory and renamed into
// place on Commit, so an entry directory is either complete or absent.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Image file names of a complete entry, in flashing order.
const (
	Bootloader     = "bootloader.bin"
	PartitionTable = "partition-table.bin"
	OTAData        = "ota_data_initial.bin"
	Application    = "ruuvi_gateway_esp.bin"
	FilesystemGWUI = "fatfs_gwui.bin"
	FilesystemNRF  = "fatfs_nrf52.bin"
)

// RequiredFiles is the file set every complete entry contains.
var RequiredFiles = []string{
	Bootloader,
	PartitionTable,
	OTAData,
	Application,
	FilesystemGWUI,
	FilesystemNRF,
}

const stagingPrefix = ".staging-"

// Store is a releases directory.
type Store struct {
	root string
	log  *slog.Logger
}

// Open creates root if needed and removes staging directories left behind by
// interrupted runs.
func Open(root string, log *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve releases directory: %w", err)
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		log.Info("Creating directory", "path", abs)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create releases directory: %w", err)
	}
	s := &Store{root: abs, log: log}
	s.sweep()
	return s, nil
}

// Root is the absolute releases directory.
func (s *Store) Root() string { return s.root }

// Path is the entry directory for key.
func (s *Store) Path(key string) string { return filepath.Join(s.root, key) }

// Missing lists the required files absent from the entry for key. A missing
// entry directory reports every file.
func (s *Store) Missing(key string) []string {
	return missingIn(s.Path(key))
}

// Complete reports whether the entry for key holds every required file.
func (s *Store) Complete(key string) bool {
	return len(s.Missing(key)) == 0
}

// Exists reports whether a directory for key exists, complete or not.
func (s *Store) Exists(key string) bool {
	fi, err := os.Stat(s.Path(key))
	return err == nil && fi.IsDir()
}

func missingIn(dir string) []string {
	var missing []string
	for _, name := range RequiredFiles {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !fi.Mode().IsRegular() {
			missing = append(missing, name)
		}
	}
	return missing
}

func (s *Store) sweep() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), stagingPrefix) {
			p := filepath.Join(s.root, e.Name())
			s.log.Debug("Removing stale staging directory", "path", p)
			_ = os.RemoveAll(p)
		}
	}
}

// IncompleteEntryError is returned by Commit when staged files are missing.
type IncompleteEntryError struct {
	Key     string
	Missing []string
}

func (e *IncompleteEntryError) Error() string {
	return fmt.Sprintf("cache entry %s is incomplete, missing: %s", e.Key, strings.Join(e.Missing, ", "))
}

// Tx stages one entry. Rollback is safe to defer; it is a no-op once the
// entry has been committed.
type Tx struct {
	store   *Store
	key     string
	dir     string
	settled bool
}

// Begin starts staging the entry for key.
func (s *Store) Begin(key string) (*Tx, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return nil, fmt.Errorf("invalid cache key %q", key)
	}
	dir, err := os.MkdirTemp(s.root, stagingPrefix+key+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Tx{store: s, key: key, dir: dir}, nil
}

// Dir is the staging directory to write files into.
func (tx *Tx) Dir() string { return tx.dir }

// Commit checks the staged file set and moves it into place, replacing any
// incomplete directory for the same key.
func (tx *Tx) Commit() (string, error) {
	if tx.settled {
		return "", errors.New("transaction already finished")
	}
	if missing := missingIn(tx.dir); len(missing) > 0 {
		return "", &IncompleteEntryError{Key: tx.key, Missing: missing}
	}
	dst := tx.store.Path(tx.key)
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("failed to remove old cache entry: %w", err)
	}
	if err := os.Rename(tx.dir, dst); err != nil {
		return "", fmt.Errorf("failed to move cache entry into place: %w", err)
	}
	tx.settled = true
	return dst, nil
}

// Rollback discards the staged files.
func (tx *Tx) Rollback() {
	if tx.settled {
		return
	}
	tx.settled = true
	if err := os.RemoveAll(tx.dir); err != nil {
		tx.store.log.Warn("Failed to remove staging directory", "path", tx.dir, "err", err)
	}
}

// Remove deletes the entry for key.
func (s *Store) Remove(key string) error {
	return os.RemoveAll(s.Path(key))
}
