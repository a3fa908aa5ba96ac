// Package storage provides the scoped file primitives downloads are
// written with: temp-file staging, promotion, deletion and path building.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DirPermissions  = 0o755
	FilePermissions = 0o644

	// PartSuffix marks staged downloads that were never promoted.
	PartSuffix = ".part"
)

// Error wraps a disk failure so callers can distinguish storage problems
// from provider problems.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}

// Sanitize strips filesystem-hostile characters from a path component.
func Sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune("<>:\"/\\|?*", r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimRight(mapped, ". ")
}

func EnsureDir(path string) error {
	return wrap("mkdir", path, os.MkdirAll(path, DirPermissions))
}

// CreateStaging opens a temp file next to the final path. The returned
// file carries the PartSuffix until Promote renames it into place.
func CreateStaging(finalPath string) (*os.File, error) {
	if err := EnsureDir(filepath.Dir(finalPath)); err != nil {
		return nil, err
	}
	f, err := os.Create(finalPath + PartSuffix)
	return f, wrap("create", finalPath+PartSuffix, err)
}

// Promote renames a staged file onto its final path.
func Promote(finalPath string) error {
	return wrap("rename", finalPath, os.Rename(finalPath+PartSuffix, finalPath))
}

// DiscardStaging removes a staged file; a missing file is not an error.
func DiscardStaging(finalPath string) error {
	err := os.Remove(finalPath + PartSuffix)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return wrap("remove", finalPath+PartSuffix, err)
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return wrap("remove", path, err)
}

func WriteFile(path string, data []byte) error {
	return wrap("write", path, os.WriteFile(path, data, FilePermissions))
}

// CleanOrphanedStaging removes every *.part file below dir; called at
// startup to discard downloads interrupted by a crash.
func CleanOrphanedStaging(dir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, PartSuffix) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
