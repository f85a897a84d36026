// Package filecheck chains assertions about a file on disk for use in tests.
package filecheck

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Checker collects checks on a single path.
type Checker struct {
	Path   string
	checks []func(string) error
}

// New creates a Checker for the given path.
func New(path string) *Checker {
	return &Checker{Path: path}
}

// Check runs every check and joins the failures.
func (c *Checker) Check() error {
	var errs []error
	for _, check := range c.checks {
		if err := check(c.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsFile adds a check that the path is a regular file.
func (c *Checker) IsFile() *Checker {
	c.checks = append(c.checks, func(path string) error {
		info, err := stat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("expected regular file: %s", path)
		}
		return nil
	})
	return c
}

// Size adds a check on the file length.
func (c *Checker) Size(want int64) *Checker {
	c.checks = append(c.checks, func(path string) error {
		info, err := stat(path)
		if err != nil {
			return err
		}
		if info.Size() != want {
			return fmt.Errorf("size mismatch for %s: want %d got %d", path, want, info.Size())
		}
		return nil
	})
	return c
}

// Content adds a byte-for-byte comparison against want.
func (c *Checker) Content(want []byte) *Checker {
	c.checks = append(c.checks, func(path string) error {
		got, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("content mismatch for %s: first difference at offset %d", path, firstDiff(got, want))
		}
		return nil
	})
	return c
}

// ModeEquals adds a check on the permission bits.
func (c *Checker) ModeEquals(perm os.FileMode) *Checker {
	c.checks = append(c.checks, func(path string) error {
		info, err := stat(path)
		if err != nil {
			return err
		}
		if got := info.Mode().Perm(); got != perm.Perm() {
			return fmt.Errorf("mode mismatch for %s: want %o got %o", path, perm.Perm(), got)
		}
		return nil
	})
	return c
}

func stat(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("path does not exist: %s", path)
		}
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}
	return info, nil
}

func firstDiff(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
