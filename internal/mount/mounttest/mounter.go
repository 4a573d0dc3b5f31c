// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mounttest provides a [mount.Mounter] for tests that can not mount.
package mounttest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/aibor/bootinit/internal/mount"
)

const (
	shadowSuffix = ".shadowed"
	dirMode      = 0o755
)

// Mounter emulates a [mount.Mounter] on a plain directory tree.
//
// A bind mount replaces the target with a symbolic link to the source. The
// original target is kept aside and put back on unmount. All operations are
// recorded in [Mounter.Ops]. Errors in Fail are returned for the op string
// they are keyed with. Failed operations are not recorded.
type Mounter struct {
	Fail map[string]error

	mu  sync.Mutex
	ops []string
}

var _ mount.Mounter = (*Mounter)(nil)

// Ops returns the recorded operations.
func (f *Mounter) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.ops...)
}

func (f *Mounter) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, exists := f.Fail[op]; exists {
		return err
	}

	f.ops = append(f.ops, op)

	return nil
}

// Mount records the mount and creates the target directory.
func (f *Mounter) Mount(target string, opts mount.Options) error {
	if err := f.record(fmt.Sprintf("mount %s %s %s", opts.FSType, target, opts.Data)); err != nil {
		return err
	}

	return os.MkdirAll(target, dirMode)
}

// Bind shadows target with a symbolic link to source.
func (f *Mounter) Bind(source, target string) error {
	if err := f.record("bind " + source + " " + target); err != nil {
		return err
	}

	if err := os.Rename(target, target+shadowSuffix); err != nil {
		return fmt.Errorf("bind mount %s to %s: %w", source, target, err)
	}

	return os.Symlink(source, target)
}

// Move only records the move. The file system is left as it is.
func (f *Mounter) Move(source, target string) error {
	return f.record("move " + source + " " + target)
}

// Unmount removes a shadowing link and restores the original target. Targets
// that are not shadowed are left alone.
func (f *Mounter) Unmount(target string) error {
	if err := f.record("unmount " + target); err != nil {
		return err
	}

	if _, err := os.Lstat(target + shadowSuffix); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := os.Remove(target); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}

	return os.Rename(target+shadowSuffix, target)
}
