// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Attr is the metadata [CloneAttr] transfers.
type Attr struct {
	Mode  fs.FileMode
	UID   int
	GID   int
	Label string
}

// ReadAttr reads the metadata of path without following symbolic links.
func ReadAttr(path string) (Attr, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Attr{}, fmt.Errorf("stat %s: %w", path, err)
	}

	attr := Attr{
		Mode:  info.Mode(),
		Label: Label(path),
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		attr.UID = int(stat.Uid)
		attr.GID = int(stat.Gid)
	}

	return attr, nil
}

// Apply sets the metadata on path. Modes are not applied to symbolic links.
// Labels are set best effort, since they may be rejected before a policy is
// loaded.
func (a Attr) Apply(path string) error {
	if a.Mode&fs.ModeSymlink == 0 {
		if err := os.Chmod(path, a.Mode.Perm()|a.Mode&(fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky)); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}

	if err := os.Lchown(path, a.UID, a.GID); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}

	if a.Label != "" {
		_ = SetLabel(path, a.Label)
	}

	return nil
}

// CloneAttr copies mode, ownership and security label from src to dst.
func CloneAttr(src, dst string) error {
	attr, err := ReadAttr(src)
	if err != nil {
		return err
	}

	return attr.Apply(dst)
}
