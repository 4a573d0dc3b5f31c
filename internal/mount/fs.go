// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
)

// FSType is a file system type.
type FSType string

// File system types used during early boot.
const (
	FSTypeErofs   FSType = "erofs"
	FSTypeExt4    FSType = "ext4"
	FSTypeF2fs    FSType = "f2fs"
	FSTypeProc    FSType = "proc"
	FSTypeSelinux FSType = "selinuxfs"
	FSTypeSys     FSType = "sysfs"
	FSTypeTmp     FSType = "tmpfs"

	defaultDirMode = 0o755
)

// Options contains parameters for a mount point.
type Options struct {
	// FSType is the files system type.
	FSType FSType

	// Source is the source device to mount. Can be empty for all the special
	// file system types. If empty it is set to the string of the type.
	Source string

	// Flags are optional mount flags as defined by mount(2).
	Flags uintptr

	// Data are optional additional parameters that depend of the [FSType] used.
	Data string

	// MayFail determines if the mount operation may fail. If set to true, a
	// mount error does not fail a [MountAll] operation.
	MayFail bool
}

// MountPoints is a collection of mount points.
type MountPoints map[string]Options

// KernelMountPoints returns the pseudo file systems required to read the
// boot configuration.
func KernelMountPoints() MountPoints {
	return MountPoints{
		"/proc": {FSType: FSTypeProc},
		"/sys":  {FSType: FSTypeSys},
	}
}

// Mount mounts the file system described by opts at the given path.
//
// If path does not exist, it is created. An error is returned if this or the
// mount syscall fails.
func Mount(path string, opts Options) error {
	err := os.MkdirAll(path, defaultDirMode)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}

	return mount(path, opts.Source, string(opts.FSType), opts.Flags, opts.Data)
}

// MountAll mounts the given set of file systems with m and records every
// successful mount in the ledger.
//
// The mounts are executed in lexicographic order of the paths. If only
// optional mount points failed, it returns an [OptionalMountError] with all
// errors.
func MountAll(m Mounter, ledger *Ledger, mountPoints MountPoints) error {
	var optionalErrs OptionalMountError

	for _, path := range slices.Sorted(maps.Keys(mountPoints)) {
		opts := mountPoints[path]

		if err := ledger.Mount(m, path, opts); err != nil {
			if !opts.MayFail {
				return err
			}

			optionalErrs = append(optionalErrs, err)
		}
	}

	if optionalErrs != nil {
		return optionalErrs
	}

	return nil
}

// LogOptional logs optional mount failures contained in err and drops them.
// Any other error is returned as is.
func LogOptional(err error) error {
	var optionalErrs OptionalMountError
	if errors.As(err, &optionalErrs) {
		for _, err := range optionalErrs {
			slog.Info("optional mount failed", slog.Any("error", err))
		}

		return nil
	}

	return err
}
