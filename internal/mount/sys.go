// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func mount(path, source, fsType string, flags uintptr, data string) error {
	if source == "" {
		source = fsType
	}

	if err := unix.Mount(source, path, fsType, flags, data); err != nil {
		return fmt.Errorf("mount %s: %w", path, err)
	}

	return nil
}

func bindMount(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s to %s: %w", source, target, err)
	}

	return nil
}

func moveMount(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_MOVE, ""); err != nil {
		return fmt.Errorf("move mount %s to %s: %w", source, target, err)
	}

	return nil
}

func unmount(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}

	return nil
}

func chroot(path string) error {
	if err := unix.Chroot(path); err != nil {
		return fmt.Errorf("chroot %s: %w", path, err)
	}

	return nil
}

func chdir(path string) error {
	if err := unix.Chdir(path); err != nil {
		return fmt.Errorf("chdir %s: %w", path, err)
	}

	return nil
}
