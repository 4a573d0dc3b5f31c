// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

// Binder creates bind mounts.
type Binder interface {
	Bind(source, target string) error
}

// Unmounter detaches mounts.
type Unmounter interface {
	Unmount(target string) error
}

// Mounter is the set of mount operations the boot stages need.
type Mounter interface {
	Binder
	Unmounter
	Mount(target string, opts Options) error
	Move(source, target string) error
}

// Syscalls implements [Mounter] with the actual mount syscalls.
type Syscalls struct{}

var _ Mounter = Syscalls{}

// Mount mounts according to opts. See [Mount].
func (Syscalls) Mount(target string, opts Options) error {
	return Mount(target, opts)
}

// Bind bind mounts source onto target.
func (Syscalls) Bind(source, target string) error {
	return bindMount(source, target)
}

// Move moves the mount at source to target.
func (Syscalls) Move(source, target string) error {
	return moveMount(source, target)
}

// Unmount lazily detaches the mount at target.
func (Syscalls) Unmount(target string) error {
	return unmount(target)
}
