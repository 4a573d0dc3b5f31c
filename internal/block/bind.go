// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package block

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Mknod creates a device node. It matches [unix.Mknod].
type Mknod func(path string, mode uint32, dev int) error

// Binder creates block device nodes for devices found by a [Discovery].
type Binder struct {
	Discovery *Discovery

	// Mknod creates the node. If nil, [unix.Mknod] is used.
	Mknod Mknod
}

// Bind looks up the device matching name and creates a block device node
// for it at path. An existing node at path is replaced.
func (b *Binder) Bind(ctx context.Context, name, path string) (Device, error) {
	device, err := b.Discovery.Find(ctx, name)
	if err != nil {
		return Device{}, err
	}

	if err := b.Create(device, path); err != nil {
		return Device{}, err
	}

	slog.DebugContext(ctx, "Bind block device",
		slog.String("name", name),
		slog.String("device", device.String()),
		slog.String("path", path),
	)

	return device, nil
}

// Create creates a block device node for device at path.
func (b *Binder) Create(device Device, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	_ = os.Remove(path)

	mknod := b.Mknod
	if mknod == nil {
		mknod = unix.Mknod
	}

	if err := mknod(path, unix.S_IFBLK|0o600, int(device.Dev())); err != nil { //nolint:gosec
		return fmt.Errorf("mknod %s: %w", path, err)
	}

	return nil
}
