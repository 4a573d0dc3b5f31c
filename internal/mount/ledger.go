// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"context"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-multierror"
)

// Ledger records mount points created outside of the final root in the order
// they were created. The boot stages own it exclusively. It is unwound once
// right before the real init is executed.
type Ledger struct {
	paths []string
}

// Add records path as mounted.
func (l *Ledger) Add(path string) {
	l.paths = append(l.paths, path)
}

// Mount mounts with m and records the path on success.
func (l *Ledger) Mount(m Mounter, path string, opts Options) error {
	if err := m.Mount(path, opts); err != nil {
		return err
	}

	l.Add(path)

	return nil
}

// Drop removes the given paths, so they survive [Ledger.Unwind].
func (l *Ledger) Drop(paths ...string) {
	l.paths = slices.DeleteFunc(l.paths, func(path string) bool {
		return slices.Contains(paths, path)
	})
}

// Paths returns the recorded paths in creation order.
func (l *Ledger) Paths() []string {
	return slices.Clone(l.paths)
}

// Unwind detaches all recorded mounts in reverse creation order.
//
// It does not stop on failure. All errors are returned combined. The ledger is
// empty afterwards, no matter the result.
func (l *Ledger) Unwind(ctx context.Context, m Unmounter) error {
	var errs *multierror.Error

	paths := l.paths
	l.paths = nil

	for _, path := range slices.Backward(paths) {
		if err := m.Unmount(path); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		slog.DebugContext(ctx, "Unmount", slog.String("path", path))
	}

	return errs.ErrorOrNil()
}
