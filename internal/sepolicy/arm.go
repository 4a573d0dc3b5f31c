// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/aibor/bootinit/internal/files"
	"github.com/aibor/bootinit/internal/mount"
)

const (
	mockDirMode  = 0o711
	mockNodeMode = 0o666
)

// ProcOptions are used when this program mounts selinuxfs itself, so the
// real init does not have to remount procfs.
const ProcOptions = "hidepid=2,gid=3009"

// Arm sets up the interception surface for the session.
//
// It returns environment variables the real init must be executed with. The
// synthetic nodes are not recorded in the ledger, as they must survive the
// handoff. They are removed by the [Watcher]. If Arm fails, everything it
// created is removed again.
func Arm(
	ctx context.Context,
	m mount.Mounter,
	ledger *mount.Ledger,
	paths Paths,
	session Session,
) (env []string, err error) {
	var undo cleanup

	defer func() {
		if err == nil {
			return
		}

		if undoErr := undo.run(); undoErr != nil {
			slog.WarnContext(ctx, "Disarm policy interception", slog.Any("error", undoErr))
		}
	}()

	if !files.Exists(paths.MockDir) {
		if err := os.MkdirAll(paths.MockDir, mockDirMode); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", paths.MockDir, err)
		}

		undo.add(func() error { return os.RemoveAll(paths.MockDir) })
	}

	slog.InfoContext(ctx, "Arm policy interception", slog.String("strategy", session.Strategy.String()))

	switch session.Strategy {
	case StrategyPreload:
		if err := files.CopyFile(paths.PreloadSource, paths.PreloadLib); err != nil {
			return nil, err
		}

		undo.remove(paths.PreloadLib)

		if err := mkfifo(paths.PreloadAck); err != nil {
			return nil, err
		}

		return []string{"LD_PRELOAD=" + paths.PreloadLib}, nil
	case StrategySelinuxFS:
		if !files.Exists(paths.Enforce()) {
			if err := mountSelinuxFS(ctx, m, ledger, paths); err != nil {
				return nil, err
			}
		}

		if err := mockFile(ctx, m, paths.Load(), paths.mock(paths.Load())); err != nil {
			return nil, err
		}

		undo.unmount(m, paths.Load())

		if err := mockFifo(ctx, m, paths.Enforce(), paths.mock(paths.Enforce())); err != nil {
			return nil, err
		}

		return nil, nil
	case StrategyLegacy:
		if !files.Exists(session.Sentinel) {
			if err := createFile(session.Sentinel); err != nil {
				return nil, err
			}

			undo.remove(session.Sentinel)
		}

		// The real init opens the sentinel after it mounted selinuxfs and
		// before it loads the policy.
		return nil, mockFifo(ctx, m, session.Sentinel, paths.MockVersion())
	default:
		return nil, ErrNoStrategy
	}
}

// Disarm removes the interception surface of a successfully armed session.
// It is used if the [Watcher] can not be started, so the real init does not
// block on nodes nobody serves. It does not stop on failure.
func Disarm(ctx context.Context, m mount.Unmounter, paths Paths, session Session) error {
	var undo cleanup

	undo.add(func() error { return os.RemoveAll(paths.MockDir) })

	switch session.Strategy {
	case StrategyPreload:
		undo.remove(paths.PreloadLib)
		undo.remove(paths.PreloadAck)
	case StrategySelinuxFS:
		undo.unmount(m, paths.Load())
		undo.unmount(m, paths.Enforce())
	case StrategyLegacy:
		undo.unmount(m, session.Sentinel)
	default:
		return ErrNoStrategy
	}

	slog.InfoContext(ctx, "Disarm policy interception", slog.String("strategy", session.Strategy.String()))

	return undo.run()
}

// cleanup collects undo functions that are run in reverse order.
type cleanup struct {
	fns []func() error
}

func (c *cleanup) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *cleanup) remove(path string) {
	c.add(func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}

		return nil
	})
}

func (c *cleanup) unmount(m mount.Unmounter, target string) {
	c.add(func() error { return m.Unmount(target) })
}

func (c *cleanup) run() error {
	var errs *multierror.Error

	for _, fn := range slices.Backward(c.fns) {
		if err := fn(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	c.fns = nil

	return errs.ErrorOrNil()
}

// mountSelinuxFS mounts selinuxfs for real inits that ignore the mount
// failing because it exists already. The kernel file systems must survive
// the handoff then, so procfs gets the options the real init would set.
func mountSelinuxFS(ctx context.Context, m mount.Mounter, ledger *mount.Ledger, paths Paths) error {
	err := m.Mount(paths.Proc, mount.Options{
		FSType: mount.FSTypeProc,
		Flags:  unix.MS_REMOUNT,
		Data:   ProcOptions,
	})
	if err != nil {
		return err
	}

	ledger.Drop(paths.Proc, paths.Sys)

	slog.DebugContext(ctx, "Mount selinuxfs", slog.String("path", paths.SelinuxDir))

	return m.Mount(paths.SelinuxDir, mount.Options{
		FSType: mount.FSTypeSelinux,
		Source: string(mount.FSTypeSelinux),
	})
}

func mockFile(ctx context.Context, m mount.Binder, target, mock string) error {
	slog.DebugContext(ctx, "Hijack", slog.String("target", target))

	if err := createFile(mock); err != nil {
		return err
	}

	return m.Bind(mock, target)
}

func mockFifo(ctx context.Context, m mount.Binder, target, mock string) error {
	slog.DebugContext(ctx, "Hijack", slog.String("target", target))

	if err := mkfifo(mock); err != nil {
		return err
	}

	return m.Bind(mock, target)
}

func createFile(path string) error {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, mockNodeMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	return file.Close()
}

func mkfifo(path string) error {
	if err := unix.Mkfifo(path, mockNodeMode); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}

	// mkfifo honors the umask.
	if err := os.Chmod(path, mockNodeMode); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	return nil
}
