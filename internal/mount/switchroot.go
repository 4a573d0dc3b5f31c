// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// MoveTargets returns the mount points that must be moved into newRoot
// before it becomes the root.
//
// The root itself, newRoot and everything below newRoot are skipped. Mounts
// nested below another returned mount point are skipped as well, since they
// move along with their parent. The result is sorted.
func MoveTargets(mounts []*mountinfo.Info, newRoot string) []string {
	points := make([]string, 0, len(mounts))

	for _, info := range mounts {
		point := filepath.Clean(info.Mountpoint)
		if point == "/" || point == newRoot || isBelow(point, newRoot) {
			continue
		}

		points = append(points, point)
	}

	slices.Sort(points)
	points = slices.Compact(points)

	// Parents sort before their children, so checking the already collected
	// targets is sufficient.
	targets := make([]string, 0, len(points))

	for _, point := range points {
		nested := slices.ContainsFunc(targets, func(target string) bool {
			return isBelow(point, target)
		})
		if !nested {
			targets = append(targets, point)
		}
	}

	return targets
}

func isBelow(path, dir string) bool {
	if dir == "/" {
		return path != "/"
	}

	return strings.HasPrefix(path, dir+"/")
}

// SwitchRoot makes newRoot the root of the running process.
//
// All mounts are moved below newRoot, newRoot is moved onto "/" and the
// process changes its root into it. Everything left in the old root file
// system is deleted afterwards.
func SwitchRoot(ctx context.Context, m Mounter, newRoot string) error {
	newRoot = filepath.Clean(newRoot)

	slog.DebugContext(ctx, "Switch root", slog.String("path", newRoot))

	oldRoot, err := os.Open("/")
	if err != nil {
		return fmt.Errorf("open old root: %w", err)
	}
	defer oldRoot.Close()

	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return fmt.Errorf("get mounts: %w", err)
	}

	for _, dir := range MoveTargets(mounts, newRoot) {
		target := filepath.Join(newRoot, dir)

		if err := os.MkdirAll(target, defaultDirMode); err != nil {
			return fmt.Errorf("mkdir %s: %w", target, err)
		}

		if err := m.Move(dir, target); err != nil {
			return err
		}
	}

	if err := chdir(newRoot); err != nil {
		return err
	}

	if err := m.Move(newRoot, "/"); err != nil {
		return err
	}

	if err := chroot("."); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Cleaning old root")

	return RemoveContents(oldRoot)
}

// RemoveContents deletes everything inside the given open directory. It
// does not descend into other file systems.
func RemoveContents(dir *os.File) error {
	var stat unix.Stat_t
	if err := unix.Fstat(int(dir.Fd()), &stat); err != nil {
		return fmt.Errorf("stat %s: %w", dir.Name(), err)
	}

	return removeContents(dir, uint64(stat.Dev)) //nolint:unconvert
}

func removeContents(dir *os.File, dev uint64) error {
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir.Name(), err)
	}

	dirFd := int(dir.Fd())

	var errs *multierror.Error

	for _, entry := range entries {
		if err := removeAt(dirFd, entry.Name(), dev); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

func removeAt(dirFd int, name string, dev uint64) error {
	var stat unix.Stat_t
	if err := unix.Fstatat(dirFd, name, &stat, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	if uint64(stat.Dev) != dev { //nolint:unconvert
		return nil
	}

	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		if err := unix.Unlinkat(dirFd, name, 0); err != nil {
			return fmt.Errorf("unlink %s: %w", name, err)
		}

		return nil
	}

	fd, err := unix.Openat(dirFd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	child := os.NewFile(uintptr(fd), name)
	err = removeContents(child, dev)
	_ = child.Close()

	if err != nil {
		return err
	}

	if err := unix.Unlinkat(dirFd, name, unix.AT_REMOVEDIR); err != nil {
		return fmt.Errorf("rmdir %s: %w", name, err)
	}

	return nil
}
