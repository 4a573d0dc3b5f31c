// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/moby/sys/mountinfo"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sys/unix"

	"github.com/aibor/bootinit/internal/block"
	"github.com/aibor/bootinit/internal/mount"
)

// PreinitRulesDirs are the directories on the preinit device that may hold
// policy rules. The first one present is used.
var PreinitRulesDirs = []string{"unencrypted/bootinit", "adb", "bootinit"}

var preinitTypes = []mount.FSType{mount.FSTypeExt4, mount.FSTypeF2fs}

// mountPreinit makes the rules directory of the preinit device available at
// the preinit directory in the runtime directory. Failures are logged only,
// as the boot works without the rules.
func (b *Boot) mountPreinit(ctx context.Context, runtime, name string) {
	ctx = slogctx.Append(ctx, slog.String("preinit", name))

	if err := b.bindPreinit(ctx, runtime, name); err != nil {
		slog.WarnContext(ctx, "Preinit device unavailable", slog.Any("error", err))
	}
}

func (b *Boot) bindPreinit(ctx context.Context, runtime, name string) error {
	if b.Blocks == nil {
		return block.ErrNotFound
	}

	device, err := b.Blocks.Discovery.Find(ctx, name)
	if err != nil {
		return err
	}

	node := b.path(PreinitNode)

	if err := b.Blocks.Create(device, node); err != nil {
		return err
	}

	mnt := b.internal(runtime, preinitMntName)

	if err := os.MkdirAll(mnt, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", mnt, err)
	}

	defer os.Remove(mnt)

	if err := b.mountDevice(ctx, device, node, mnt); err != nil {
		return err
	}

	defer func() {
		if err := b.Mounter.Unmount(mnt); err != nil {
			slog.WarnContext(ctx, "Unmount preinit device", slog.Any("error", err))
		}
	}()

	for _, dir := range PreinitRulesDirs {
		src := filepath.Join(mnt, dir)

		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			continue
		}

		dst := b.internal(runtime, preinitName)

		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dst, err)
		}

		if err := b.Mounter.Bind(src, dst); err != nil {
			return fmt.Errorf("bind rules dir: %w", err)
		}

		slog.DebugContext(ctx, "Bound preinit rules", slog.String("dir", dir))

		err := os.WriteFile(b.internal(runtime, preinitDevName), []byte(name), 0o644)
		if err != nil {
			return fmt.Errorf("write preinit device: %w", err)
		}

		return nil
	}

	return ErrNoRulesDir
}

// mountDevice makes the device available at mnt. An existing mount of the
// device is reused. Otherwise it is mounted read-only with every known file
// system type until one works.
func (b *Boot) mountDevice(ctx context.Context, device block.Device, node, mnt string) error {
	if b.Mounts != nil {
		mounts, err := b.Mounts()
		if err != nil {
			slog.DebugContext(ctx, "Read mount table", slog.Any("error", err))
		}

		if mountpoint, found := findMount(mounts, device); found {
			if err := b.Mounter.Bind(mountpoint, mnt); err != nil {
				return fmt.Errorf("bind %s: %w", mountpoint, err)
			}

			slog.DebugContext(ctx, "Reuse preinit mount", slog.String("mountpoint", mountpoint))

			return nil
		}
	}

	var err error

	for _, fsType := range b.filesystemTypes(ctx) {
		err = b.Mounter.Mount(mnt, mount.Options{
			FSType: fsType,
			Source: node,
			Flags:  unix.MS_RDONLY,
		})
		if err == nil {
			slog.DebugContext(ctx, "Mount preinit device", slog.String("type", string(fsType)))
			return nil
		}
	}

	return fmt.Errorf("mount preinit device: %w", err)
}

// filesystemTypes returns the types to try for the preinit device.
func (b *Boot) filesystemTypes(ctx context.Context) []mount.FSType {
	types := slices.Clone(preinitTypes)

	file, err := os.Open(b.path(ProcFilesystems))
	if err != nil {
		slog.DebugContext(ctx, "Read file system types", slog.Any("error", err))
		return types
	}
	defer file.Close()

	for _, fsType := range parseFilesystems(file) {
		if !slices.Contains(types, fsType) {
			types = append(types, fsType)
		}
	}

	return types
}

// parseFilesystems returns the block device backed file system types listed
// in the format of /proc/filesystems.
func parseFilesystems(r io.Reader) []mount.FSType {
	var types []mount.FSType

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 1 {
			continue
		}

		types = append(types, mount.FSType(fields[0]))
	}

	return types
}

// findMount returns the mount point of a mount of the whole file system on
// device.
func findMount(mounts []*mountinfo.Info, device block.Device) (string, bool) {
	for _, info := range mounts {
		if info.Root != "/" {
			continue
		}

		if info.Major == int(device.Major) && info.Minor == int(device.Minor) {
			return info.Mountpoint, true
		}
	}

	return "", false
}
