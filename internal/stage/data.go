// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aibor/bootinit/internal/files"
	"github.com/aibor/bootinit/internal/mount"
)

var stagedDirs = []string{BackupDir, OverlayDir}

// prepareData mounts a tmpfs on /data that survives until the second stage
// and copies this program, the backup and the overlay into it.
//
// The mount is not recorded in the ledger. It is detached once the root
// file system is patched.
func (b *Boot) prepareData(ctx context.Context) error {
	data := b.path(DataDir)

	err := b.Mounter.Mount(data, mount.Options{
		FSType: mount.FSTypeTmp,
		Data:   "mode=755",
	})
	if err != nil {
		return fmt.Errorf("mount %s: %w", DataDir, err)
	}

	if err := files.CopyFile(b.path(InitPath), b.path(RedirectPath)); err != nil {
		return err
	}

	if err := os.Chmod(b.path(RedirectPath), 0o755); err != nil {
		return fmt.Errorf("chmod %s: %w", RedirectPath, err)
	}

	return b.copyStaged(ctx, data)
}

// stageFirstStageRamdisk copies the backup and the overlay into the ramdisk
// the first stage init switches into on force normal boot.
func (b *Boot) stageFirstStageRamdisk(ctx context.Context) error {
	return b.copyStaged(ctx, b.path(FirstStageRamdisk))
}

func (b *Boot) copyStaged(ctx context.Context, dst string) error {
	for _, dir := range stagedDirs {
		src := b.path(dir)
		if !files.Exists(src) {
			continue
		}

		if err := files.CopyTree(src, filepath.Join(dst, dir)); err != nil {
			return err
		}

		slog.DebugContext(ctx, "Stage directory", slog.String("src", dir), slog.String("dst", dst))
	}

	return nil
}

// restoreInit puts the original init back in place. If there is no backup,
// the ramdisk was built from scratch and the real init is the system init.
func (b *Boot) restoreInit(ctx context.Context) error {
	initPath := b.path(InitPath)
	backup := b.path(BackupInit)

	if err := os.Remove(initPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", InitPath, err)
	}

	if !files.Exists(backup) {
		slog.DebugContext(ctx, "No backup init, link system init")

		if err := os.Symlink(SystemInit, initPath); err != nil {
			return fmt.Errorf("link %s: %w", InitPath, err)
		}

		return nil
	}

	if err := files.Restore(ctx, backup, initPath); err != nil {
		return fmt.Errorf("restore init: %w", err)
	}

	if err := os.Remove(backup); err != nil {
		return fmt.Errorf("remove %s: %w", BackupInit, err)
	}

	slog.DebugContext(ctx, "Restored init")

	return nil
}

// redirectInit writes a copy of src to dst with the system init path
// replaced by the path of this program on /data.
func (b *Boot) redirectInit(ctx context.Context, src, dst string) error {
	offsets, err := files.PatchFile(b.path(src), b.path(dst), files.Replacement{
		From: SystemInit,
		To:   RedirectPath,
	})
	if err != nil {
		return fmt.Errorf("redirect init: %w", err)
	}

	if len(offsets) == 0 {
		slog.WarnContext(ctx, "Init has no system init path", slog.String("path", src))
	} else {
		slog.DebugContext(ctx, "Redirect init",
			slog.String("path", dst),
			slog.Any("offsets", offsets),
		)
	}

	return nil
}

// extractRamdisk unpacks the compressed ramdisk over the root.
func (b *Boot) extractRamdisk(ctx context.Context) error {
	archive := b.path(CompressedRamdisk)

	file, err := os.Open(archive)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open %s: %w", CompressedRamdisk, err)
	}
	defer file.Close()

	reader, _, err := files.Decompress(ctx, file)
	if err != nil {
		return fmt.Errorf("%s: %w", CompressedRamdisk, err)
	}
	defer reader.Close()

	names, err := files.ExtractCPIO(reader, b.path("/"))
	if err != nil {
		return fmt.Errorf("extract %s: %w", CompressedRamdisk, err)
	}

	slog.DebugContext(ctx, "Extracted ramdisk", slog.Int("entries", len(names)))

	if err := os.Remove(archive); err != nil {
		return fmt.Errorf("remove %s: %w", CompressedRamdisk, err)
	}

	return nil
}
