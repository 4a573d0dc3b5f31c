// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/aibor/bootinit/internal/block"
	"github.com/aibor/bootinit/internal/files"
	"github.com/aibor/bootinit/internal/mount"
)

// firstStage runs on two stage systems. The restored first stage init is
// redirected to execute this program again for the second stage.
type firstStage struct {
	base
}

func (s firstStage) Prepare(ctx context.Context) error {
	if err := s.prepareData(ctx); err != nil {
		return err
	}

	if s.Config.ForceNormalBoot {
		if err := s.stageFirstStageRamdisk(ctx); err != nil {
			return err
		}
	}

	if err := s.restoreInit(ctx); err != nil {
		return err
	}

	return s.redirectInit(ctx, InitPath, InitPath)
}

// secondStage runs when the first stage init executed the redirect.
type secondStage struct {
	base
}

func (s secondStage) Prepare(ctx context.Context) error {
	for _, path := range []string{InitPath, SystemInit} {
		if err := s.Mounter.Unmount(s.path(path)); err != nil {
			slog.DebugContext(ctx, "Unmount init", slog.String("path", path), slog.Any("error", err))
		}
	}

	if len(s.Args) > 0 {
		s.Args[0] = SystemInit
	}

	return nil
}

func (s secondStage) Start(ctx context.Context) error {
	ramRoot, err := isRAMFS(s.path("/"))
	if err != nil {
		return err
	}

	if ramRoot {
		initPath := s.path(InitPath)

		if err := os.Remove(initPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", initPath, err)
		}

		if err := os.Symlink(SystemInit, initPath); err != nil {
			return fmt.Errorf("link %s: %w", initPath, err)
		}

		err = s.patchRW(ctx)
	} else {
		err = s.patchRO(ctx)
	}

	if err != nil {
		return err
	}

	return s.execInit(ctx)
}

// legacySAR mounts the system partition as root.
type legacySAR struct {
	base
}

func (s legacySAR) Prepare(ctx context.Context) error {
	return s.prepareData(ctx)
}

func (s legacySAR) Start(ctx context.Context) error {
	if err := s.mountSystemRoot(ctx); err != nil {
		return err
	}

	if err := s.SwitchRoot(ctx, s.Mounter, s.path(SystemRoot)); err != nil {
		return fmt.Errorf("switch root: %w", err)
	}

	err := s.Ledger.Mount(s.Mounter, s.path("/dev"), mount.Options{
		FSType: mount.FSTypeTmp,
		Data:   "mode=755",
	})
	if err != nil {
		return fmt.Errorf("mount /dev: %w", err)
	}

	if files.Exists(s.path(ApexDir)) {
		if err := s.redirectInit(ctx, InitPath, DataInit); err != nil {
			return err
		}

		if err := s.Mounter.Bind(s.path(DataInit), s.path(InitPath)); err != nil {
			return fmt.Errorf("bind redirected init: %w", err)
		}
	} else if err := s.patchRO(ctx); err != nil {
		return err
	}

	return s.execInit(ctx)
}

var systemRootTypes = []mount.FSType{mount.FSTypeExt4, mount.FSTypeErofs}

func (s legacySAR) mountSystemRoot(ctx context.Context) error {
	err := s.Mounter.Mount(s.path("/dev"), mount.Options{
		FSType: mount.FSTypeTmp,
		Data:   "mode=755",
	})
	if err != nil {
		return fmt.Errorf("mount /dev: %w", err)
	}

	names := []string{"vroot", "APP", "system" + s.Config.Slot}

	var (
		device block.Device
		name   string
	)

	if s.Config.RootWait {
		device, name, err = s.Blocks.Discovery.WaitFor(ctx, s.RootWaitInterval, names...)
	} else {
		device, name, err = s.Blocks.Discovery.FindFirst(ctx, names...)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoSystemPartition, err)
	}

	node := s.path(RootNode)

	if err := s.Blocks.Create(device, node); err != nil {
		return err
	}

	target := s.path(SystemRoot)

	for _, fsType := range systemRootTypes {
		err = s.Mounter.Mount(target, mount.Options{
			FSType: fsType,
			Source: node,
			Flags:  unix.MS_RDONLY,
		})
		if err == nil {
			slog.InfoContext(ctx, "Mount system root",
				slog.String("partition", name),
				slog.String("device", device.String()),
				slog.String("type", string(fsType)),
			)

			return nil
		}
	}

	return fmt.Errorf("mount system root %s: %w", name, err)
}

// pureRamdisk boots a ramdisk that is the final root file system.
type pureRamdisk struct {
	base
}

func (s pureRamdisk) Prepare(ctx context.Context) error {
	if err := s.extractRamdisk(ctx); err != nil {
		return err
	}

	if err := s.prepareData(ctx); err != nil {
		return err
	}

	return s.restoreInit(ctx)
}

func (s pureRamdisk) Start(ctx context.Context) error {
	if err := s.patchRW(ctx); err != nil {
		return err
	}

	return s.execInit(ctx)
}

// recovery boots the recovery image unmodified.
type recovery struct {
	base
}

func (s recovery) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "Ramdisk is recovery, skip patching")

	for _, dir := range []string{BackupDir, OverlayDir} {
		if err := os.RemoveAll(s.path(dir)); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}

	return s.execInit(ctx)
}

func isRAMFS(path string) (bool, error) {
	var stat unix.Statfs_t

	if err := unix.Statfs(path, &stat); err != nil {
		return false, fmt.Errorf("statfs %s: %w", path, err)
	}

	switch uint32(stat.Type) { //nolint:gosec // magic numbers fit 32 bits
	case unix.RAMFS_MAGIC, unix.TMPFS_MAGIC:
		return true, nil
	default:
		return false, nil
	}
}
