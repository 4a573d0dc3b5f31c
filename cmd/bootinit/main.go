// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Bootinit replaces the init of a boot ramdisk. It patches the root file
// system and the security policy and then executes the original init.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/moby/sys/reexec"

	"github.com/aibor/bootinit/internal/block"
	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/klog"
	"github.com/aibor/bootinit/internal/stage"
)

// ErrNotPidOne is returned if the boot is requested by a process that is
// not the first one.
var ErrNotPidOne = errors.New("process does not have ID 1")

func runBoot(ctx context.Context, args, env []string) (int, error) {
	if os.Getpid() != 1 {
		return 127, ErrNotPidOne
	}

	boot := stage.NewBoot(args, env)

	appendProps := func(pairs bootconfig.Pairs) error {
		return bootconfig.AppendProps(filepath.Join("/", bootconfig.PropsPath), pairs)
	}

	reader := &bootconfig.Reader{
		Root:        os.DirFS("/"),
		Keys:        bootconfig.NewEventProbe("/dev"),
		Mounter:     boot.Mounter,
		Ledger:      boot.Ledger,
		AppendProps: appendProps,
	}

	kind, config := stage.Select(args, boot.Paths, func() *bootconfig.BootConfig {
		return reader.Acquire(ctx)
	})

	boot.Config = config
	boot.Blocks = &block.Binder{
		Discovery: block.NewDiscovery(os.DirFS("/sys"), config.PartitionMap),
	}

	slog.InfoContext(ctx, "Boot stage selected", slog.Any("stage", kind))

	if err := stage.Run(ctx, boot, kind); err != nil {
		return 1, err
	}

	return 0, nil
}

func run() (int, error) {
	ctx := context.Background()

	if filepath.Base(os.Args[0]) == InfoName {
		return runInfo(ctx, os.Args, os.Stdout, os.Stderr)
	}

	if isCallback(os.Args) {
		ctx = klog.Setup(ctx, os.Stderr, slog.LevelInfo)
		return runCallback(ctx, os.Args)
	}

	ctx = klog.SetupKernel(ctx, "/proc", "/dev", os.Stderr)

	return runBoot(ctx, os.Args, os.Environ())
}

func main() {
	if reexec.Init() {
		return
	}

	rc, err := run()
	if err != nil {
		slog.Error("Boot failed", slog.Any("error", err))
	}

	os.Exit(rc)
}
