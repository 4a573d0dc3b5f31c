// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"syscall"
	"time"

	"github.com/moby/sys/mountinfo"

	"github.com/aibor/bootinit/internal/block"
	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/mount"
	"github.com/aibor/bootinit/internal/sepolicy"
)

// DefaultRootWaitInterval is the pause between system partition lookups if
// the boot configuration asks to wait for the root device.
const DefaultRootWaitInterval = time.Second

// Exec replaces the process image. It matches [syscall.Exec].
type Exec func(path string, argv, env []string) error

// SwitchRoot makes newRoot the root file system. It matches
// [mount.SwitchRoot].
type SwitchRoot func(ctx context.Context, m mount.Mounter, newRoot string) error

// SpawnWatcher starts the policy watcher process. It matches
// [sepolicy.Spawn].
type SpawnWatcher func(
	ctx context.Context,
	runtimeDir string,
	paths sepolicy.Paths,
	session sepolicy.Session,
) error

// Boot is the state shared by all stages.
type Boot struct {
	// Args and Env are passed on to the real init.
	Args []string
	Env  []string

	Config *bootconfig.BootConfig
	Paths  Paths

	// Ledger has the mounts that are detached before the real init runs.
	Ledger  *mount.Ledger
	Mounter mount.Mounter
	Blocks  *block.Binder

	// Loader loads the policy for monolithic patching and the watcher. If
	// nil, the policy tool in the runtime directory is used.
	Loader sepolicy.Loader

	Exec         Exec
	SwitchRoot   SwitchRoot
	SpawnWatcher SpawnWatcher

	// Mounts returns the current mount table.
	Mounts func() ([]*mountinfo.Info, error)

	RootWaitInterval time.Duration
}

// NewBoot returns a [Boot] for the live system. Config and Blocks must be set
// by the caller.
func NewBoot(args, env []string) *Boot {
	return &Boot{
		Args:         args,
		Env:          env,
		Paths:        DefaultPaths(),
		Ledger:       &mount.Ledger{},
		Mounter:      mount.Syscalls{},
		Exec:         syscall.Exec,
		SwitchRoot:   mount.SwitchRoot,
		SpawnWatcher: sepolicy.Spawn,
		Mounts: func() ([]*mountinfo.Info, error) {
			return mountinfo.GetMounts(nil)
		},
		RootWaitInterval: DefaultRootWaitInterval,
	}
}

func (b *Boot) path(rel ...string) string {
	return b.Paths.Join(rel...)
}

func (b *Boot) loader(runtime string) sepolicy.Loader {
	if b.Loader != nil {
		return b.Loader
	}

	return &sepolicy.ToolLoader{
		Tool:    b.path(sepolicy.DefaultPaths(runtime).PolicyTool),
		TempDir: b.path(runtime, InternalDir),
	}
}

// execInit detaches all ledger mounts and executes the real init. It only
// returns on failure.
func (b *Boot) execInit(ctx context.Context) error {
	if err := b.Ledger.Unwind(ctx, b.Mounter); err != nil {
		slog.WarnContext(ctx, "Unmount ledger", slog.Any("error", err))
	}

	initPath := b.path(InitPath)

	slog.InfoContext(ctx, "Execute real init",
		slog.String("path", initPath),
		slog.Any("args", b.Args),
	)

	if err := b.Exec(initPath, b.Args, b.Env); err != nil {
		return fmt.Errorf("exec %s: %w", initPath, err)
	}

	return nil
}

// internal returns the path of elem in the private directory of runtime.
func (b *Boot) internal(runtime string, elem ...string) string {
	return filepath.Join(append([]string{b.path(runtime, InternalDir)}, elem...)...)
}
