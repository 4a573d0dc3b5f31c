// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/aibor/bootinit/internal/klog"
	"github.com/aibor/bootinit/internal/mount"
	"github.com/moby/sys/reexec"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// WatcherName is the reexec name of the watcher process.
const WatcherName = "bootinit-sepolicy"

func init() {
	reexec.Register(WatcherName, WatcherMain)
}

// Spawn starts the [Watcher] for the session in a new process and returns
// without waiting for it. The process survives the exec of the real init.
func Spawn(ctx context.Context, runtimeDir string, paths Paths, session Session) error {
	cmd := reexec.Command(append([]string{WatcherName}, watcherArgs(runtimeDir, session)...)...)

	// Replace the parent death signal set by reexec. The parent's image is
	// replaced by the real init right away.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	null, err := openNull(paths.MockDir)
	if err != nil {
		return err
	}
	defer null.Close()

	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	slog.DebugContext(ctx, "Watcher started", slog.Int("pid", cmd.Process.Pid))

	return cmd.Process.Release()
}

// openNull opens the null device. If it does not exist yet, a private node
// is created in dir.
func openNull(dir string) (*os.File, error) {
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		return null, nil
	}

	node := filepath.Join(dir, ".null")

	if err := unix.Mknod(node, unix.S_IFCHR|0o666, int(unix.Mkdev(1, 3))); err != nil { //nolint:gosec
		return nil, fmt.Errorf("mknod %s: %w", node, err)
	}
	defer os.Remove(node)

	null, err = os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", node, err)
	}

	return null, nil
}

func watcherArgs(runtimeDir string, session Session) []string {
	args := []string{
		"--runtime", runtimeDir,
		"--strategy", session.Strategy.String(),
	}

	if session.Sentinel != "" {
		args = append(args, "--sentinel", session.Sentinel)
	}

	return args
}

func parseWatcherArgs(args []string) (string, Session, error) {
	var (
		runtimeDir   string
		strategyName string
		session      Session
	)

	flags := pflag.NewFlagSet(WatcherName, pflag.ContinueOnError)
	flags.StringVar(&runtimeDir, "runtime", "/sbin", "runtime directory")
	flags.StringVar(&strategyName, "strategy", "", "interception strategy")
	flags.StringVar(&session.Sentinel, "sentinel", "", "policy version sentinel of the legacy strategy")

	if err := flags.Parse(args); err != nil {
		return "", Session{}, fmt.Errorf("parse flags: %w", err)
	}

	strategy, err := ParseStrategy(strategyName)
	if err != nil {
		return "", Session{}, err
	}

	session.Strategy = strategy

	return runtimeDir, session, nil
}

// WatcherMain is the entry point of the watcher process.
func WatcherMain() {
	ctx := klog.SetupKernel(context.Background(), "/proc", "/dev", os.Stderr)

	if err := runWatcher(ctx, os.Args[1:]); err != nil {
		slog.ErrorContext(ctx, "Policy watcher failed", slog.Any("error", err))
		os.Exit(1)
	}

	os.Exit(0)
}

func runWatcher(ctx context.Context, args []string) error {
	runtimeDir, session, err := parseWatcherArgs(args)
	if err != nil {
		return err
	}

	paths := DefaultPaths(runtimeDir)

	watcher := &Watcher{
		Paths:   paths,
		Session: session,
		Mounter: mount.Syscalls{},
		Loader: &ToolLoader{
			Tool:    paths.PolicyTool,
			TempDir: paths.MockDir,
		},
		Rules: LoadRules(ctx, paths.PreinitDir),
	}

	return watcher.Run(ctx)
}
