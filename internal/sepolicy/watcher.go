// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aibor/bootinit/internal/files"
	"github.com/aibor/bootinit/internal/mount"
	slogctx "github.com/veqryn/slog-context"
)

// DefaultPollInterval is the interval for waiting on the real init where no
// blocking primitive exists.
const DefaultPollInterval = 100 * time.Millisecond

// InitLabel is set on the real init after the patched policy is loaded.
const InitLabel = "u:object_r:init_exec:s0"

// Watcher completes the interception protocol after the real init has been
// started.
//
// Each strategy waits for the real init to hand over the original policy,
// loads the patched policy and releases the real init exactly once. The
// real init never gets past its own policy load before the patched policy
// is in place, as it is blocked on a fifo until then.
type Watcher struct {
	Paths   Paths
	Session Session
	Mounter mount.Mounter
	Loader  Loader

	// Rules are applied on top of the builtin rules.
	Rules string

	PollInterval time.Duration
}

// Run executes the protocol for the session's strategy. It blocks until the
// real init is released or an error occurs.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = slogctx.Append(ctx, slog.String("strategy", w.Session.Strategy.String()))

	var err error

	switch w.Session.Strategy {
	case StrategyPreload:
		err = w.runPreload(ctx)
	case StrategySelinuxFS:
		err = w.runSelinuxFS(ctx)
	case StrategyLegacy:
		err = w.runLegacy(ctx)
	default:
		return ErrNoStrategy
	}

	if err != nil {
		return err
	}

	if err := os.RemoveAll(w.Paths.MockDir); err != nil {
		slog.WarnContext(ctx, "Remove mock directory", slog.Any("error", err))
	}

	slog.InfoContext(ctx, "Patched policy loaded")

	return nil
}

func (w *Watcher) runPreload(ctx context.Context) error {
	// Blocks until the preloaded library staged the policy.
	ack, err := openFifo(w.Paths.PreloadAck, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer ack.Close()

	policy, err := w.Loader.Load(ctx, w.Paths.PreloadPolicy)
	if err != nil {
		return err
	}

	for _, path := range []string{w.Paths.PreloadPolicy, w.Paths.PreloadAck, w.Paths.PreloadLib} {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	if err := apply(ctx, policy, w.Rules, w.Paths.Load()); err != nil {
		return err
	}

	w.restoreLabels(ctx)

	if _, err := ack.WriteString("0"); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}

	return ack.Close()
}

func (w *Watcher) runSelinuxFS(ctx context.Context) error {
	// Blocks until the real init reads the enforce node.
	enforce, err := openFifo(w.Paths.mock(w.Paths.Enforce()), os.O_WRONLY)
	if err != nil {
		return err
	}
	defer enforce.Close()

	if err := w.cleanupAndLoad(ctx); err != nil {
		return err
	}

	value, err := os.ReadFile(w.Paths.Enforce())
	if err != nil {
		return fmt.Errorf("read enforce: %w", err)
	}

	if _, err := enforce.Write(value); err != nil {
		return fmt.Errorf("relay enforce: %w", err)
	}

	return enforce.Close()
}

func (w *Watcher) runLegacy(ctx context.Context) error {
	if err := w.waitExists(ctx, w.Paths.Enforce()); err != nil {
		return err
	}

	// Some legacy inits open the enforce node read-write, which does not
	// block on fifos. They all write checkreqprot after loading the policy.
	if err := mockFile(ctx, w.Mounter, w.Paths.Load(), w.Paths.mock(w.Paths.Load())); err != nil {
		return err
	}

	reqProtMock := w.Paths.mock(w.Paths.CheckReqProt())
	if err := mockFifo(ctx, w.Mounter, w.Paths.CheckReqProt(), reqProtMock); err != nil {
		return err
	}

	// Releases the real init blocked on opening the sentinel.
	version, err := openFifo(w.Paths.MockVersion(), os.O_WRONLY)
	if err != nil {
		return err
	}

	_ = version.Close()

	if err := w.Mounter.Unmount(w.Session.Sentinel); err != nil {
		return err
	}

	if err := w.waitSettled(ctx, w.Paths.mock(w.Paths.Load())); err != nil {
		return err
	}

	if err := w.cleanupAndLoad(ctx); err != nil {
		return err
	}

	if err := writeNode(w.Paths.CheckReqProt(), "0"); err != nil {
		return err
	}

	// Releases the real init blocked on opening checkreqprot.
	reqProt, err := openFifo(reqProtMock, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer reqProt.Close()

	if _, err := io.Copy(io.Discard, reqProt); err != nil {
		return fmt.Errorf("drain checkreqprot: %w", err)
	}

	return nil
}

// cleanupAndLoad removes the synthetic nodes and loads the patched policy
// from the load mock.
func (w *Watcher) cleanupAndLoad(ctx context.Context) error {
	for _, path := range []string{
		w.Paths.Init,
		w.Paths.Load(),
		w.Paths.Enforce(),
		w.Paths.CheckReqProt(),
	} {
		if err := w.Mounter.Unmount(path); err != nil {
			slog.DebugContext(ctx, "Skip unmount", slog.String("path", path), slog.Any("error", err))
		}
	}

	policy, err := w.Loader.Load(ctx, w.Paths.mock(w.Paths.Load()))
	if err != nil {
		return err
	}

	if err := apply(ctx, policy, w.Rules, w.Paths.Load()); err != nil {
		return err
	}

	// Relabeling the real init after the fact does not work reliably.
	initPath, err := filepath.EvalSymlinks(w.Paths.Init)
	if err == nil {
		err = files.SetLabel(initPath, InitLabel)
	}

	if err != nil {
		slog.WarnContext(ctx, "Label init", slog.Any("error", err))
	}

	w.restoreLabels(ctx)

	return nil
}

// restoreLabels sets the labels the overlay targets had before they were
// shadowed. Labels can only be set once the policy is loaded.
func (w *Watcher) restoreLabels(ctx context.Context) {
	file, err := os.Open(w.Paths.LabelsFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(ctx, "Open labels", slog.Any("error", err))
		}

		return
	}
	defer file.Close()

	manifest, err := mount.ReadLabels(file)
	if err != nil {
		slog.WarnContext(ctx, "Read labels", slog.Any("error", err))
	}

	for _, entry := range manifest {
		if err := files.SetLabel(entry.Target, entry.Label); err != nil {
			slog.DebugContext(ctx, "Restore label", slog.Any("error", err))
		}
	}
}

func (w *Watcher) pollInterval() time.Duration {
	if w.PollInterval <= 0 {
		return DefaultPollInterval
	}

	return w.PollInterval
}

func (w *Watcher) waitExists(ctx context.Context, path string) error {
	for !files.Exists(path) {
		if err := sleep(ctx, w.pollInterval()); err != nil {
			return err
		}
	}

	return nil
}

// waitSettled waits for the file at path to be non-empty and to keep its
// size for one poll interval.
func (w *Watcher) waitSettled(ctx context.Context, path string) error {
	var size int64

	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		if size != 0 && size == info.Size() {
			return nil
		}

		size = info.Size()

		if err := sleep(ctx, w.pollInterval()); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// openFifo opens a fifo end. It blocks until the other end is opened.
func openFifo(path string, flag int) (*os.File, error) {
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open fifo %s: %w", path, err)
	}

	return file, nil
}

func writeNode(path, value string) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(value); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return file.Close()
}
