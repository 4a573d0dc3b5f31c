// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package klog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sys/unix"
)

// Prefix is prepended to every kernel log record.
const Prefix = "bootinit: "

const (
	kmsgMajor = 1
	kmsgMinor = 11
)

// Writer writes every call as a single prefixed kernel log record.
type Writer struct {
	w      io.Writer
	prefix []byte
}

// NewWriter returns a [Writer] that prefixes each record with [Prefix].
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, prefix: []byte(Prefix)}
}

func (w *Writer) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(w.prefix)+len(p))
	buf = append(buf, w.prefix...)
	buf = append(buf, p...)

	if _, err := w.w.Write(buf); err != nil {
		return 0, err
	}

	return len(p), nil
}

// OpenKmsg opens the kernel log device for writing.
//
// If devPath does not exist, a private device node is created in tmpDir,
// opened and unlinked again right away.
func OpenKmsg(devPath, tmpDir string) (*os.File, error) {
	file, err := os.OpenFile(devPath, os.O_WRONLY|unix.O_CLOEXEC, 0)
	if err == nil {
		return file, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}

	node := filepath.Join(tmpDir, ".kmsg")
	dev := int(unix.Mkdev(kmsgMajor, kmsgMinor))

	if err := unix.Mknod(node, unix.S_IFCHR|0o600, dev); err != nil {
		return nil, fmt.Errorf("mknod %s: %w", node, err)
	}
	defer os.Remove(node)

	file, err = os.OpenFile(node, os.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", node, err)
	}

	return file, nil
}

// DisableRateLimit turns off rate limiting of user space kernel log
// writes. Without it, most of a busy boot's records are dropped.
func DisableRateLimit(procDir string) error {
	path := filepath.Join(procDir, "sys/kernel/printk_devkmsg")

	if err := os.WriteFile(path, []byte("on\n"), 0); err != nil {
		return fmt.Errorf("sysctl printk_devkmsg: %w", err)
	}

	return nil
}

// Setup installs the default logger writing to w and returns a context
// carrying it. Attributes added with [slogctx.Append] are added to every
// record logged with that context.
func Setup(ctx context.Context, w io.Writer, level slog.Level) context.Context {
	handler := tint.NewHandler(w, &tint.Options{
		Level:   level,
		NoColor: true,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			// The kernel stamps every record itself.
			if len(groups) == 0 && attr.Key == slog.TimeKey {
				return slog.Attr{}
			}

			return attr
		},
	})

	logger := slog.New(slogctx.NewHandler(handler, &slogctx.HandlerOptions{}))
	slog.SetDefault(logger)

	return slogctx.NewCtx(ctx, logger)
}

// SetupKernel wires the default logger to the kernel log. It falls back to
// fallback if the kernel log can not be opened.
func SetupKernel(
	ctx context.Context,
	procDir string,
	tmpDir string,
	fallback io.Writer,
) context.Context {
	kmsg, err := OpenKmsg("/dev/kmsg", tmpDir)
	if err != nil {
		ctx = Setup(ctx, fallback, slog.LevelDebug)
		slog.WarnContext(ctx, "kernel log unavailable", slog.Any("error", err))

		return ctx
	}

	ctx = Setup(ctx, NewWriter(kmsg), slog.LevelDebug)

	if err := DisableRateLimit(procDir); err != nil {
		slog.DebugContext(ctx, "keep kernel log rate limit", slog.Any("error", err))
	}

	return ctx
}
