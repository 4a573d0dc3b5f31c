// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bootconfig

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aibor/bootinit/internal/mount"
)

// Sources of the configuration, relative to the root file system.
const (
	CmdlinePath    = "proc/cmdline"
	BootconfigPath = "proc/bootconfig"
	PropsPath      = ".backup/.bootinit"
)

// DefaultDTDir is the device tree directory used, if the command line does
// not name one.
const DefaultDTDir = "/proc/device-tree/firmware/android"

// Persisted property keys.
const (
	PropRecoveryMode  = "RECOVERYMODE"
	PropPreinitDevice = "PREINITDEVICE"
)

const propsFileMode = 0o600

// MaxSourceSize limits how much of a single source is read.
const MaxSourceSize = 64 << 10

// Reader acquires the [BootConfig].
type Reader struct {
	// Root is the root file system.
	Root fs.FS

	// Keys is asked for the recovery key combination, if the persisted
	// properties request recovery mode. If nil, the key is never held.
	Keys KeyProbe

	// Mounter and Ledger are used by [Reader.Acquire] to mount the kernel
	// file systems.
	Mounter mount.Mounter
	Ledger  *mount.Ledger

	// AppendProps persists pairs to the property file, so later stages see
	// them. If nil, nothing is persisted.
	AppendProps func(pairs Pairs) error
}

// Acquire mounts the kernel pseudo file systems, records them in the
// ledger and reads the configuration. Mount failures are logged only.
func (r *Reader) Acquire(ctx context.Context) *BootConfig {
	err := mount.MountAll(r.Mounter, r.Ledger, mount.KernelMountPoints())
	if err := mount.LogOptional(err); err != nil {
		slog.WarnContext(ctx, "mount kernel file systems", slog.Any("error", err))
	}

	return r.Read(ctx)
}

// Read reads all configuration sources in order. Sources that are missing
// are skipped.
func (r *Reader) Read(ctx context.Context) *BootConfig {
	config := &BootConfig{}

	config.Merge(ParseCmdline(r.readSource(ctx, CmdlinePath)))
	config.Merge(ParseBootconfig(r.readSource(ctx, BootconfigPath)))

	props := ParseProps(r.readSource(ctx, PropsPath))
	config.Merge(props)

	value, _ := props.Get(PropRecoveryMode)
	recoveryMode := value == "true"

	if !recoveryMode && config.EnterRecovery && config.Kirin() {
		slog.InfoContext(ctx, "Kernel requests recovery", slog.String("hardware", config.Hardware))
		r.persist(ctx, Pairs{{Key: PropRecoveryMode, Value: "true"}})

		recoveryMode = true
	}

	if recoveryMode {
		slog.InfoContext(ctx, "Running in recovery mode, waiting for key")

		config.SkipInitramfs = r.Keys == nil || !r.Keys.VolumeUpHeld(ctx)
	}

	if config.DTDir == "" {
		config.DTDir = DefaultDTDir
	}

	r.readDT(ctx, config.DTDir, "fstab_suffix", &config.FstabSuffix)
	r.readDT(ctx, config.DTDir, "hardware", &config.Hardware)
	r.readDT(ctx, config.DTDir, "hardware.platform", &config.HardwarePlatform)

	return config
}

func (r *Reader) persist(ctx context.Context, pairs Pairs) {
	if r.AppendProps == nil {
		return
	}

	if err := r.AppendProps(pairs); err != nil {
		slog.WarnContext(ctx, "Persist properties", slog.Any("error", err))
	}
}

func (r *Reader) readSource(ctx context.Context, name string) string {
	file, err := r.Root.Open(name)
	if err != nil {
		slog.DebugContext(ctx, "Skip config source", slog.String("path", name), slog.Any("error", err))
		return ""
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxSourceSize))
	if err != nil {
		slog.DebugContext(ctx, "Skip config source", slog.String("path", name), slog.Any("error", err))
		return ""
	}

	return string(data)
}

// readDT overrides dst with the content of the device tree node name, if it
// exists and is not empty.
func (r *Reader) readDT(ctx context.Context, dir, name string, dst *string) {
	nodePath := strings.TrimPrefix(path.Join(dir, name), "/")
	if !fs.ValidPath(nodePath) {
		return
	}

	value := strings.TrimRight(r.readSource(ctx, nodePath), "\x00\n")
	if value == "" || len(value) > MaxValueLen {
		return
	}

	*dst = value
}

// ReadProps reads the persisted property file at name in root.
func ReadProps(root fs.FS, name string) Pairs {
	data, err := fs.ReadFile(root, name)
	if err != nil {
		return nil
	}

	if len(data) > MaxSourceSize {
		data = data[:MaxSourceSize]
	}

	return ParseProps(string(data))
}

// AppendProps appends pairs to the persisted property file at path. The file
// is created if it does not exist.
func AppendProps(path string, pairs Pairs) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, propsFileMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	for _, pair := range pairs {
		if _, err := fmt.Fprintf(file, "%s=%s\n", pair.Key, pair.Value); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	return file.Close()
}
