// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package block

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
)

// Default retry parameters for [Discovery].
const (
	DefaultRetries = 3
	DefaultDelay   = 100 * time.Millisecond
)

// Discovery finds block devices by name. The device list is read on first
// use and cached. It is read again only if a requested device is not found.
//
// It is not safe for concurrent use.
type Discovery struct {
	// SysFS is the file system mounted at /sys.
	SysFS fs.FS

	// PartitionMap assigns partition names to unnamed devices by device
	// name.
	PartitionMap map[string]string

	// Retries is the number of rescans after the first lookup failed.
	Retries uint

	// Delay is the time waited before each rescan.
	Delay time.Duration

	devices []Device
	scanned bool
}

// NewDiscovery returns a [Discovery] with default retry parameters.
func NewDiscovery(sysfs fs.FS, partitionMap map[string]string) *Discovery {
	return &Discovery{
		SysFS:        sysfs,
		PartitionMap: partitionMap,
		Retries:      DefaultRetries,
		Delay:        DefaultDelay,
	}
}

// Devices returns the cached device list, scanning sysfs on first use.
func (d *Discovery) Devices() ([]Device, error) {
	if d.scanned {
		return d.devices, nil
	}

	return d.Rescan()
}

// Rescan reads the device list from sysfs again.
func (d *Discovery) Rescan() ([]Device, error) {
	devices, err := Scan(d.SysFS, d.PartitionMap)
	if err != nil {
		return nil, err
	}

	d.devices = devices
	d.scanned = true

	return devices, nil
}

// Find returns the first device matching name, see [Device.Matches]. If
// none is found, the device list is scanned again up to [Discovery.Retries]
// times. It stops waiting once ctx is done.
func (d *Discovery) Find(ctx context.Context, name string) (Device, error) {
	var (
		found Device
		ok    bool
	)

	action := func(attempt uint) error {
		var (
			devices []Device
			err     error
		)

		if attempt == 0 {
			devices, err = d.Devices()
		} else {
			slog.DebugContext(ctx, "Rescan block devices", slog.String("name", name), slog.Uint64("attempt", uint64(attempt)))
			devices, err = d.Rescan()
		}

		if err != nil {
			return err
		}

		for _, device := range devices {
			if device.Matches(name) {
				found, ok = device, true
				return nil
			}
		}

		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	err := retry.Retry(
		action,
		strategy.Limit(d.Retries+1),
		waitContext(ctx, d.Delay),
	)

	switch {
	case ok:
		return found, nil
	case ctx.Err() != nil:
		return Device{}, fmt.Errorf("find %s: %w", name, ctx.Err())
	default:
		return Device{}, err
	}
}

// waitContext works like [strategy.Wait] but gives up once ctx is done.
func waitContext(ctx context.Context, delay time.Duration) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return ctx.Err() == nil
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
			return true
		}
	}
}

// FindFirst returns the device matching the first name in names that is
// found. Each name gets the full retry budget.
func (d *Discovery) FindFirst(ctx context.Context, names ...string) (Device, string, error) {
	for _, name := range names {
		device, err := d.Find(ctx, name)
		if err == nil {
			return device, name, nil
		}

		if ctx.Err() != nil {
			return Device{}, "", err
		}

		slog.DebugContext(ctx, "Block device not found", slog.String("name", name))
	}

	return Device{}, "", fmt.Errorf("%w: %q", ErrNotFound, names)
}

// WaitFor calls [Discovery.FindFirst] until a device is found, waiting
// interval between rounds. It only returns early if ctx is done.
func (d *Discovery) WaitFor(ctx context.Context, interval time.Duration, names ...string) (Device, string, error) {
	for {
		device, name, err := d.FindFirst(ctx, names...)
		if err == nil {
			return device, name, nil
		}

		select {
		case <-ctx.Done():
			return Device{}, "", fmt.Errorf("wait for %q: %w", names, ctx.Err())
		case <-time.After(interval):
		}
	}
}
