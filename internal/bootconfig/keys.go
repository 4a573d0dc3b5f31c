// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bootconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Key probe defaults: sample every 10ms for 5 seconds and require the key to
// be held for 3 seconds.
const (
	DefaultKeyInterval  = 10 * time.Millisecond
	DefaultKeySamples   = 500
	DefaultKeyThreshold = 300
)

// Input event constants from linux/input.h.
const (
	inputMajor       = 13
	firstEventMinor  = 64
	lastEventMinor   = 95
	evKey            = 0x01
	keyVolumeUp      = 115
	keyPower         = 116
	keyMax           = 0x2ff
	keyBitmaskLength = keyMax/8 + 1

	iocRead     = 2
	iocNrShift  = 0
	iocTypShift = 8
	iocSzShift  = 16
	iocDirShift = 30
)

// KeyProbe senses the recovery key combination.
type KeyProbe interface {
	VolumeUpHeld(ctx context.Context) bool
}

// KeyState reports if a key is currently pressed.
type KeyState interface {
	Pressed(code int) (bool, error)
}

// EventProbe implements [KeyProbe] on the kernel's input event devices.
type EventProbe struct {
	// NodeDir is the directory temporary device nodes are created in.
	NodeDir   string
	Interval  time.Duration
	Samples   int
	Threshold int
}

// NewEventProbe returns an [EventProbe] with default timing.
func NewEventProbe(nodeDir string) *EventProbe {
	return &EventProbe{
		NodeDir:   nodeDir,
		Interval:  DefaultKeyInterval,
		Samples:   DefaultKeySamples,
		Threshold: DefaultKeyThreshold,
	}
}

// VolumeUpHeld opens all input event devices with volume up and power keys
// and reports if volume up is held continuously for the threshold number of
// samples.
func (p *EventProbe) VolumeUpHeld(ctx context.Context) bool {
	devices := p.openDevices(ctx)
	if len(devices) == 0 {
		return false
	}

	defer func() {
		for _, device := range devices {
			_ = device.Close()
		}
	}()

	states := make([]KeyState, len(devices))
	for i, device := range devices {
		states[i] = device
	}

	held := Sustained(ctx, states, keyVolumeUp, p.Interval, p.Samples, p.Threshold)
	if held {
		slog.InfoContext(ctx, "KEY_VOLUMEUP detected: disable system-as-root")
	}

	return held
}

func (p *EventProbe) openDevices(ctx context.Context) []*eventDevice {
	var devices []*eventDevice

	node := filepath.Join(p.NodeDir, ".event")

	for minor := uint32(firstEventMinor); minor <= lastEventMinor; minor++ {
		device, err := openEventDevice(node, minor)
		if err != nil {
			continue
		}

		bits, err := device.keyBits()
		if err != nil || !hasRecoveryKeys(bits) {
			_ = device.Close()
			continue
		}

		devices = append(devices, device)
	}

	slog.DebugContext(ctx, "Input devices with recovery keys", slog.Int("count", len(devices)))

	return devices
}

// Sustained samples the given key states every interval up to samples
// times. It returns true as soon as the key was pressed on any of them for
// threshold consecutive samples.
func Sustained(
	ctx context.Context,
	states []KeyState,
	code int,
	interval time.Duration,
	samples int,
	threshold int,
) bool {
	held := 0

	for range samples {
		if anyPressed(states, code) {
			held++
		} else {
			held = 0
		}

		if held >= threshold {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}

	return false
}

// anyPressed queries every state, so each device is sampled exactly once per
// round.
func anyPressed(states []KeyState, code int) bool {
	result := false

	for _, state := range states {
		pressed, err := state.Pressed(code)
		if err == nil && pressed {
			result = true
		}
	}

	return result
}

type eventDevice struct {
	*os.File
}

func openEventDevice(node string, minor uint32) (*eventDevice, error) {
	dev := int(unix.Mkdev(inputMajor, minor)) //nolint:gosec

	if err := unix.Mknod(node, unix.S_IFCHR|0o444, dev); err != nil {
		return nil, fmt.Errorf("mknod %s: %w", node, err)
	}
	defer os.Remove(node)

	file, err := os.OpenFile(node, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", node, err)
	}

	return &eventDevice{file}, nil
}

// keyBits returns the keys the device supports.
func (d *eventDevice) keyBits() ([]byte, error) {
	return d.bits(ioc(iocRead, 'E', 0x20+evKey, keyBitmaskLength))
}

// hasRecoveryKeys reports if the key bits have volume up and power. Devices
// with volume keys only, like headsets, are not considered.
func hasRecoveryKeys(bits []byte) bool {
	return testBit(bits, keyVolumeUp) && testBit(bits, keyPower)
}

// Pressed implements [KeyState].
func (d *eventDevice) Pressed(code int) (bool, error) {
	bits, err := d.bits(ioc(iocRead, 'E', 0x18, keyBitmaskLength))
	if err != nil {
		return false, err
	}

	return testBit(bits, code), nil
}

func (d *eventDevice) bits(req uintptr) ([]byte, error) {
	buf := make([]byte, keyBitmaskLength)

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		d.Fd(),
		req,
		uintptr(unsafe.Pointer(&buf[0])),
	)
	if errno != 0 {
		return nil, fmt.Errorf("ioctl %#x: %w", req, errno)
	}

	return buf, nil
}

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypShift | nr<<iocNrShift | size<<iocSzShift
}

func testBit(bits []byte, code int) bool {
	idx := code / 8
	if idx >= len(bits) {
		return false
	}

	return bits[idx]&(1<<(code%8)) != 0
}
