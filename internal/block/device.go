// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package block

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Device is a block device as listed in sysfs.
type Device struct {
	Major    uint32
	Minor    uint32
	DevName  string
	PartName string
	DMName   string
}

// Matches returns true if name matches the partition name or the device
// mapper name of the device, ignoring case.
func (d Device) Matches(name string) bool {
	if name == "" {
		return false
	}

	return strings.EqualFold(d.PartName, name) || strings.EqualFold(d.DMName, name)
}

// Dev returns the device number.
func (d Device) Dev() uint64 {
	return unix.Mkdev(d.Major, d.Minor)
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%d, %d)", d.DevName, d.Major, d.Minor)
}

// Scan lists the block devices found in sysfs, which must be rooted at the
// sysfs mount point.
//
// Devices without partition name get the name from partitionMap that is
// keyed by their device name, if present. Unreadable entries are skipped.
func Scan(sysfs fs.FS, partitionMap map[string]string) ([]Device, error) {
	const dir = "dev/block"

	entries, err := fs.ReadDir(sysfs, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	devices := make([]Device, 0, len(entries))

	for _, entry := range entries {
		devDir := path.Join(dir, entry.Name())

		uevent, err := fs.ReadFile(sysfs, path.Join(devDir, "uevent"))
		if err != nil {
			continue
		}

		device := parseUevent(uevent)

		dmName, err := fs.ReadFile(sysfs, path.Join(devDir, "dm/name"))
		if err == nil {
			device.DMName = strings.TrimSpace(string(dmName))
		} else if !errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if device.PartName == "" {
			device.PartName = partitionMap[device.DevName]
		}

		devices = append(devices, device)
	}

	return devices, nil
}

func parseUevent(data []byte) Device {
	var device Device

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}

		switch key {
		case "MAJOR":
			device.Major = parseNumber(value)
		case "MINOR":
			device.Minor = parseNumber(value)
		case "DEVNAME":
			device.DevName = value
		case "PARTNAME":
			device.PartName = value
		}
	}

	return device
}

func parseNumber(s string) uint32 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0
	}

	return uint32(n)
}
