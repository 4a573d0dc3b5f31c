// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bootconfig

import (
	"strings"
)

// MaxValueLen is the maximum length of a value accepted by [BootConfig.Merge].
const MaxValueLen = 256

// Keys read from the configuration sources.
const (
	KeySlotSuffix       = "androidboot.slot_suffix"
	KeySlot             = "androidboot.slot"
	KeySkipInitramfs    = "skip_initramfs"
	KeyForceNormalBoot  = "androidboot.force_normal_boot"
	KeyRootWait         = "rootwait"
	KeyDTDir            = "androidboot.android_dt_dir"
	KeyHardware         = "androidboot.hardware"
	KeyHardwarePlatform = "androidboot.hardware.platform"
	KeyFstabSuffix      = "androidboot.fstab_suffix"
	KeyEmulator         = "qemu"
	KeyPartitionMap     = "androidboot.partition_map"
	KeyEnterRecovery    = "enter_recovery"
)

// BootConfig is the boot configuration. It is filled once during startup
// and read-only afterwards.
type BootConfig struct {
	SkipInitramfs    bool              `yaml:"skip_initramfs"`
	ForceNormalBoot  bool              `yaml:"force_normal_boot"`
	RootWait         bool              `yaml:"rootwait"`
	Emulator         bool              `yaml:"emulator"`
	EnterRecovery    bool              `yaml:"enter_recovery"`
	Slot             string            `yaml:"slot"`
	DTDir            string            `yaml:"dt_dir"`
	FstabSuffix      string            `yaml:"fstab_suffix"`
	Hardware         string            `yaml:"hardware"`
	HardwarePlatform string            `yaml:"hardware_platform"`
	PartitionMap     map[string]string `yaml:"partition_map,omitempty"`
}

// Merge applies the given pairs. Later pairs override earlier ones. Unknown
// keys and values longer than [MaxValueLen] are ignored.
func (c *BootConfig) Merge(pairs Pairs) {
	for _, pair := range pairs {
		if len(pair.Value) > MaxValueLen {
			continue
		}

		c.set(pair.Key, pair.Value)
	}
}

func (c *BootConfig) set(key, value string) {
	switch key {
	case KeySlotSuffix:
		// Some A-only devices set it anyway.
		if value != "normal" {
			c.Slot = value
		}
	case KeySlot:
		c.Slot = "_" + value
	case KeySkipInitramfs:
		c.SkipInitramfs = true
	case KeyForceNormalBoot:
		c.ForceNormalBoot = strings.HasPrefix(value, "1")
	case KeyRootWait:
		c.RootWait = true
	case KeyDTDir:
		c.DTDir = value
	case KeyHardware:
		c.Hardware = value
	case KeyHardwarePlatform:
		c.HardwarePlatform = value
	case KeyFstabSuffix:
		c.FstabSuffix = value
	case KeyEmulator:
		c.Emulator = true
	case KeyPartitionMap:
		c.PartitionMap = parsePartitionMap(value)
	case KeyEnterRecovery:
		c.EnterRecovery = strings.HasPrefix(value, "1")
	}
}

// Kirin reports whether the hardware is a HiSilicon Kirin platform. Those
// boot recovery with the normal ramdisk and request it on the command line.
func (c *BootConfig) Kirin() bool {
	return strings.Contains(c.Hardware, "kirin") || strings.Contains(c.Hardware, "hi3660")
}

// parsePartitionMap parses "dev,name;dev,name".
func parsePartitionMap(value string) map[string]string {
	partitions := map[string]string{}

	for entry := range strings.SplitSeq(value, ";") {
		dev, name, found := strings.Cut(entry, ",")
		if !found || dev == "" || name == "" {
			continue
		}

		partitions[dev] = name
	}

	return partitions
}
