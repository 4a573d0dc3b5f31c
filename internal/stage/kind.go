// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"fmt"
	"log/slog"

	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/files"
)

// SecondStageArg is the first argument that selects [KindSecondStage]. The
// redirected first stage init passes it when it executes this program again.
const SecondStageArg = "selinux_setup"

// Kind identifies a boot stage.
type Kind int

// Boot stage kinds.
const (
	KindFirstStage Kind = iota
	KindSecondStage
	KindLegacySAR
	KindPureRamdisk
	KindRecovery
)

var kindNames = map[Kind]string{
	KindFirstStage:  "first_stage",
	KindSecondStage: "second_stage",
	KindLegacySAR:   "legacy_sar",
	KindPureRamdisk: "pure_ramdisk",
	KindRecovery:    "recovery",
}

func (k Kind) String() string {
	name, exists := kindNames[k]
	if !exists {
		return fmt.Sprintf("Kind(%d)", int(k))
	}

	return name
}

// MarshalText implements [encoding.TextMarshaler].
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// LogValue implements [slog.LogValuer].
func (k Kind) LogValue() slog.Value {
	return slog.StringValue(k.String())
}

// Probe holds the file system facts the stage decision depends on.
type Probe struct {
	// Recovery is true if a recovery binary is present.
	Recovery bool `yaml:"recovery"`

	// TwoStage is true if the system boots with a first and second stage
	// init.
	TwoStage bool `yaml:"two_stage"`
}

// Probe inspects the root file system.
func (p Paths) Probe() Probe {
	var probe Probe

	for _, path := range recoveryBinaries {
		if files.Exists(p.Join(path)) {
			probe.Recovery = true
		}
	}

	probe.TwoStage = files.Exists(p.Join(ApexDir)) || files.Exists(p.Join(SystemInit))
	if !probe.TwoStage {
		found, err := files.Contains(p.Join(BackupInit), SecondStageArg)
		probe.TwoStage = err == nil && found
	}

	return probe
}

// Decide picks the stage from the boot configuration and the probe. The
// configuration flags take precedence over the probe.
func Decide(config *bootconfig.BootConfig, probe Probe) Kind {
	switch {
	case config.SkipInitramfs:
		return KindLegacySAR
	case config.ForceNormalBoot:
		return KindFirstStage
	case probe.Recovery:
		return KindRecovery
	case probe.TwoStage:
		return KindFirstStage
	default:
		return KindPureRamdisk
	}
}

// IsSecondStage returns true if args select [KindSecondStage].
func IsSecondStage(args []string) bool {
	return len(args) > 1 && args[1] == SecondStageArg
}

// Select decides the stage for the given arguments. The configuration is
// acquired only if the arguments do not select the second stage, which
// runs with an empty configuration.
func Select(
	args []string,
	paths Paths,
	acquire func() *bootconfig.BootConfig,
) (Kind, *bootconfig.BootConfig) {
	if IsSecondStage(args) {
		return KindSecondStage, &bootconfig.BootConfig{}
	}

	config := acquire()

	return Decide(config, paths.Probe()), config
}
