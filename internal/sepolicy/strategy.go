// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/aibor/bootinit/internal/files"
)

// Strategy is the way the real init is intercepted.
type Strategy int

const (
	// StrategyNone means the policy can not be intercepted.
	StrategyNone Strategy = iota

	// StrategyPreload injects a library into the dynamically linked second
	// stage init that replaces its policy load function.
	StrategyPreload

	// StrategySelinuxFS replaces the load and enforce nodes of an early
	// mounted selinuxfs.
	StrategySelinuxFS

	// StrategyLegacy blocks the real init on the policy version file until
	// it has mounted selinuxfs itself. Then the load and checkreqprot nodes
	// are replaced.
	StrategyLegacy
)

var strategyNames = map[Strategy]string{
	StrategyNone:      "none",
	StrategyPreload:   "preload",
	StrategySelinuxFS: "selinuxfs",
	StrategyLegacy:    "legacy",
}

func (s Strategy) String() string {
	if name, exists := strategyNames[s]; exists {
		return name
	}

	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy returns the [Strategy] with the given name.
func ParseStrategy(name string) (Strategy, error) {
	for strategy, strategyName := range strategyNames {
		if strategyName == name {
			return strategy, nil
		}
	}

	return StrategyNone, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
}

// Markers found in the real init.
const (
	// SplitPolicyMarker is referenced by inits that load split policies
	// from an early mounted selinuxfs.
	SplitPolicyMarker = "/system/etc/selinux/plat_sepolicy.cil"
	SelinuxVersion    = "/selinux_version"
	SepolicyVersion   = "/sepolicy_version"
)

// Session is the interception state shared by the boot process and the
// watcher.
type Session struct {
	Strategy Strategy

	// Sentinel is the policy version file of [StrategyLegacy].
	Sentinel string
}

// Detect probes the real inits for the strategy to use.
//
// A dynamically linked second stage init is intercepted by preloading.
// Otherwise the init is scanned for known path markers. [ErrNoStrategy] is
// returned if none is found.
func Detect(paths Paths) (Session, error) {
	if files.Exists(paths.SystemInit) {
		dynamic, err := files.IsDynamic(paths.SystemInit)
		if err == nil && dynamic {
			return Session{Strategy: StrategyPreload}, nil
		}
	}

	data, err := os.ReadFile(paths.Init)
	if err != nil {
		return Session{}, fmt.Errorf("read init: %w", err)
	}

	switch {
	case bytes.Contains(data, []byte(SplitPolicyMarker)):
		return Session{Strategy: StrategySelinuxFS}, nil
	case bytes.Contains(data, []byte(SelinuxVersion)):
		return Session{Strategy: StrategyLegacy, Sentinel: paths.SelinuxVersion}, nil
	case bytes.Contains(data, []byte(SepolicyVersion)):
		return Session{Strategy: StrategyLegacy, Sentinel: paths.SepolicyVersion}, nil
	default:
		return Session{}, ErrNoStrategy
	}
}
