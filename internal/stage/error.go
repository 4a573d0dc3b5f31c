// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import "errors"

var (
	// ErrPanic is returned if a stage panicked.
	ErrPanic = errors.New("stage panicked")

	// ErrNoSystemPartition is returned if no system partition could be found
	// to mount as root.
	ErrNoSystemPartition = errors.New("no system partition")

	// ErrNoRulesDir is returned if the preinit device has no policy rules
	// directory.
	ErrNoRulesDir = errors.New("no rules directory")

	// ErrUnknownKind is returned for a stage kind without implementation.
	ErrUnknownKind = errors.New("unknown stage kind")
)
