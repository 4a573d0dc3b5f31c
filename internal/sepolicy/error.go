// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import "errors"

var (
	// ErrNoStrategy is returned if none of the interception strategies
	// applies to the real init.
	ErrNoStrategy = errors.New("no interception strategy")

	// ErrUnknownStrategy is returned for invalid strategy names.
	ErrUnknownStrategy = errors.New("unknown strategy")
)
