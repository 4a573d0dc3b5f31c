// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import "errors"

var (
	// ErrPatternTooLong is returned if a replacement does not fit into the
	// pattern it replaces.
	ErrPatternTooLong = errors.New("replacement longer than pattern")

	// ErrEmptyPattern is returned if the search pattern is empty.
	ErrEmptyPattern = errors.New("empty pattern")

	// ErrInvalidPath is returned for archive entries escaping the target.
	ErrInvalidPath = errors.New("invalid path")
)
