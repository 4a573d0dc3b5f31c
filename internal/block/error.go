// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package block

import "errors"

// ErrNotFound is returned if no device matches the requested name.
var ErrNotFound = errors.New("block device not found")
