// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mount assembles the root file system before the real init runs.
//
// It provides the mount ledger that records every mount done outside the
// final root, the well-known pseudo file system mounts, the switch into a
// staged root directory and the overlay materialization that bind mounts
// files of a staging tree over existing files of the live file system.
package mount
