// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package files provides file helpers for the early boot environment.
//
// It copies and moves trees while keeping ownership, modes and security
// labels, restores compressed files, extracts cpio archives and patches
// strings inside binaries.
package files
