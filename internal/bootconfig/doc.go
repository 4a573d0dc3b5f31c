// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bootconfig acquires the boot configuration.
//
// The configuration is merged from the kernel command line, the boot config
// blob, the persisted property file and device tree nodes. Reading never
// fails. Missing or malformed sources only leave fields unset.
package bootconfig
