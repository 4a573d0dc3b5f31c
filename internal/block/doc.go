// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package block discovers block devices in sysfs and binds them to device
// nodes.
//
// The device list is read once and re-read only when a requested partition
// is missing, since device nodes appear asynchronously during early boot.
package block
