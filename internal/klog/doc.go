// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package klog sets up structured logging into the kernel log.
//
// Before the real init runs there is no logging daemon and usually no
// console, so the kernel ring buffer is the only place diagnostics survive.
package klog
