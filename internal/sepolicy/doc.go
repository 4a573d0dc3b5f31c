// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sepolicy intercepts the mandatory access control policy the real
// init loads and replaces it with a patched one.
//
// The real init is not aware of the substitution. Depending on the platform
// one of three strategies is used to stall it right before the policy is
// loaded: a preloaded library calling back into a fifo, synthetic nodes bound
// over the selinuxfs nodes or a sentinel fifo bound over the policy version
// file. The interception surface is set up by [Arm] in the boot process. The
// [Watcher] then runs in a separate process, so the real init can be executed
// without delay, and completes the protocol.
package sepolicy
