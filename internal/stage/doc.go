// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stage selects and runs the boot stage.
//
// A stage prepares the root file system for the real init and finally
// replaces the process image with it. Which stage runs is decided once from
// the arguments, the boot configuration and a few file system probes. See
// [Decide].
package stage
