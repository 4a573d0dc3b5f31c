// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import "path/filepath"

// Fixed locations on the boot ramdisk and the system root.
const (
	InitPath          = "/init"
	SystemInit        = "/system/bin/init"
	BackupDir         = "/.backup"
	BackupInit        = "/.backup/init"
	OverlayDir        = "/overlay.d"
	DataDir           = "/data"
	RedirectPath      = "/data/bootinit"
	DataInit          = "/data/init"
	FirstStageRamdisk = "/first_stage_ramdisk"
	SystemRoot        = "/system_root"
	ApexDir           = "/apex"
	CompressedRamdisk = "/ramdisk.cpio.xz"
	Sepolicy          = "/sepolicy"
	SepolicyUnlocked  = "/sepolicy.unlocked"
	NewInitRCDir      = "/system/etc/init/hw"
	PreinitNode       = "/dev/preinit"
	RootNode          = "/dev/root"
	ProcFilesystems   = "/proc/filesystems"

	// SbinDir is the preferred runtime directory.
	SbinDir = "/sbin"

	// DebugRamdiskDir is the runtime directory if there is no /sbin.
	DebugRamdiskDir = "/debug_ramdisk"

	// InternalDir is the directory for private state in the runtime
	// directory.
	InternalDir = ".bootinit"

	// SelfName is the name of this program in the runtime directory.
	SelfName = "bootinit"
)

var recoveryBinaries = []string{"/sbin/recovery", "/system/bin/recovery"}

// Paths resolves the fixed locations below a root directory.
type Paths struct {
	Root string
}

// DefaultPaths returns the paths for the live root file system.
func DefaultPaths() Paths {
	return Paths{Root: "/"}
}

// Join returns the path of the absolute path elements below the root.
func (p Paths) Join(elem ...string) string {
	root := p.Root
	if root == "" {
		root = "/"
	}

	return filepath.Join(append([]string{root}, elem...)...)
}
