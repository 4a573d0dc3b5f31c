// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import "path/filepath"

// Paths are the file system locations used by the interception protocol.
type Paths struct {
	// Init is the real init about to be executed.
	Init string

	// SystemInit is the second stage init of two-stage boots.
	SystemInit string

	Proc string
	Sys  string

	// SelinuxDir is where selinuxfs is mounted.
	SelinuxDir string

	// MockDir holds the synthetic nodes bound over the real ones.
	MockDir string

	// SelinuxVersion and SepolicyVersion are the policy version files some
	// real inits open right before loading the policy.
	SelinuxVersion  string
	SepolicyVersion string

	// PreloadSource is the interposition library in the runtime directory.
	// It is installed to PreloadLib. It writes the policy to PreloadPolicy and
	// waits on PreloadAck.
	PreloadSource string
	PreloadLib    string
	PreloadPolicy string
	PreloadAck    string

	// LabelsFile lists the overlay targets and their original labels.
	LabelsFile string

	// PreinitDir is the mirror of the rules directory on the preinit device.
	PreinitDir string

	// PolicyTool is the external policy compiler.
	PolicyTool string
}

// DefaultPaths returns the paths used at boot with the given runtime
// directory.
func DefaultPaths(runtimeDir string) Paths {
	internalDir := filepath.Join(runtimeDir, ".bootinit")

	return Paths{
		Init:            "/init",
		SystemInit:      "/system/bin/init",
		Proc:            "/proc",
		Sys:             "/sys",
		SelinuxDir:      "/sys/fs/selinux",
		MockDir:         filepath.Join(internalDir, "selinux"),
		SelinuxVersion:  "/selinux_version",
		SepolicyVersion: "/sepolicy_version",
		PreloadSource:   filepath.Join(runtimeDir, "init-ld"),
		PreloadLib:      "/dev/preload.so",
		PreloadPolicy:   "/dev/sepolicy",
		PreloadAck:      "/dev/ack",
		LabelsFile:      filepath.Join(internalDir, "rootdir.labels"),
		PreinitDir:      filepath.Join(internalDir, "preinit"),
		PolicyTool:      filepath.Join(runtimeDir, "bootinit-policy"),
	}
}

// Under returns a copy of p with all paths below root.
func (p Paths) Under(root string) Paths {
	for _, path := range p.all() {
		*path = filepath.Join(root, *path)
	}

	return p
}

func (p *Paths) all() []*string {
	return []*string{
		&p.Init,
		&p.SystemInit,
		&p.Proc,
		&p.Sys,
		&p.SelinuxDir,
		&p.MockDir,
		&p.SelinuxVersion,
		&p.SepolicyVersion,
		&p.PreloadSource,
		&p.PreloadLib,
		&p.PreloadPolicy,
		&p.PreloadAck,
		&p.LabelsFile,
		&p.PreinitDir,
		&p.PolicyTool,
	}
}

// Load is the node the compiled policy is written to.
func (p Paths) Load() string {
	return filepath.Join(p.SelinuxDir, "load")
}

// Enforce is the node to query and set enforcement with.
func (p Paths) Enforce() string {
	return filepath.Join(p.SelinuxDir, "enforce")
}

// CheckReqProt is the node legacy inits write after loading the policy.
func (p Paths) CheckReqProt() string {
	return filepath.Join(p.SelinuxDir, "checkreqprot")
}

func (p Paths) mock(node string) string {
	return filepath.Join(p.MockDir, filepath.Base(node))
}

// MockVersion is the fifo bound over the policy version sentinel.
func (p Paths) MockVersion() string {
	return filepath.Join(p.MockDir, "version")
}
