// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aibor/bootinit/internal/mount"
	"github.com/moby/sys/mountinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMountInfo = `1 0 0:2 / / rw - rootfs rootfs rw
20 1 0:20 / /proc rw,relatime - proc proc rw
21 1 0:21 / /sys rw,relatime - sysfs sysfs rw
22 21 0:22 / /sys/fs/selinux rw,relatime - selinuxfs selinuxfs rw
23 1 0:5 / /dev rw - tmpfs tmpfs rw,mode=755
24 23 0:23 / /dev/pts rw - devpts devpts rw
25 1 0:24 / /data rw - tmpfs tmpfs rw,mode=755
26 1 259:3 / /system_root ro - ext4 /dev/block/system ro
27 26 0:25 / /system_root/apex rw - tmpfs tmpfs rw
28 1 0:26 / /devices rw - tmpfs tmpfs rw
`

func TestMoveTargets(t *testing.T) {
	mounts, err := mountinfo.GetMountsFromReader(strings.NewReader(sampleMountInfo), nil)
	require.NoError(t, err)

	targets := mount.MoveTargets(mounts, "/system_root")

	assert.Equal(t, []string{"/data", "/dev", "/devices", "/proc", "/sys"}, targets)

	for _, a := range targets {
		for _, b := range targets {
			if a != b {
				assert.False(t, strings.HasPrefix(a, b+"/"), "%s nested in %s", a, b)
			}
		}
	}
}

func TestMoveTargetsChildBeforeParent(t *testing.T) {
	mounts := []*mountinfo.Info{
		{Mountpoint: "/dev/pts"},
		{Mountpoint: "/dev"},
		{Mountpoint: "/dev/"},
		{Mountpoint: "/"},
	}

	assert.Equal(t, []string{"/dev"}, mount.MoveTargets(mounts, "/new"))
}

func TestRemoveContents(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a/b/c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a/b/c/file"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init"), nil, 0o755))
	require.NoError(t, os.Symlink("/nonexisting", filepath.Join(dir, "link")))

	root, err := os.Open(dir)
	require.NoError(t, err)

	t.Cleanup(func() { _ = root.Close() })

	require.NoError(t, mount.RemoveContents(root))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
