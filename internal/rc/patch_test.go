// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aibor/bootinit/internal/rc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initRC = `import /init.environ.rc

on late-init
    start vaultkeeper
    trigger post-fs

on property:persist.sys.zygote.early=true
    start zygote

service flash_recovery /system/bin/install-recovery.sh
    class main
    oneshot
`

const zygoteRC = `service zygote /system/bin/app_process64 -Xzygote /system/bin --zygote
    class main
    onrestart write /sys/power/state on

service zygote_secondary /system/bin/app_process32
    class main
`

func TestPatchInitRC(t *testing.T) {
	patcher := rc.Patcher{
		RuntimeDir: "/debug_ramdisk",
		Fragments: []string{
			"service custom ${BOOTINITTMP}/custom.sh\n    oneshot",
		},
	}

	var out bytes.Buffer
	require.NoError(t, patcher.PatchInitRC(context.Background(), strings.NewReader(initRC), &out))

	expected := `import /init.environ.rc

on late-init
    trigger post-fs

on property:persist.sys.zygote.early.xxxxx=true
    start zygote

service flash_recovery /system/bin/true
    class main
    oneshot


service custom /debug_ramdisk/custom.sh
    oneshot
`
	assert.Equal(t, expected, out.String())
}

func TestPatchInitRCInjector(t *testing.T) {
	patcher := rc.Patcher{
		RuntimeDir: "/sbin",
		Injector:   rc.Services{},
	}

	var out bytes.Buffer
	require.NoError(t, patcher.PatchInitRC(context.Background(), strings.NewReader("on init\n"), &out))

	assert.True(t, strings.HasPrefix(out.String(), "on init\n\n\non post-fs-data\n"))
	assert.Contains(t, out.String(), "    exec u:r:bootinit:s0 0 0 -- /sbin/bootinit --post-fs-data\n")
	assert.Contains(t, out.String(), "on property:sys.boot_completed=1\n")
}

type failingInjector struct{}

func (failingInjector) Inject(io.Writer, string) error {
	return errors.New("no services")
}

func TestPatchInitRCInjectorFailure(t *testing.T) {
	patcher := rc.Patcher{Injector: failingInjector{}}

	err := patcher.PatchInitRC(context.Background(), strings.NewReader(""), io.Discard)
	require.ErrorContains(t, err, "no services")
}

func TestPatchZygoteRC(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:  "zygote service",
			input: zygoteRC,
			expected: `service zygote /system/bin/app_process64 -Xzygote /system/bin --zygote
    onrestart exec u:r:bootinit:s0 0 0 -- /sbin/bootinit --zygote-restart
    class main
    onrestart write /sys/power/state on

service zygote_secondary /system/bin/app_process32
    class main
`,
		},
		{
			name:  "no trailing newline",
			input: "service zygote /system/bin/app_process",
			expected: "service zygote /system/bin/app_process\n" +
				"    onrestart exec u:r:bootinit:s0 0 0 -- /sbin/bootinit --zygote-restart\n",
		},
		{
			name:     "no zygote",
			input:    "service other /bin/other\n",
			expected: "service other /bin/other\n",
		},
	}

	patcher := rc.Patcher{RuntimeDir: "/sbin"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, patcher.PatchZygoteRC(context.Background(), strings.NewReader(tt.input), &out))
			assert.Equal(t, tt.expected, out.String())
		})
	}
}

func TestIsZygoteRC(t *testing.T) {
	assert.True(t, rc.IsZygoteRC("init.zygote64_32.rc"))
	assert.False(t, rc.IsZygoteRC("init.zygote64_32.rc.bak"))
	assert.False(t, rc.IsZygoteRC("init.rc"))
}

func writeScripts(t *testing.T, dir string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.rc"), []byte(initRC), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.zygote64.rc"), []byte(zygoteRC), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.usb.rc"), []byte("on boot\n"), 0o644))
}

func TestPatchDir(t *testing.T) {
	tests := []struct {
		name    string
		inPlace bool
	}{
		{name: "in place", inPlace: true},
		{name: "shadow copy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srcDir := filepath.Join(t.TempDir(), "system/etc/init/hw")
			writeScripts(t, srcDir)

			dstDir := srcDir
			if !tt.inPlace {
				dstDir = filepath.Join(t.TempDir(), "rootdir/system/etc/init/hw")
			}

			patcher := rc.Patcher{RuntimeDir: "/sbin"}
			require.NoError(t, patcher.PatchDir(context.Background(), srcDir, dstDir))

			patched, err := os.ReadFile(filepath.Join(dstDir, "init.rc"))
			require.NoError(t, err)
			assert.NotContains(t, string(patched), "vaultkeeper")

			zygote, err := os.ReadFile(filepath.Join(dstDir, "init.zygote64.rc"))
			require.NoError(t, err)
			assert.Contains(t, string(zygote), patcher.ZygoteHook())

			info, err := os.Stat(filepath.Join(dstDir, "init.rc"))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

			info, err = os.Stat(filepath.Join(dstDir, "init.zygote64.rc"))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			assert.NoFileExists(t, filepath.Join(dstDir, "init.rc.patch"))

			original, err := os.ReadFile(filepath.Join(srcDir, "init.rc"))
			require.NoError(t, err)

			if tt.inPlace {
				assert.Equal(t, patched, original)
			} else {
				assert.Equal(t, initRC, string(original))
				assert.NoFileExists(t, filepath.Join(dstDir, "init.usb.rc"))
			}
		})
	}
}

func TestPatchDirMissingInitRC(t *testing.T) {
	dir := t.TempDir()

	patcher := rc.Patcher{RuntimeDir: "/sbin"}
	require.NoError(t, patcher.PatchDir(context.Background(), dir, dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
