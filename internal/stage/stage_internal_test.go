// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/bootinit/internal/mount/mounttest"
)

func TestRunRecovery(t *testing.T) {
	boot, mounter, rec := newTestBoot(t)
	writeFiles(t, boot.Paths.Root, map[string]string{
		"init":                "bootinit",
		".backup/init":        "real init",
		".backup/.bootinit":   "RECOVERYMODE=true\n",
		"overlay.d/custom.rc": "service custom /bin/true\n",
	})
	boot.Ledger.Add(boot.path("/proc"))

	require.NoError(t, Run(context.Background(), boot, KindRecovery))

	assert.Equal(t, boot.path(InitPath), rec.execPath)
	assert.Equal(t, []string{"/init"}, rec.execArgs)
	assert.Equal(t, "real init", readFile(t, boot.path(InitPath)))
	assert.NoDirExists(t, boot.path(BackupDir))
	assert.NoDirExists(t, boot.path(OverlayDir))
	assert.Equal(t, []string{"unmount " + boot.path("/proc")}, mounter.Ops())
	assert.Empty(t, boot.Ledger.Paths())
}

func TestRunRecoveryWithoutBackup(t *testing.T) {
	boot, _, rec := newTestBoot(t)
	writeFiles(t, boot.Paths.Root, map[string]string{"init": "bootinit"})

	require.NoError(t, Run(context.Background(), boot, KindRecovery))

	link, err := os.Readlink(boot.path(InitPath))
	require.NoError(t, err)
	assert.Equal(t, SystemInit, link)
	assert.Equal(t, boot.path(InitPath), rec.execPath)
}

func TestRunFirstStage(t *testing.T) {
	tests := []struct {
		name            string
		forceNormalBoot bool
		stagedDir       string
	}{
		{
			name:      "data",
			stagedDir: DataDir,
		},
		{
			name:            "force normal boot",
			forceNormalBoot: true,
			stagedDir:       FirstStageRamdisk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boot, mounter, rec := newTestBoot(t)
			boot.Config.ForceNormalBoot = tt.forceNormalBoot
			writeFiles(t, boot.Paths.Root, map[string]string{
				"init":                "bootinit",
				".backup/init":        "ELF /system/bin/init\x00 end",
				"overlay.d/sbin/tool": "tool",
			})

			require.NoError(t, Run(context.Background(), boot, KindFirstStage))

			assert.Equal(t, "ELF /data/bootinit\x00\x00\x00 end", readFile(t, boot.path(InitPath)))
			assert.Equal(t, "bootinit", readFile(t, boot.path(RedirectPath)))
			assert.Equal(t, "ELF /system/bin/init\x00 end", readFile(t, boot.path(tt.stagedDir, BackupInit)))
			assert.Equal(t, "tool", readFile(t, boot.path(tt.stagedDir, OverlayDir, "sbin/tool")))
			assert.NoFileExists(t, boot.path(BackupInit))
			assert.Equal(t, []string{"mount tmpfs " + boot.path(DataDir) + " mode=755"}, mounter.Ops())
			assert.Equal(t, boot.path(InitPath), rec.execPath)
		})
	}
}

func TestRunLegacySAR(t *testing.T) {
	boot, _, rec := newTestBoot(t)
	root := boot.Paths.Root
	mounter := &mounttest.Mounter{
		Fail: map[string]error{
			"mount ext4 " + boot.path(SystemRoot) + " ": errors.New("wrong file system"),
		},
	}
	boot.Mounter = mounter
	boot.Blocks = testBlocks()
	boot.Config.Slot = "_a"
	writeFiles(t, root, map[string]string{"init": "bootinit /system/bin/init"})
	require.NoError(t, os.MkdirAll(boot.path(ApexDir), 0o755))

	require.NoError(t, Run(context.Background(), boot, KindLegacySAR))

	expected := []string{
		"mount tmpfs " + boot.path(DataDir) + " mode=755",
		"mount tmpfs " + boot.path("/dev") + " mode=755",
		"mount erofs " + boot.path(SystemRoot) + " ",
		"mount tmpfs " + boot.path("/dev") + " mode=755",
		"bind " + boot.path(DataInit) + " " + boot.path(InitPath),
		"unmount " + boot.path("/dev"),
	}
	assert.Equal(t, expected, mounter.Ops())
	assert.Equal(t, boot.path(SystemRoot), rec.newRoot)
	assert.FileExists(t, boot.path(RootNode))
	assert.Equal(t, "bootinit /data/bootinit\x00\x00", readFile(t, boot.path(DataInit)))
	assert.Equal(t, boot.path(InitPath), rec.execPath)
}

func TestRunLegacySARNoSystemPartition(t *testing.T) {
	boot, _, rec := newTestBoot(t)
	boot.Blocks = testBlocks()
	boot.Config.Slot = "_b"
	writeFiles(t, boot.Paths.Root, map[string]string{"init": "bootinit"})

	err := Run(context.Background(), boot, KindLegacySAR)
	require.ErrorIs(t, err, ErrNoSystemPartition)
	assert.Empty(t, rec.execPath)
}

func TestRunPureRamdisk(t *testing.T) {
	boot, mounter, rec := newTestBoot(t)
	writeFiles(t, boot.Paths.Root, map[string]string{
		"init":                "bootinit",
		".backup/init":        "real init",
		"overlay.d/custom.rc": "service custom /sbin/custom\n",
		"overlay.d/sbin/tool": "tool",
		"init.rc":             "on boot\n    start vaultkeeper\n",
		"init.zygote64.rc":    "service zygote /system/bin/app_process64\n    class main\n",
		"sepolicy":            "original",
	})

	require.NoError(t, Run(context.Background(), boot, KindPureRamdisk))

	assert.Equal(t, "real init", readFile(t, boot.path(InitPath)))
	assert.Equal(t, "patched:original+builtin", readFile(t, boot.path(Sepolicy)))
	assert.Equal(t, "bootinit", readFile(t, boot.path(SbinDir, SelfName)))
	assert.Equal(t, "tool", readFile(t, boot.path(SbinDir, "tool")))
	assert.NoFileExists(t, boot.path("custom.rc"))
	assert.NoDirExists(t, boot.path(BackupDir))
	assert.NoDirExists(t, boot.path(OverlayDir))
	assert.NoDirExists(t, boot.path(DataDir, OverlayDir))

	initRC := readFile(t, boot.path("init.rc"))
	assert.Contains(t, initRC, "service custom /sbin/custom")
	assert.Contains(t, initRC, "/sbin/bootinit")
	assert.NotContains(t, initRC, "vaultkeeper")

	assert.Contains(t, readFile(t, boot.path("init.zygote64.rc")),
		"    onrestart exec u:r:bootinit:s0 0 0 -- /sbin/bootinit --zygote-restart\n")

	expected := []string{
		"mount tmpfs " + boot.path(DataDir) + " mode=755",
		"unmount " + boot.path(DataDir),
	}
	assert.Equal(t, expected, mounter.Ops())
	assert.Equal(t, []string{"TERM=linux"}, rec.execEnv)
	assert.Empty(t, rec.sessions)
}

func TestSecondStagePrepare(t *testing.T) {
	boot, mounter, _ := newTestBoot(t)
	boot.Args = []string{"/init", SecondStageArg}

	stage, err := New(KindSecondStage, boot)
	require.NoError(t, err)
	require.NoError(t, stage.Prepare(context.Background()))

	expected := []string{
		"unmount " + boot.path(InitPath),
		"unmount " + boot.path(SystemInit),
	}
	assert.Equal(t, expected, mounter.Ops())
	assert.Equal(t, []string{SystemInit, SecondStageArg}, boot.Args)
}

func TestRunPanic(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		contains string
	}{
		{
			name:     "error",
			value:    errors.New("boom"),
			contains: "boom",
		},
		{
			name:     "string",
			value:    "bang",
			contains: "bang",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boot, _, _ := newTestBoot(t)
			boot.Exec = func(string, []string, []string) error {
				panic(tt.value)
			}

			err := Run(context.Background(), boot, KindRecovery)
			require.ErrorIs(t, err, ErrPanic)
			assert.ErrorContains(t, err, tt.contains)
		})
	}
}

func TestNewUnknownKind(t *testing.T) {
	boot, _, _ := newTestBoot(t)

	_, err := New(Kind(42), boot)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestExtractRamdisk(t *testing.T) {
	boot, _, _ := newTestBoot(t)

	var archive bytes.Buffer

	w := cpio.NewWriter(&archive)
	body := "on init\n"
	require.NoError(t, w.WriteHeader(&cpio.Header{
		Name: "init.rc",
		Mode: cpio.TypeReg | 0o750,
		Size: int64(len(body)),
	}))
	_, err := w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	writeFiles(t, boot.Paths.Root, map[string]string{"ramdisk.cpio.xz": archive.String()})

	require.NoError(t, boot.extractRamdisk(context.Background()))

	assert.Equal(t, body, readFile(t, boot.path("init.rc")))
	assert.NoFileExists(t, boot.path(CompressedRamdisk))
}

func TestExtractRamdiskMissing(t *testing.T) {
	boot, _, _ := newTestBoot(t)
	require.NoError(t, boot.extractRamdisk(context.Background()))
}
