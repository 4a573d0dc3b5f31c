// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/stage"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		config   bootconfig.BootConfig
		probe    stage.Probe
		expected stage.Kind
	}{
		{
			name:     "skip initramfs wins",
			config:   bootconfig.BootConfig{SkipInitramfs: true, ForceNormalBoot: true},
			probe:    stage.Probe{Recovery: true, TwoStage: true},
			expected: stage.KindLegacySAR,
		},
		{
			name:     "force normal boot before recovery",
			config:   bootconfig.BootConfig{ForceNormalBoot: true},
			probe:    stage.Probe{Recovery: true},
			expected: stage.KindFirstStage,
		},
		{
			name:     "recovery before two stage",
			probe:    stage.Probe{Recovery: true, TwoStage: true},
			expected: stage.KindRecovery,
		},
		{
			name:     "two stage",
			probe:    stage.Probe{TwoStage: true},
			expected: stage.KindFirstStage,
		},
		{
			name:     "fallback",
			expected: stage.KindPureRamdisk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stage.Decide(&tt.config, tt.probe))
		})
	}
}

func TestPathsProbe(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		expected stage.Probe
	}{
		{
			name:     "empty",
			expected: stage.Probe{},
		},
		{
			name:     "recovery binary",
			files:    map[string]string{"system/bin/recovery": ""},
			expected: stage.Probe{Recovery: true},
		},
		{
			name:     "apex",
			files:    map[string]string{"apex/.keep": ""},
			expected: stage.Probe{TwoStage: true},
		},
		{
			name:     "system init",
			files:    map[string]string{"system/bin/init": ""},
			expected: stage.Probe{TwoStage: true},
		},
		{
			name:     "backup init with second stage",
			files:    map[string]string{".backup/init": "ELF selinux_setup"},
			expected: stage.Probe{TwoStage: true},
		},
		{
			name:     "backup init without second stage",
			files:    map[string]string{".backup/init": "ELF"},
			expected: stage.Probe{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := stage.Paths{Root: t.TempDir()}

			for name, content := range tt.files {
				path := paths.Join(name)
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			}

			assert.Equal(t, tt.expected, paths.Probe())
		})
	}
}

func TestSelect(t *testing.T) {
	paths := stage.Paths{Root: t.TempDir()}

	t.Run("second stage", func(t *testing.T) {
		kind, config := stage.Select([]string{"/init", stage.SecondStageArg}, paths,
			func() *bootconfig.BootConfig {
				t.Fatal("configuration acquired")
				return nil
			})

		assert.Equal(t, stage.KindSecondStage, kind)
		assert.Equal(t, &bootconfig.BootConfig{}, config)
	})

	t.Run("acquire", func(t *testing.T) {
		expected := &bootconfig.BootConfig{SkipInitramfs: true}

		kind, config := stage.Select([]string{"/init"}, paths, func() *bootconfig.BootConfig {
			return expected
		})

		assert.Equal(t, stage.KindLegacySAR, kind)
		assert.Same(t, expected, config)
	})
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "legacy_sar", stage.KindLegacySAR.String())
	assert.Equal(t, "Kind(9)", stage.Kind(9).String())
}

func TestPathsJoin(t *testing.T) {
	assert.Equal(t, "/init", stage.DefaultPaths().Join(stage.InitPath))
	assert.Equal(t, "/tmp/root/data/bootinit", stage.Paths{Root: "/tmp/root"}.Join(stage.RedirectPath))
	assert.Equal(t, "/sbin/.bootinit", stage.Paths{}.Join(stage.SbinDir, stage.InternalDir))
}
