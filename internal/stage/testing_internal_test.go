// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/moby/sys/mountinfo"
	"github.com/stretchr/testify/require"

	"github.com/aibor/bootinit/internal/block"
	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/mount"
	"github.com/aibor/bootinit/internal/mount/mounttest"
	"github.com/aibor/bootinit/internal/sepolicy"
)

type fakeLoader struct{}

func (fakeLoader) Load(_ context.Context, path string) (sepolicy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &fakePolicy{data: string(data)}, nil
}

type fakePolicy struct {
	data string
}

func (p *fakePolicy) ApplyBuiltin() error {
	p.data += "+builtin"
	return nil
}

func (p *fakePolicy) ApplyRules(rules string) error {
	if rules != "" {
		p.data += "+" + strings.TrimSpace(rules)
	}

	return nil
}

func (p *fakePolicy) Save(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("patched:"+p.data), 0o644)
}

// recorder captures the calls that leave the process.
type recorder struct {
	execPath string
	execArgs []string
	execEnv  []string
	newRoot  string
	runtime  string
	sessions []sepolicy.Session
}

func newTestBoot(t *testing.T) (*Boot, *mounttest.Mounter, *recorder) {
	t.Helper()

	mounter := &mounttest.Mounter{}
	rec := &recorder{}

	boot := &Boot{
		Args:    []string{"/init"},
		Env:     []string{"TERM=linux"},
		Config:  &bootconfig.BootConfig{},
		Paths:   Paths{Root: t.TempDir()},
		Ledger:  &mount.Ledger{},
		Mounter: mounter,
		Loader:  fakeLoader{},
		Exec: func(path string, argv, env []string) error {
			rec.execPath = path
			rec.execArgs = argv
			rec.execEnv = env

			return nil
		},
		SwitchRoot: func(_ context.Context, _ mount.Mounter, newRoot string) error {
			rec.newRoot = newRoot
			return nil
		},
		SpawnWatcher: func(_ context.Context, runtime string, _ sepolicy.Paths, session sepolicy.Session) error {
			rec.runtime = runtime
			rec.sessions = append(rec.sessions, session)

			return nil
		},
		Mounts: func() ([]*mountinfo.Info, error) {
			return nil, nil
		},
	}

	return boot, mounter, rec
}

// testBlocks has a system and a metadata partition.
func testBlocks() *block.Binder {
	sysfs := fstest.MapFS{
		"dev/block/259:2/uevent": &fstest.MapFile{
			Data: []byte("MAJOR=259\nMINOR=2\nDEVNAME=sda2\nPARTNAME=system_a\n"),
		},
		"dev/block/259:5/uevent": &fstest.MapFile{
			Data: []byte("MAJOR=259\nMINOR=5\nDEVNAME=sda5\nPARTNAME=metadata\n"),
		},
	}

	return &block.Binder{
		Discovery: &block.Discovery{SysFS: sysfs},
		Mknod: func(path string, _ uint32, _ int) error {
			return os.WriteFile(path, nil, 0o600)
		},
	}
}

func writeFiles(t *testing.T, root string, content map[string]string) {
	t.Helper()

	for name, data := range content {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o755))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}
