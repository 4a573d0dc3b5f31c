// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aibor/bootinit/internal/mount"
	"github.com/aibor/bootinit/internal/mount/mounttest"
	"github.com/aibor/bootinit/internal/sepolicy"
	"github.com/stretchr/testify/require"
)

// textLoader loads policies as plain text and records the transformation
// in the saved content.
type textLoader struct{}

func (textLoader) Load(_ context.Context, path string) (sepolicy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &textPolicy{data: string(data)}, nil
}

type textPolicy struct {
	data string
}

func (p *textPolicy) ApplyBuiltin() error {
	p.data += "+builtin"
	return nil
}

func (p *textPolicy) ApplyRules(rules string) error {
	p.data += "+" + rules
	return nil
}

func (p *textPolicy) Save(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("patched:"+p.data), 0o644)
}

// selinuxfsMounter populates selinuxfs when it is mounted.
type selinuxfsMounter struct {
	*mounttest.Mounter
}

func (m selinuxfsMounter) Mount(target string, opts mount.Options) error {
	if err := m.Mounter.Mount(target, opts); err != nil {
		return err
	}

	if opts.FSType != mount.FSTypeSelinux {
		return nil
	}

	for _, node := range []string{"load", "enforce", "checkreqprot"} {
		if err := os.WriteFile(filepath.Join(target, node), nil, 0o644); err != nil {
			return err
		}
	}

	return nil
}

func testPaths(t *testing.T) sepolicy.Paths {
	t.Helper()

	paths := sepolicy.DefaultPaths("/sbin").Under(t.TempDir())

	for _, dir := range []string{paths.Proc, paths.Sys, filepath.Dir(paths.PreloadLib), filepath.Dir(paths.PreloadSource)} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	return paths
}

// createSelinuxFS emulates mounted selinuxfs nodes. enforce is created
// last, as the legacy watcher waits for it.
func createSelinuxFS(paths sepolicy.Paths) error {
	if err := os.MkdirAll(paths.SelinuxDir, 0o755); err != nil {
		return err
	}

	for _, node := range []struct {
		path  string
		value string
	}{
		{paths.Load(), ""},
		{paths.CheckReqProt(), "1"},
		{paths.Enforce(), "1"},
	} {
		if err := os.WriteFile(node.path, []byte(node.value), 0o644); err != nil {
			return err
		}
	}

	return nil
}

func writeSelinuxFS(t *testing.T, paths sepolicy.Paths) {
	t.Helper()
	require.NoError(t, createSelinuxFS(paths))
}

func requireNoLink(t *testing.T, path string) {
	t.Helper()

	info, err := os.Lstat(path)
	require.NoError(t, err)
	require.Zero(t, info.Mode()&os.ModeSymlink, "still shadowed: %s", path)
}
