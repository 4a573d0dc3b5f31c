// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aibor/bootinit/internal/files"
	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCPIO(t *testing.T) {
	var archive bytes.Buffer

	w := cpio.NewWriter(&archive)

	entries := []struct {
		hdr  cpio.Header
		body string
	}{
		{hdr: cpio.Header{Name: "system", Mode: cpio.TypeDir | 0o755}},
		{hdr: cpio.Header{Name: "system/bin/sh", Mode: cpio.TypeReg | 0o750}, body: "shell"},
		{hdr: cpio.Header{Name: "init", Mode: cpio.TypeSymlink | 0o777}, body: "/system/bin/init"},
		{hdr: cpio.Header{Name: "dev/console", Mode: cpio.TypeChar | 0o600}},
	}

	for _, entry := range entries {
		hdr := entry.hdr
		hdr.Size = int64(len(entry.body))

		require.NoError(t, w.WriteHeader(&hdr))

		_, err := w.Write([]byte(entry.body))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	dir := t.TempDir()

	names, err := files.ExtractCPIO(&archive, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"system", "system/bin/sh", "init", "dev/console"}, names)

	content, err := os.ReadFile(filepath.Join(dir, "system/bin/sh"))
	require.NoError(t, err)
	assert.Equal(t, "shell", string(content))

	link, err := os.Readlink(filepath.Join(dir, "init"))
	require.NoError(t, err)
	assert.Equal(t, "/system/bin/init", link)

	assert.NoFileExists(t, filepath.Join(dir, "dev/console"))
}
