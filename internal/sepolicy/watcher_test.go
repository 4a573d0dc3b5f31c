// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy_test

import (
	"context"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/aibor/bootinit/internal/mount"
	"github.com/aibor/bootinit/internal/mount/mounttest"
	"github.com/aibor/bootinit/internal/sepolicy"
	"github.com/containerd/fifo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	testPollInterval = 10 * time.Millisecond
	testTimeout      = 10 * time.Second
	testRules        = "allow init shell"
	patchedPolicy    = "patched:original+builtin+" + testRules
)

// release opens a fifo end the way the real init does and returns
// everything read from it after the watcher released it.
func release(ctx context.Context, path string, flag int, write string) (string, error) {
	node, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return "", err
	}
	defer node.Close()

	if write != "" {
		_, err := io.WriteString(node, write)
		return "", err
	}

	data, err := io.ReadAll(node)

	return string(data), err
}

// runProtocol runs the watcher and the real init stand-in concurrently.
func runProtocol(
	t *testing.T,
	watcher *sepolicy.Watcher,
	realInit func(ctx context.Context) error,
) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return watcher.Run(ctx)
	})

	group.Go(func() error {
		return realInit(ctx)
	})

	require.NoError(t, group.Wait())
}

func newWatcher(paths sepolicy.Paths, session sepolicy.Session, mounter mount.Mounter) *sepolicy.Watcher {
	return &sepolicy.Watcher{
		Paths:        paths,
		Session:      session,
		Mounter:      mounter,
		Loader:       textLoader{},
		Rules:        testRules,
		PollInterval: testPollInterval,
	}
}

func TestWatcherPreload(t *testing.T) {
	paths := testPaths(t)
	writeSelinuxFS(t, paths)
	require.NoError(t, os.WriteFile(paths.PreloadSource, []byte("library"), 0o755))

	session := sepolicy.Session{Strategy: sepolicy.StrategyPreload}
	mounter := &mounttest.Mounter{}

	_, err := sepolicy.Arm(context.Background(), mounter, &mount.Ledger{}, paths, session)
	require.NoError(t, err)

	var (
		ack    string
		loaded []byte
	)

	runProtocol(t, newWatcher(paths, session, mounter), func(ctx context.Context) error {
		// The preloaded library stages the policy and waits for the ack.
		if err := os.WriteFile(paths.PreloadPolicy, []byte("original"), 0o600); err != nil {
			return err
		}

		var err error

		ack, err = release(ctx, paths.PreloadAck, syscall.O_RDONLY, "")
		if err != nil {
			return err
		}

		loaded, err = os.ReadFile(paths.Load())

		return err
	})

	assert.Equal(t, "0", ack)
	assert.Equal(t, patchedPolicy, string(loaded))

	for _, path := range []string{paths.PreloadPolicy, paths.PreloadAck, paths.PreloadLib, paths.MockDir} {
		assert.NoFileExists(t, path)
		assert.NoDirExists(t, path)
	}
}

func TestWatcherSelinuxFS(t *testing.T) {
	paths := testPaths(t)
	writeSelinuxFS(t, paths)

	session := sepolicy.Session{Strategy: sepolicy.StrategySelinuxFS}
	mounter := &mounttest.Mounter{}

	_, err := sepolicy.Arm(context.Background(), mounter, &mount.Ledger{}, paths, session)
	require.NoError(t, err)

	var (
		enforce string
		loaded  []byte
	)

	runProtocol(t, newWatcher(paths, session, mounter), func(ctx context.Context) error {
		if err := os.WriteFile(paths.Load(), []byte("original"), 0o644); err != nil {
			return err
		}

		var err error

		enforce, err = release(ctx, paths.Enforce(), syscall.O_RDONLY, "")
		if err != nil {
			return err
		}

		loaded, err = os.ReadFile(paths.Load())

		return err
	})

	assert.Equal(t, "1", enforce, "enforce value relayed")
	assert.Equal(t, patchedPolicy, string(loaded))

	requireNoLink(t, paths.Load())
	requireNoLink(t, paths.Enforce())
	assert.NoDirExists(t, paths.MockDir)
}

func TestWatcherLegacy(t *testing.T) {
	paths := testPaths(t)

	session := sepolicy.Session{
		Strategy: sepolicy.StrategyLegacy,
		Sentinel: paths.SelinuxVersion,
	}
	mounter := &mounttest.Mounter{}

	_, err := sepolicy.Arm(context.Background(), mounter, &mount.Ledger{}, paths, session)
	require.NoError(t, err)

	var loaded []byte

	runProtocol(t, newWatcher(paths, session, mounter), func(ctx context.Context) error {
		// The real init mounts selinuxfs and opens the version file.
		if err := createSelinuxFS(paths); err != nil {
			return err
		}

		if _, err := release(ctx, session.Sentinel, syscall.O_RDONLY, ""); err != nil {
			return err
		}

		if err := os.WriteFile(paths.Load(), []byte("original"), 0o644); err != nil {
			return err
		}

		if _, err := release(ctx, paths.CheckReqProt(), syscall.O_WRONLY, "1"); err != nil {
			return err
		}

		var err error

		loaded, err = os.ReadFile(paths.Load())

		return err
	})

	assert.Equal(t, patchedPolicy, string(loaded))

	checkReqProt, err := os.ReadFile(paths.CheckReqProt())
	require.NoError(t, err)
	assert.Equal(t, "0", string(checkReqProt))

	requireNoLink(t, paths.Load())
	requireNoLink(t, paths.CheckReqProt())
	requireNoLink(t, session.Sentinel)
	assert.NoDirExists(t, paths.MockDir)
}

func TestWatcherRestoresLabelsBestEffort(t *testing.T) {
	paths := testPaths(t)
	writeSelinuxFS(t, paths)
	require.NoError(t, os.WriteFile(paths.PreloadSource, []byte("library"), 0o755))
	require.NoError(t, os.MkdirAll(paths.PreinitDir, 0o755))
	require.NoError(t, os.WriteFile(paths.LabelsFile, []byte(paths.Init+" u:object_r:rootfs:s0\nbroken\n"), 0o644))

	session := sepolicy.Session{Strategy: sepolicy.StrategyPreload}
	mounter := &mounttest.Mounter{}

	_, err := sepolicy.Arm(context.Background(), mounter, &mount.Ledger{}, paths, session)
	require.NoError(t, err)

	runProtocol(t, newWatcher(paths, session, mounter), func(ctx context.Context) error {
		if err := os.WriteFile(paths.PreloadPolicy, []byte("original"), 0o600); err != nil {
			return err
		}

		_, err := release(ctx, paths.PreloadAck, syscall.O_RDONLY, "")

		return err
	})
}

func TestWatcherNoStrategy(t *testing.T) {
	watcher := newWatcher(testPaths(t), sepolicy.Session{}, &mounttest.Mounter{})
	require.ErrorIs(t, watcher.Run(context.Background()), sepolicy.ErrNoStrategy)
}
