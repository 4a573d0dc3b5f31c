// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/files"
	"github.com/aibor/bootinit/internal/mount"
	"github.com/aibor/bootinit/internal/rc"
	"github.com/aibor/bootinit/internal/sepolicy"
)

// Files in the private directory of the runtime directory.
const (
	overlayRootName = "rootdir"
	mountsName      = "rootdir.mounts"
	labelsName      = "rootdir.labels"
	mirrorName      = "mirror"
	preinitName     = "preinit"
	preinitDevName  = "preinit-device"
	preinitMntName  = ".preinit-mnt"
	preloadName     = "init-ld"
)

// fstabMarker is patched out of the init of emulators, so it does not mount
// partitions from the device tree fstab.
var fstabMarker = files.Replacement{From: "android,fstab", To: "xxx"}

// patchRO patches a read-only root file system. All changes are staged in an
// overlay in the runtime directory that is bind mounted over the root at the
// end.
func (b *Boot) patchRO(ctx context.Context) error {
	b.Ledger.Add(b.path(DataDir))

	runtime := DebugRamdiskDir

	sbin := files.Exists(b.path(SbinDir))
	if sbin {
		runtime = SbinDir
	}

	ctx = withRuntime(ctx, runtime)

	if err := b.setupRuntime(ctx, runtime, true); err != nil {
		return err
	}

	if sbin {
		if err := b.recreateSbin(ctx, runtime); err != nil {
			return err
		}
	}

	overlay := b.internal(runtime, overlayRootName)

	if err := b.stageOverlay(ctx, overlay); err != nil {
		return err
	}

	if b.Config.Emulator {
		_, err := files.PatchFile(b.path(InitPath), filepath.Join(overlay, InitPath), fstabMarker)
		if err != nil {
			return fmt.Errorf("patch emulator init: %w", err)
		}
	}

	fragments, err := rc.LoadFragments(ctx, overlay, b.path("/"))
	if err != nil {
		return err
	}

	if err := b.installAssets(ctx, runtime, filepath.Join(overlay, SbinDir)); err != nil {
		return err
	}

	rcDir := "/"
	if files.Exists(b.path(NewInitRCDir, rc.InitRC)) {
		rcDir = NewInitRCDir
	}

	patcher := &rc.Patcher{
		RuntimeDir: runtime,
		Fragments:  fragments,
		Injector:   rc.Services{},
	}

	if err := patcher.PatchDir(ctx, b.path(rcDir), filepath.Join(overlay, rcDir)); err != nil {
		return err
	}

	monolithic := !files.Exists(b.path(sepolicy.SplitPolicyMarker)) &&
		files.Exists(b.path(Sepolicy))

	if err := b.patchPolicy(ctx, runtime, overlay, monolithic); err != nil {
		return err
	}

	return b.mountOverlay(ctx, runtime, overlay)
}

// patchRW patches a writable root file system in place.
func (b *Boot) patchRW(ctx context.Context) error {
	b.Ledger.Add(b.path(DataDir))

	runtime := SbinDir
	ctx = withRuntime(ctx, runtime)
	overlay := b.path(OverlayDir)

	fragments, err := rc.LoadFragments(ctx, overlay, b.path("/"))
	if err != nil {
		return err
	}

	if files.Exists(overlay) {
		if err := files.MoveTree(overlay, b.path("/")); err != nil {
			return fmt.Errorf("move overlay: %w", err)
		}
	}

	for _, dir := range []string{filepath.Join(DataDir, OverlayDir), BackupDir} {
		if err := os.RemoveAll(b.path(dir)); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}

	patcher := &rc.Patcher{
		RuntimeDir: runtime,
		Fragments:  fragments,
		Injector:   rc.Services{},
	}

	if err := patcher.PatchDir(ctx, b.path("/"), b.path("/")); err != nil {
		return err
	}

	if err := b.setupRuntime(ctx, runtime, false); err != nil {
		return err
	}

	if err := b.installAssets(ctx, runtime, ""); err != nil {
		return err
	}

	treble, err := files.Contains(b.path(InitPath), sepolicy.SplitPolicyMarker)
	if err != nil {
		slog.WarnContext(ctx, "Inspect init", slog.Any("error", err))
	}

	monolithic := !treble && files.Exists(b.path(Sepolicy))

	if err := b.patchPolicy(ctx, runtime, b.path("/"), monolithic); err != nil {
		return err
	}

	return removeIfExists(b.path(runtime, preloadName))
}

// setupRuntime prepares the runtime directory and copies this program into
// it. The preinit device is mounted, if the persisted properties name one.
func (b *Boot) setupRuntime(ctx context.Context, runtime string, tmpfs bool) error {
	dir := b.path(runtime)

	if tmpfs {
		err := b.Mounter.Mount(dir, mount.Options{
			FSType: mount.FSTypeTmp,
			Data:   "mode=755",
		})
		if err != nil {
			return fmt.Errorf("mount %s: %w", runtime, err)
		}
	}

	if err := os.MkdirAll(b.internal(runtime), 0o711); err != nil {
		return fmt.Errorf("mkdir %s: %w", InternalDir, err)
	}

	props := bootconfig.ReadProps(
		os.DirFS(b.path("/")),
		strings.TrimPrefix(filepath.Join(DataDir, bootconfig.PropsPath), "/"),
	)

	if device, exists := props.Get(bootconfig.PropPreinitDevice); exists && device != "" {
		b.mountPreinit(ctx, runtime, device)
	}

	if err := files.CopyFile(b.path(RedirectPath), filepath.Join(dir, SelfName)); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Runtime directory ready")

	return nil
}

// recreateSbin fills the fresh tmpfs on /sbin with the content of the
// original /sbin. Files are bind mounted from a mirror of the root, links
// are recreated.
func (b *Boot) recreateSbin(ctx context.Context, runtime string) error {
	mirror := b.internal(runtime, mirrorName)

	if err := os.MkdirAll(mirror, 0o755); err != nil {
		return fmt.Errorf("mkdir mirror: %w", err)
	}

	if err := b.Mounter.Bind(b.path("/"), mirror); err != nil {
		return fmt.Errorf("mirror root: %w", err)
	}

	defer func() {
		if err := b.Mounter.Unmount(mirror); err != nil {
			slog.WarnContext(ctx, "Unmount mirror", slog.Any("error", err))
		}

		_ = os.Remove(mirror)
	}()

	src := filepath.Join(mirror, SbinDir)

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := b.path(SbinDir, entry.Name())

		if err := b.recreateEntry(srcPath, dstPath, entry.Type()); err != nil {
			return err
		}
	}

	slog.DebugContext(ctx, "Recreated /sbin", slog.Int("entries", len(entries)))

	return nil
}

func (b *Boot) recreateEntry(src, dst string, mode os.FileMode) error {
	if mode&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", src, err)
		}

		if err := os.Symlink(target, dst); err != nil {
			return fmt.Errorf("link %s: %w", dst, err)
		}

		return nil
	}

	if mode.IsDir() {
		if err := os.Mkdir(dst, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dst, err)
		}
	} else {
		file, err := os.Create(dst)
		if err != nil {
			return fmt.Errorf("create %s: %w", dst, err)
		}

		_ = file.Close()
	}

	if err := files.CloneAttr(src, dst); err != nil {
		return err
	}

	if err := b.Mounter.Bind(src, dst); err != nil {
		return fmt.Errorf("bind %s: %w", dst, err)
	}

	return nil
}

// stageOverlay moves the overlay staged on /data to dir.
func (b *Boot) stageOverlay(ctx context.Context, dir string) error {
	src := b.path(DataDir, OverlayDir)

	if files.Exists(src) {
		if err := files.MoveTree(src, dir); err != nil {
			return fmt.Errorf("stage overlay: %w", err)
		}

		slog.DebugContext(ctx, "Staged overlay", slog.String("path", dir))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return nil
}

// installAssets moves the overlay runtime assets from sbin, if given, into
// the runtime directory and decompresses all compressed assets there.
func (b *Boot) installAssets(ctx context.Context, runtime, sbin string) error {
	dir := b.path(runtime)

	if sbin != "" && files.Exists(sbin) {
		if err := files.MoveTree(sbin, dir); err != nil {
			return fmt.Errorf("install assets: %w", err)
		}
	}

	restored, err := files.DecompressAll(ctx, dir)
	if err != nil {
		return fmt.Errorf("decompress assets: %w", err)
	}

	for _, path := range restored {
		slog.DebugContext(ctx, "Decompressed asset", slog.String("path", path))
	}

	return nil
}

// patchPolicy makes sure the patched policy is loaded. An unlocked policy is
// always patched into dst. Otherwise the load is intercepted, unless the
// policy is monolithic or the interception can not be armed. In these cases
// the policy file is patched into dst.
func (b *Boot) patchPolicy(ctx context.Context, runtime, dst string, monolithic bool) error {
	loader := b.loader(runtime)
	rules := sepolicy.LoadRules(ctx, b.internal(runtime, preinitName))

	if unlocked := b.path(SepolicyUnlocked); files.Exists(unlocked) {
		return sepolicy.Transform(ctx, loader, unlocked, filepath.Join(dst, SepolicyUnlocked), rules)
	}

	if !monolithic && b.hijack(ctx, runtime) {
		return nil
	}

	src := b.path(Sepolicy)
	if !files.Exists(src) {
		slog.WarnContext(ctx, "No policy to patch")
		return nil
	}

	return sepolicy.Transform(ctx, loader, src, filepath.Join(dst, Sepolicy), rules)
}

// hijack arms the policy interception and spawns the watcher. It returns
// false if the interception is not possible.
func (b *Boot) hijack(ctx context.Context, runtime string) bool {
	paths := sepolicy.DefaultPaths(runtime).Under(b.path("/"))

	session, err := sepolicy.Detect(paths)
	if err != nil {
		slog.WarnContext(ctx, "Cannot intercept policy load", slog.Any("error", err))
		return false
	}

	env, err := sepolicy.Arm(ctx, b.Mounter, b.Ledger, paths, session)
	if err != nil {
		slog.WarnContext(ctx, "Arm policy interception", slog.Any("error", err))
		return false
	}

	if err := b.SpawnWatcher(ctx, runtime, paths, session); err != nil {
		slog.WarnContext(ctx, "Spawn policy watcher", slog.Any("error", err))

		if err := sepolicy.Disarm(ctx, b.Mounter, paths, session); err != nil {
			slog.WarnContext(ctx, "Disarm policy interception", slog.Any("error", err))
		}

		return false
	}

	b.Env = append(b.Env, env...)

	return true
}

// mountOverlay magic mounts the overlay over the root and writes the
// manifest.
func (b *Boot) mountOverlay(ctx context.Context, runtime, overlay string) error {
	if err := removeIfExists(b.path(runtime, preloadName)); err != nil {
		return err
	}

	overlayMount := &mount.Overlay{
		Binder: b.Mounter,
		Label:  files.Label,
	}

	manifest, err := overlayMount.Mount(ctx, overlay, b.path("/"))

	// Mounts done before a failure are live and must be listed as well.
	writeErr := manifest.WriteFiles(b.internal(runtime, mountsName), b.internal(runtime, labelsName))

	if err != nil {
		if writeErr != nil {
			slog.WarnContext(ctx, "Write overlay manifest", slog.Any("error", writeErr))
		}

		return fmt.Errorf("mount overlay: %w", err)
	}

	slog.InfoContext(ctx, "Mounted overlay", slog.Int("entries", len(manifest)))

	return writeErr
}

func withRuntime(ctx context.Context, runtime string) context.Context {
	return slogctx.Append(ctx, slog.String("runtime", runtime))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}
