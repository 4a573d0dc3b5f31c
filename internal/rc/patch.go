// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibor/bootinit/internal/files"
)

// InitRC is the primary init script.
const InitRC = "init.rc"

// Placeholder is replaced with the runtime directory in script fragments.
const Placeholder = "${BOOTINITTMP}"

// ServiceContext is the security context services of this program run in.
const ServiceContext = "u:r:bootinit:s0"

// Injector writes additional service definitions to the primary init script.
type Injector interface {
	Inject(w io.Writer, runtimeDir string) error
}

// Patcher rewrites init scripts.
type Patcher struct {
	// RuntimeDir is where this program lives after the handoff.
	RuntimeDir string

	// Fragments are appended to the primary init script.
	Fragments []string

	// Injector is optional.
	Injector Injector
}

// PatchInitRC writes the patched primary init script read from r to w.
func (p *Patcher) PatchInitRC(ctx context.Context, r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read %s: %w", InitRC, err)
	}

	var out bytes.Buffer

	for line := range strings.Lines(string(data)) {
		switch {
		case strings.Contains(line, "start vaultkeeper"):
			slog.DebugContext(ctx, "Remove vaultkeeper")
		case strings.HasPrefix(line, "service flash_recovery"):
			slog.DebugContext(ctx, "Remove flash_recovery")
			out.WriteString("service flash_recovery /system/bin/true\n")
		case strings.HasPrefix(line, "on property:persist.sys.zygote.early="):
			// Starts zygote before post-fs-data.
			slog.DebugContext(ctx, "Invalidate persist.sys.zygote.early")
			out.WriteString("on property:persist.sys.zygote.early.xxxxx=true\n")
		default:
			out.WriteString(line)
		}
	}

	out.WriteString("\n")

	for _, fragment := range p.Fragments {
		fmt.Fprintf(&out, "\n%s\n", strings.ReplaceAll(fragment, Placeholder, p.RuntimeDir))
	}

	if p.Injector != nil {
		if err := p.Injector.Inject(&out, p.RuntimeDir); err != nil {
			return fmt.Errorf("inject services: %w", err)
		}
	}

	_, err = out.WriteTo(w)

	return err
}

// ZygoteHook is the line added to zygote services.
func (p *Patcher) ZygoteHook() string {
	return fmt.Sprintf("    onrestart exec %s 0 0 -- %s/bootinit --zygote-restart\n",
		ServiceContext, p.RuntimeDir)
}

// PatchZygoteRC writes the zygote script read from r to w with a restart
// hook added to the zygote service.
func (p *Patcher) PatchZygoteRC(ctx context.Context, r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read zygote script: %w", err)
	}

	var out bytes.Buffer

	for line := range strings.Lines(string(data)) {
		out.WriteString(line)

		if strings.HasPrefix(line, "service zygote ") {
			slog.DebugContext(ctx, "Inject zygote restart")

			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}

			out.WriteString(p.ZygoteHook())
		}
	}

	_, err = out.WriteTo(w)

	return err
}

// IsZygoteRC returns true for names of zygote init scripts.
func IsZygoteRC(name string) bool {
	return strings.HasPrefix(name, "init.zygote") && strings.HasSuffix(name, ".rc")
}

// PatchDir patches the init scripts in srcDir.
//
// If dstDir equals srcDir, the files are replaced in place. Otherwise the
// patched copies are written to dstDir. The copies get the metadata of the
// originals in both cases. A missing primary init script is not an error.
func (p *Patcher) PatchDir(ctx context.Context, srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dstDir, err)
	}

	slog.DebugContext(ctx, "Patch init scripts", slog.String("src", srcDir), slog.String("dst", dstDir))

	err := patchFile(ctx, filepath.Join(srcDir, InitRC), filepath.Join(dstDir, InitRC), p.PatchInitRC)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", srcDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !IsZygoteRC(entry.Name()) {
			continue
		}

		src := filepath.Join(srcDir, entry.Name())
		dst := filepath.Join(dstDir, entry.Name())

		if err := patchFile(ctx, src, dst, p.PatchZygoteRC); err != nil {
			return err
		}
	}

	return nil
}

type patchFunc func(ctx context.Context, r io.Reader, w io.Writer) error

func patchFile(ctx context.Context, src, dst string, fn patchFunc) error {
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	var out bytes.Buffer

	if err := fn(ctx, in, &out); err != nil {
		return fmt.Errorf("patch %s: %w", src, err)
	}

	tmp := dst + ".patch"

	if err := files.WriteFrom(&out, tmp, src); err != nil {
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s: %w", dst, err)
	}

	return nil
}
