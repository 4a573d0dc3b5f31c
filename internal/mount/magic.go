// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mount

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Entry is a single bind mount done by [Overlay.Mount].
type Entry struct {
	Source string
	Target string
	// Label is the security label the target had before it was shadowed.
	Label string
}

// Manifest lists the bind mounts done by [Overlay.Mount] in order.
type Manifest []Entry

// WriteTo writes the targets, one per line.
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	var written int64

	for _, entry := range m {
		n, err := fmt.Fprintln(w, entry.Target)
		written += int64(n)

		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// WriteLabels writes the targets with their original label, one
// "<target> <label>" pair per line. Entries without label are skipped.
func (m Manifest) WriteLabels(w io.Writer) error {
	for _, entry := range m {
		if entry.Label == "" {
			continue
		}

		if _, err := fmt.Fprintf(w, "%s %s\n", entry.Target, entry.Label); err != nil {
			return err
		}
	}

	return nil
}

// ReadLabels parses the output of [Manifest.WriteLabels]. Malformed lines
// are skipped.
func ReadLabels(r io.Reader) (Manifest, error) {
	var manifest Manifest

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 || idx == len(line)-1 {
			continue
		}

		manifest = append(manifest, Entry{Target: line[:idx], Label: line[idx+1:]})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	return manifest, nil
}

// WriteFiles persists the manifest into the targets file and the label
// file. An empty labelsPath skips the labels.
func (m Manifest) WriteFiles(targetsPath, labelsPath string) error {
	if err := writeFile(targetsPath, func(w io.Writer) error {
		_, err := m.WriteTo(w)
		return err
	}); err != nil {
		return err
	}

	if labelsPath == "" {
		return nil
	}

	return writeFile(labelsPath, m.WriteLabels)
}

func writeFile(path string, fn func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)

	if err := fn(buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := buf.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return file.Close()
}

// Overlay materializes a staging tree over the live file system.
type Overlay struct {
	Binder Binder

	// Label returns the security label of a path. It is optional.
	Label func(path string) string
}

// Mount walks the staging tree src recursively and bind mounts every file
// whose counterpart below dst already exists. Before mounting, the mode and
// ownership of the counterpart are copied onto the staging file. Directories
// are never mounted, only descended into. Entries whose counterpart is of a
// different kind are skipped.
//
// On failure the manifest has the mounts done so far.
func (o *Overlay) Mount(ctx context.Context, src, dst string) (Manifest, error) {
	var manifest Manifest

	if err := o.mountDir(ctx, src, dst, &manifest); err != nil {
		return manifest, err
	}

	return manifest, nil
}

func (o *Overlay) mountDir(ctx context.Context, src, dst string, manifest *Manifest) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		info, err := os.Stat(dstPath)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			continue
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", dstPath, err)
		}

		if entry.IsDir() != info.IsDir() {
			slog.DebugContext(ctx, "Skip type mismatch", slog.String("dst", dstPath))
			continue
		}

		if entry.IsDir() {
			if err := o.mountDir(ctx, srcPath, dstPath, manifest); err != nil {
				return err
			}

			continue
		}

		// Read before the target is shadowed by the mount.
		label := o.label(dstPath)

		if err := o.mountFile(srcPath, dstPath, info); err != nil {
			return err
		}

		slog.DebugContext(ctx, "Mount", slog.String("src", srcPath), slog.String("dst", dstPath))

		*manifest = append(*manifest, Entry{
			Source: srcPath,
			Target: dstPath,
			Label:  label,
		})
	}

	return nil
}

func (o *Overlay) mountFile(src, dst string, dstInfo fs.FileInfo) error {
	if err := os.Chmod(src, dstInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", src, err)
	}

	if stat, ok := dstInfo.Sys().(*syscall.Stat_t); ok {
		if err := os.Chown(src, int(stat.Uid), int(stat.Gid)); err != nil {
			return fmt.Errorf("chown %s: %w", src, err)
		}
	}

	return o.Binder.Bind(src, dst)
}

func (o *Overlay) label(path string) string {
	if o.Label == nil {
		return ""
	}

	return o.Label(path)
}
