// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/cpio"
)

// ExtractCPIO extracts the newc cpio archive read from r into dir.
//
// Directories, regular files and symbolic links are created with the
// archive's permissions and ownership. Other entry types are skipped.
// Existing files are replaced.
func ExtractCPIO(r io.Reader, dir string) ([]string, error) {
	reader := cpio.NewReader(r)

	var names []string

	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		} else if err != nil {
			return names, fmt.Errorf("read header: %w", err)
		}

		if hdr.Name == "." || hdr.Name == "TRAILER!!!" {
			continue
		}

		target, err := archivePath(dir, hdr.Name)
		if err != nil {
			return names, err
		}

		if err := extractEntry(reader, hdr, target); err != nil {
			return names, err
		}

		names = append(names, hdr.Name)
	}
}

func archivePath(dir, name string) (string, error) {
	clean := filepath.Clean("/" + name)
	if clean == "/" || strings.Contains(name, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}

	return filepath.Join(dir, clean), nil
}

func extractEntry(reader *cpio.Reader, hdr *cpio.Header, target string) error {
	mode := hdr.FileInfo().Mode()

	if err := os.MkdirAll(filepath.Dir(target), defaultDirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
	}

	switch {
	case mode.IsDir():
		if err := os.MkdirAll(target, mode.Perm()); err != nil {
			return fmt.Errorf("mkdir %s: %w", target, err)
		}
	case mode&os.ModeSymlink != 0:
		link := hdr.Linkname
		if link == "" {
			body, err := io.ReadAll(reader)
			if err != nil {
				return fmt.Errorf("read link %s: %w", hdr.Name, err)
			}

			link = string(body)
		}

		_ = os.Remove(target)

		if err := os.Symlink(link, target); err != nil {
			return fmt.Errorf("symlink %s: %w", target, err)
		}
	case mode.IsRegular():
		_ = os.Remove(target)

		file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}

		_, err = io.Copy(file, reader)
		_ = file.Close()

		if err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	default:
		return nil
	}

	if os.Getuid() != 0 {
		return nil
	}

	if err := os.Lchown(target, hdr.Uid, hdr.Guid); err != nil {
		return fmt.Errorf("chown %s: %w", target, err)
	}

	return nil
}
