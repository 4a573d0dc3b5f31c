// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const defaultDirMode = 0o755

// CopyFile copies the regular file src to dst including its metadata.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	return WriteFrom(in, dst, src)
}

// WriteFrom writes everything read from r into dst and then clones the
// metadata of attrSrc onto it.
func WriteFrom(r io.Reader, dst, attrSrc string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return CloneAttr(attrSrc, dst)
}

// CopyTree copies src recursively to dst. Regular files, directories and
// symbolic links are copied with their metadata, everything else is skipped.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			if err := os.MkdirAll(target, defaultDirMode); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}

			return CloneAttr(path, target)
		case entry.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}

			if err := os.Symlink(link, target); err != nil {
				return fmt.Errorf("symlink %s: %w", target, err)
			}

			return CloneAttr(path, target)
		case entry.Type().IsRegular():
			return CopyFile(path, target)
		default:
			return nil
		}
	})
}

// MoveTree moves all entries of src into dst. Directories existing in both
// are merged, other existing entries in dst are replaced. src is removed.
func MoveTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", src, err)
	}

	if err := os.MkdirAll(dst, defaultDirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", dst, err)
	}

	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		info, err := os.Lstat(to)

		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("stat %s: %w", to, err)
		case entry.IsDir() && info.IsDir():
			if err := MoveTree(from, to); err != nil {
				return err
			}

			continue
		default:
			if err := os.RemoveAll(to); err != nil {
				return fmt.Errorf("remove %s: %w", to, err)
			}
		}

		if err := move(from, to, entry); err != nil {
			return err
		}
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s: %w", src, err)
	}

	return nil
}

// move renames from to to. Across file systems the entry is copied and
// removed instead.
func move(from, to string, entry fs.DirEntry) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	} else if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("move %s: %w", from, err)
	}

	if entry.IsDir() || entry.Type()&fs.ModeSymlink != 0 {
		err = CopyTree(from, to)
	} else {
		err = CopyFile(from, to)
	}

	if err != nil {
		return err
	}

	if err := os.RemoveAll(from); err != nil {
		return fmt.Errorf("remove %s: %w", from, err)
	}

	return nil
}

// Exists returns true if something exists at path. Symbolic links are not
// followed.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
