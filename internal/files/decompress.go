// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"bufio"
	"bytes"
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// CompressedExtensions are the file name extensions [DecompressAll] handles.
var CompressedExtensions = []string{".xz", ".zst", ".lz4", ".gz"}

// Decompress returns a reader for the decompressed content of r, if r is
// compressed in any format known to [archives.Identify]. Otherwise, the
// returned reader yields the content of r unchanged and compressed is false.
//
// ELF files are never considered compressed, since formats without magic
// number might match them by accident.
func Decompress(ctx context.Context, r io.Reader) (io.ReadCloser, bool, error) {
	buffered := bufio.NewReader(r)

	magic, _ := buffered.Peek(len(elf.ELFMAG))
	if bytes.Equal(magic, []byte(elf.ELFMAG)) {
		return io.NopCloser(buffered), false, nil
	}

	format, stream, err := archives.Identify(ctx, "", buffered)
	if errors.Is(err, archives.NoMatch) {
		return io.NopCloser(stream), false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("identify: %w", err)
	}

	decompressor, ok := format.(archives.Decompressor)
	if !ok {
		return io.NopCloser(stream), false, nil
	}

	reader, err := decompressor.OpenReader(stream)
	if err != nil {
		return nil, false, fmt.Errorf("open %s reader: %w", format.Extension(), err)
	}

	return reader, true, nil
}

// Restore writes the content of src to dst, decompressing it if required,
// and clones the metadata of src onto dst.
func Restore(ctx context.Context, src, dst string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer file.Close()

	reader, _, err := Decompress(ctx, file)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	defer reader.Close()

	tmp := dst + ".restore"

	if err := WriteFrom(reader, tmp, src); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return nil
}

// DecompressAll decompresses every file in dir that has one of the
// [CompressedExtensions]. The decompressed file replaces the compressed one
// with the extension stripped.
func DecompressAll(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var restored []string

	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)

		if !entry.Type().IsRegular() || !hasCompressedExt(ext) {
			continue
		}

		src := filepath.Join(dir, name)
		dst := filepath.Join(dir, strings.TrimSuffix(name, ext))

		if err := Restore(ctx, src, dst); err != nil {
			return restored, err
		}

		if err := os.Remove(src); err != nil {
			return restored, fmt.Errorf("remove %s: %w", src, err)
		}

		restored = append(restored, dst)
	}

	return restored, nil
}

func hasCompressedExt(ext string) bool {
	for _, known := range CompressedExtensions {
		if ext == known {
			return true
		}
	}

	return false
}
