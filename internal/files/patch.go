// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"bytes"
	"fmt"
	"os"
)

// Replacement is a pair of strings for [Patch].
type Replacement struct {
	From string
	To   string
}

// Patch replaces every occurrence of r.From in data in place with r.To.
//
// r.To must not be longer than r.From. Shorter replacements are padded with
// NUL bytes, so C strings stay terminated and offsets stay valid. The
// offsets of all replaced occurrences are returned.
func Patch(data []byte, r Replacement) ([]int, error) {
	if r.From == "" {
		return nil, ErrEmptyPattern
	}

	if len(r.To) > len(r.From) {
		return nil, fmt.Errorf("%w: %q -> %q", ErrPatternTooLong, r.From, r.To)
	}

	from := []byte(r.From)
	to := make([]byte, len(from))
	copy(to, r.To)

	var offsets []int

	for offset := 0; offset < len(data); {
		idx := bytes.Index(data[offset:], from)
		if idx < 0 {
			break
		}

		pos := offset + idx
		copy(data[pos:], to)
		offsets = append(offsets, pos)
		offset = pos + len(from)
	}

	return offsets, nil
}

// PatchFile reads src, applies all replacements and writes the result to
// dst with the metadata of src. src and dst may be the same file.
func PatchFile(src, dst string, replacements ...Replacement) ([]int, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}

	var offsets []int

	for _, r := range replacements {
		found, err := Patch(data, r)
		if err != nil {
			return nil, err
		}

		offsets = append(offsets, found...)
	}

	if err := WriteFrom(bytes.NewReader(data), dst+".patch", src); err != nil {
		return nil, err
	}

	if err := os.Rename(dst+".patch", dst); err != nil {
		return nil, fmt.Errorf("rename %s: %w", dst, err)
	}

	return offsets, nil
}

// Contains returns true if the file at path contains s.
func Contains(path string, s string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	return bytes.Contains(data, []byte(s)), nil
}
