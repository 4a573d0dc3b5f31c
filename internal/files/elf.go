// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"debug/elf"
	"fmt"
)

// IsDynamic returns true if the ELF file at path requests a program
// interpreter, so the dynamic loader resolves it at start.
func IsDynamic(path string) (bool, error) {
	elfFile, err := elf.Open(path)
	if err != nil {
		return false, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer elfFile.Close()

	for _, prog := range elfFile.Progs {
		if prog.Type == elf.PT_INTERP {
			return true, nil
		}
	}

	return false, nil
}
