// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aibor/bootinit/internal/files"
)

// LoadFragments collects the init script fragments of the overlay directory.
//
// The overlay must not replace the primary init script, so it is removed.
// Scripts with the name of an existing script in rootDir are left in place to
// replace it. All others are returned in directory order and removed from the
// overlay.
func LoadFragments(ctx context.Context, overlayDir, rootDir string) ([]string, error) {
	err := os.Remove(filepath.Join(overlayDir, InitRC))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove overlay %s: %w", InitRC, err)
	}

	entries, err := os.ReadDir(overlayDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", overlayDir, err)
	}

	var fragments []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".rc") {
			continue
		}

		if files.Exists(filepath.Join(rootDir, name)) {
			slog.DebugContext(ctx, "Replace init script", slog.String("name", name))
			continue
		}

		slog.DebugContext(ctx, "Found init script fragment", slog.String("name", name))

		path := filepath.Join(overlayDir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove fragment: %w", err)
		}

		fragments = append(fragments, string(data))
	}

	return fragments, nil
}
