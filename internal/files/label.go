// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package files

import (
	"bytes"
	"fmt"

	"github.com/pkg/xattr"
)

// LabelAttr is the extended attribute holding the security label.
const LabelAttr = "security.selinux"

// Label returns the security label of path without following symbolic links.
// It returns an empty string if there is none or labels are not supported.
func Label(path string) string {
	value, err := xattr.LGet(path, LabelAttr)
	if err != nil {
		return ""
	}

	return string(bytes.TrimRight(value, "\x00"))
}

// SetLabel sets the security label of path without following symbolic links.
func SetLabel(path, label string) error {
	value := append([]byte(label), 0)

	if err := xattr.LSet(path, LabelAttr, value); err != nil {
		return fmt.Errorf("set label %s: %w", path, err)
	}

	return nil
}
