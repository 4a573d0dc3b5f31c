// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rc

import (
	"fmt"
	"io"
)

// Services is the default [Injector]. It adds triggers that call back into
// this program at the boot stages it has to act on.
type Services struct{}

var serviceTriggers = []struct {
	trigger string
	arg     string
}{
	{"on post-fs-data", "--post-fs-data"},
	{"on property:vold.decrypt=trigger_restart_framework", "--service"},
	{"on nonencrypted", "--service"},
	{"on property:sys.boot_completed=1", "--boot-complete"},
}

// Inject implements [Injector].
func (Services) Inject(w io.Writer, runtimeDir string) error {
	for _, t := range serviceTriggers {
		_, err := fmt.Fprintf(w, "\n%s\n    exec %s 0 0 -- %s/bootinit %s\n",
			t.trigger, ServiceContext, runtimeDir, t.arg)
		if err != nil {
			return err
		}
	}

	return nil
}
