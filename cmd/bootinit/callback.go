// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
)

// ErrNoCallback is returned if no known callback flag was given.
var ErrNoCallback = errors.New("no callback requested")

// Callbacks are the flags the patched init scripts call this program with.
var Callbacks = []string{
	"post-fs-data",
	"service",
	"boot-complete",
	"zygote-restart",
}

func isCallback(args []string) bool {
	return len(args) > 1 && strings.HasPrefix(args[1], "--")
}

// runCallback acknowledges a callback from the init scripts. The actions of
// later boot phases are out of reach of this program, so callbacks are only
// logged.
func runCallback(ctx context.Context, args []string) (int, error) {
	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)

	requested := make(map[string]*bool, len(Callbacks))
	for _, name := range Callbacks {
		requested[name] = flags.Bool(name, false, "run the "+name+" callback")
	}

	if err := flags.Parse(args[1:]); err != nil {
		return 2, err
	}

	var called []string

	for _, name := range Callbacks {
		if *requested[name] {
			called = append(called, name)
		}
	}

	if len(called) == 0 {
		return 2, ErrNoCallback
	}

	slog.InfoContext(ctx, "Boot callback", slog.Any("callbacks", called))

	return 0, nil
}
