// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/aibor/bootinit/internal/bootconfig"
	"github.com/aibor/bootinit/internal/klog"
	"github.com/aibor/bootinit/internal/stage"
)

// InfoName is the program name the info applet is run by.
const InfoName = "bootinit-info"

type info struct {
	Stage  stage.Kind             `yaml:"stage"`
	Probe  stage.Probe            `yaml:"probe"`
	Config *bootconfig.BootConfig `yaml:"config"`
}

// runInfo prints the stage that would be selected for the given root and
// the boot configuration it is based on. Nothing is mounted.
func runInfo(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flags.SetOutput(stderr)

	root := flags.String("root", "/", "root file system to inspect")
	verbose := flags.BoolP("verbose", "v", false, "log debug messages")

	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}

		return 2, err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	ctx = klog.Setup(ctx, stderr, level)

	if err := writeInfo(ctx, stdout, *root); err != nil {
		return 1, err
	}

	return 0, nil
}

func writeInfo(ctx context.Context, w io.Writer, root string) error {
	paths := stage.Paths{Root: root}
	reader := &bootconfig.Reader{Root: os.DirFS(root)}

	config := reader.Read(ctx)
	probe := paths.Probe()

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	err := encoder.Encode(info{
		Stage:  stage.Decide(config, probe),
		Probe:  probe,
		Config: config,
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	return encoder.Close()
}
