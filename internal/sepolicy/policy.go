// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sepolicy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// RuleFile is the name of user supplied policy rule files.
const RuleFile = "sepolicy.rule"

// Policy is a compiled policy loaded by a [Loader].
type Policy interface {
	// ApplyBuiltin adds the rules this program requires.
	ApplyBuiltin() error

	// ApplyRules adds rules in policy statement text form.
	ApplyRules(rules string) error

	// Save writes the compiled policy to path.
	Save(ctx context.Context, path string) error
}

// Loader loads compiled policies.
type Loader interface {
	Load(ctx context.Context, path string) (Policy, error)
}

// ToolLoader is a [Loader] delegating to an external policy tool.
//
// The tool is run once per saved policy:
//
//	<tool> --load <src> [--builtin] [--apply <rules>] --save <dst>
//
// The policy is read into memory by [ToolLoader.Load], so the source may be
// removed before saving. Intermediate files are written to TempDir.
type ToolLoader struct {
	Tool    string
	TempDir string
}

// Load implements [Loader].
func (l *ToolLoader) Load(_ context.Context, path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	return &toolPolicy{loader: l, data: data}, nil
}

type toolPolicy struct {
	loader  *ToolLoader
	data    []byte
	builtin bool
	rules   []string
}

func (p *toolPolicy) ApplyBuiltin() error {
	p.builtin = true
	return nil
}

func (p *toolPolicy) ApplyRules(rules string) error {
	if strings.TrimSpace(rules) != "" {
		p.rules = append(p.rules, rules)
	}

	return nil
}

func (p *toolPolicy) args(src, rules, dst string) []string {
	args := []string{"--load", src}

	if p.builtin {
		args = append(args, "--builtin")
	}

	if rules != "" {
		args = append(args, "--apply", rules)
	}

	return append(args, "--save", dst)
}

func (p *toolPolicy) Save(ctx context.Context, path string) error {
	src := filepath.Join(p.loader.TempDir, "policy.src")
	if err := os.WriteFile(src, p.data, 0o600); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	defer os.Remove(src)

	var rules string

	if len(p.rules) > 0 {
		rules = filepath.Join(p.loader.TempDir, "policy.rules")
		if err := os.WriteFile(rules, []byte(strings.Join(p.rules, "\n")), 0o600); err != nil {
			return fmt.Errorf("write rules: %w", err)
		}
		defer os.Remove(rules)
	}

	cmd := exec.CommandContext(ctx, p.loader.Tool, p.args(src, rules, path)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("policy tool: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return nil
}

// LoadRules concatenates the rule file in dir and the rule files in its
// direct sub directories. Missing files are skipped.
func LoadRules(ctx context.Context, dir string) string {
	var builder strings.Builder

	candidates := []string{filepath.Join(dir, RuleFile)}

	matches, _ := filepath.Glob(filepath.Join(dir, "*", RuleFile))
	slices.Sort(matches)
	candidates = append(candidates, matches...)

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}

		slog.DebugContext(ctx, "Load policy rules", slog.String("path", candidate))

		builder.Write(data)

		if len(data) > 0 && data[len(data)-1] != '\n' {
			builder.WriteByte('\n')
		}
	}

	return builder.String()
}

// Transform loads the policy at src, applies the builtin and the given rules
// and saves it to dst.
func Transform(ctx context.Context, loader Loader, src, dst, rules string) error {
	policy, err := loader.Load(ctx, src)
	if err != nil {
		return err
	}

	if err := apply(ctx, policy, rules, dst); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Policy patched", slog.String("src", src), slog.String("dst", dst))

	return nil
}

func apply(ctx context.Context, policy Policy, rules, dst string) error {
	if err := policy.ApplyBuiltin(); err != nil {
		return fmt.Errorf("apply builtin rules: %w", err)
	}

	if err := policy.ApplyRules(rules); err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}

	if err := policy.Save(ctx, dst); err != nil {
		return fmt.Errorf("save policy %s: %w", dst, err)
	}

	return nil
}
