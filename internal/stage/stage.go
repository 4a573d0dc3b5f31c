// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stage

import (
	"context"
	"fmt"
	"log/slog"

	slogctx "github.com/veqryn/slog-context"
)

// Stage is a boot strategy.
//
// Prepare stages everything needed by later stages. Start assembles the root
// file system and executes the real init. Start returns only on failure.
type Stage interface {
	Prepare(ctx context.Context) error
	Start(ctx context.Context) error
}

// New returns the [Stage] of the given kind.
func New(kind Kind, boot *Boot) (Stage, error) {
	b := base{boot}

	switch kind {
	case KindFirstStage:
		return firstStage{b}, nil
	case KindSecondStage:
		return secondStage{b}, nil
	case KindLegacySAR:
		return legacySAR{b}, nil
	case KindPureRamdisk:
		return pureRamdisk{b}, nil
	case KindRecovery:
		return recovery{b}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Run runs the stage of the given kind. Panics are recovered and returned as
// [ErrPanic].
func Run(ctx context.Context, boot *Boot, kind Kind) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		if recoveredErr, ok := rec.(error); ok {
			err = fmt.Errorf("%w: %w", ErrPanic, recoveredErr)
		} else {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	ctx = slogctx.Append(ctx, slog.String("stage", kind.String()))

	stage, err := New(kind, boot)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Prepare stage")

	if err := stage.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare %s: %w", kind, err)
	}

	slog.InfoContext(ctx, "Start stage")

	if err := stage.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", kind, err)
	}

	return nil
}

// base has the default implementations. They restore the original init and
// execute it.
type base struct {
	*Boot
}

func (s base) Prepare(ctx context.Context) error {
	return s.restoreInit(ctx)
}

func (s base) Start(ctx context.Context) error {
	return s.execInit(ctx)
}
