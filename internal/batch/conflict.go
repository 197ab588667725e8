package batch

import (
	"context"
	"errors"
	"fmt"
	"path"

	ferr "dataferry/internal/errors"
	"dataferry/internal/storage"
)

// maxConflictRounds bounds how many renamed targets are checked in a row.
const maxConflictRounds = 10

var errConflictUnresolved = errors.New("target conflict unresolved")

type Action int

const (
	UseAsIs Action = iota
	Rename
	Abort
)

// Decision is a resolver's answer for a target that already holds objects.
type Decision struct {
	Action Action
	// Target is the replacement dataset path when Action is Rename.
	Target string
}

func RenameTo(target string) Decision {
	return Decision{Action: Rename, Target: target}
}

// ConflictResolver is asked what to do when target already has objects.
type ConflictResolver func(ctx context.Context, target string) (Decision, error)

// ProceedOnConflict uploads into the existing dataset.
func ProceedOnConflict(context.Context, string) (Decision, error) {
	return Decision{Action: UseAsIs}, nil
}

// AbortOnConflict cancels the batch when the dataset exists.
func AbortOnConflict(context.Context, string) (Decision, error) {
	return Decision{Action: Abort}, nil
}

// RenameOnConflict moves the batch to name once. A second conflict aborts.
func RenameOnConflict(name string) ConflictResolver {
	return func(_ context.Context, target string) (Decision, error) {
		if target == name {
			return Decision{Action: Abort}, nil
		}
		return RenameTo(name), nil
	}
}

// ParseConflictMode maps the CLI and API spelling of a non-interactive resolver.
func ParseConflictMode(mode, renameTo string) (ConflictResolver, error) {
	switch mode {
	case "", "proceed":
		return ProceedOnConflict, nil
	case "abort":
		return AbortOnConflict, nil
	case "rename":
		if renameTo == "" {
			return nil, ferr.Errorf(ferr.ErrInvalidArgument, "rename on conflict needs a new target")
		}
		return RenameOnConflict(renameTo), nil
	}
	return nil, ferr.Errorf(ferr.ErrInvalidArgument, "unknown conflict mode %q", mode)
}

// resolveTarget returns the dataset path the batch should write to.
func resolveTarget(ctx context.Context, store storage.ObjectStore, root, target string, resolve ConflictResolver) (string, error) {
	if resolve == nil {
		resolve = ProceedOnConflict
	}

	for round := 0; round < maxConflictRounds; round++ {
		existing, err := store.ListObjects(ctx, path.Join(root, target)+"/", 1)
		if err != nil {
			return "", ferr.NewError("conflict_check", err).WithKey(path.Join(root, target))
		}
		if len(existing) == 0 {
			return target, nil
		}

		decision, err := resolve(ctx, target)
		if err != nil {
			return "", fmt.Errorf("%w: %w", errConflictUnresolved, err)
		}
		switch decision.Action {
		case UseAsIs:
			return target, nil
		case Abort:
			return "", ferr.NewError("conflict_check", ferr.Errorf(ferr.ErrCancelled, "dataset %s already exists", target))
		case Rename:
			renamed, err := NormalizeTarget(decision.Target)
			if err != nil {
				return "", err
			}
			target = renamed
		default:
			return "", fmt.Errorf("%w: unknown decision %d", errConflictUnresolved, decision.Action)
		}
	}
	return "", fmt.Errorf("%w: still conflicting after %d renames", errConflictUnresolved, maxConflictRounds)
}
