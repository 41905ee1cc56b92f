package sync

import (
	"context"
	"log/slog"

	"github.com/openmined/gdmirror/internal/entity"
)

type Resolution int

const (
	ResolveSkip Resolution = iota
	ResolveKeepLocal
	ResolveKeepRemote
)

func (r Resolution) String() string {
	switch r {
	case ResolveKeepLocal:
		return "keep-local"
	case ResolveKeepRemote:
		return "keep-remote"
	default:
		return "skip"
	}
}

// Conflict pairs both sides of a file that changed in both namespaces.
type Conflict struct {
	Local  entity.Entity
	Remote entity.Entity
}

// ConflictResolver asks an operator which side wins. Nothing is chosen
// automatically: a resolver that cannot ask must skip.
type ConflictResolver interface {
	Resolve(ctx context.Context, c *Conflict) (Resolution, error)
}

// SkipResolver leaves both sides untouched.
type SkipResolver struct{}

func (SkipResolver) Resolve(_ context.Context, c *Conflict) (Resolution, error) {
	slog.Warn("conflict left unresolved", "local", c.Local.Path(), "remote", c.Remote.Path())
	return ResolveSkip, nil
}

// FixedResolver applies a choice the operator made up front.
type FixedResolver struct {
	Choice Resolution
}

func (f FixedResolver) Resolve(context.Context, *Conflict) (Resolution, error) {
	return f.Choice, nil
}

// ResolverFunc adapts a function to ConflictResolver.
type ResolverFunc func(ctx context.Context, c *Conflict) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, c *Conflict) (Resolution, error) {
	return f(ctx, c)
}
