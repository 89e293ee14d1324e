// Package identity turns an already-authenticated actor id into the caller
// identity the workflow reasons about.
package identity

import (
	"context"
	"errors"
	"fmt"

	"lettertrack/internal/domain"
	"lettertrack/internal/repo"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Identity struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

type Resolver interface {
	Resolve(ctx context.Context, actorID string) (Identity, error)
}

// ProfileResolver looks actors up in the profiles table.
type ProfileResolver struct {
	Repo repo.Repo
}

func (p ProfileResolver) Resolve(ctx context.Context, actorID string) (Identity, error) {
	if actorID == "" {
		return Identity{}, ErrUnauthenticated
	}
	prof, err := p.Repo.GetProfile(ctx, nil, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: no profile for %s", ErrUnauthenticated, actorID)
	}
	if err != nil {
		return Identity{}, err
	}
	role, ok := domain.ParseRole(string(prof.Role))
	if !ok {
		return Identity{}, fmt.Errorf("%w: profile %s has unknown role %q", ErrUnauthenticated, actorID, prof.Role)
	}
	return Identity{ID: prof.ID, Name: prof.Name, Role: role}, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.ID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
