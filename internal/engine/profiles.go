package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lettertrack/internal/domain"
	"lettertrack/internal/engine/auth"
	"lettertrack/internal/identity"
	"lettertrack/internal/repo"
)

type ProfileInput struct {
	ID   string
	Name string
	Role string
}

// UpsertProfile creates or edits a profile. Only admins manage roles.
func (e Engine) UpsertProfile(ctx context.Context, caller identity.Identity, in ProfileInput) (domain.Profile, error) {
	if err := auth.RequireRole(caller.Role, "manage profiles", domain.RoleAdmin); err != nil {
		return domain.Profile{}, err
	}
	return e.BootstrapProfile(ctx, in)
}

// BootstrapProfile writes a profile without a caller check. The CLI uses it to
// seed the first admin.
func (e Engine) BootstrapProfile(ctx context.Context, in ProfileInput) (domain.Profile, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Profile{}, inputErr("name", "required")
	}
	role, ok := domain.ParseRole(in.Role)
	if !ok {
		return domain.Profile{}, inputErr("role", "unknown role %q", in.Role)
	}
	p := domain.Profile{ID: id, Name: name, Role: role, CreatedAt: e.stamp()}
	if err := e.Repo.UpsertProfile(ctx, nil, p); err != nil {
		return domain.Profile{}, err
	}
	stored, err := e.Repo.GetProfile(ctx, nil, id)
	if err != nil {
		return domain.Profile{}, err
	}
	e.log().Info("profile saved", zap.String("profile_id", id), zap.String("role", string(role)))
	return stored, nil
}

func (e Engine) ListProfiles(ctx context.Context, role string) ([]domain.Profile, error) {
	var r domain.Role
	if role != "" {
		parsed, ok := domain.ParseRole(role)
		if !ok {
			return nil, inputErr("role", "unknown role %q", role)
		}
		r = parsed
	}
	return e.Repo.ListProfiles(ctx, r)
}

// CreateAPIKey issues a key for a profile. The plaintext is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, profileID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetProfile(ctx, nil, profileID); err != nil {
		return domain.APIKey{}, "", lookupErr(err, "profile", profileID)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "lt_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   profileID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, profileID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, profileID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return lookupErr(e.Repo.DeleteAPIKey(ctx, id), "api key", id)
}
