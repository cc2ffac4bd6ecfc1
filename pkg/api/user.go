package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SupportProfile is the fixed profile of the support sentinel.
var SupportProfile = Profile{DisplayName: "Support", Role: RoleAdmin}

// IdentityDirectory resolves participant ids to profiles.
// ResolveParticipant returns ErrNotFound for unknown ids.
type IdentityDirectory interface {
	ResolveParticipant(ctx context.Context, id string) (Profile, error)
}

// ProfileCache stores serialized profiles. Get returns ErrCacheMiss when absent.
type ProfileCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

var ErrCacheMiss = errors.New("cache miss")

type UserService interface {
	ResolveParticipant(ctx context.Context, id string) (Profile, error)
	Viewer(ctx context.Context, id string) (Viewer, error)
}

type userService struct {
	directory IdentityDirectory
	cache     ProfileCache
	ttl       time.Duration
}

// NewUserService wraps a directory. cache may be nil.
func NewUserService(directory IdentityDirectory, cache ProfileCache, ttl time.Duration) UserService {
	return &userService{directory: directory, cache: cache, ttl: ttl}
}

func (u *userService) ResolveParticipant(ctx context.Context, id string) (Profile, error) {
	if id == "" {
		return Profile{}, fmt.Errorf("%w: participant id is empty", ErrInvalidArgument)
	}
	if id == SupportID {
		return SupportProfile, nil
	}

	key := "profile:" + id
	if u.cache != nil {
		if raw, err := u.cache.Get(ctx, key); err == nil {
			var profile Profile
			if err := json.Unmarshal([]byte(raw), &profile); err == nil {
				return profile, nil
			}
		} else if !errors.Is(err, ErrCacheMiss) {
			log.Warn().Err(err).Str("participant_id", id).Msg("profile cache read failed")
		}
	}

	profile, err := u.directory.ResolveParticipant(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	if u.cache != nil {
		raw, _ := json.Marshal(profile)
		if err := u.cache.Set(ctx, key, string(raw), u.ttl); err != nil {
			log.Warn().Err(err).Str("participant_id", id).Msg("profile cache write failed")
		}
	}
	return profile, nil
}

// Viewer resolves the caller's role from the directory record, never from the request.
func (u *userService) Viewer(ctx context.Context, id string) (Viewer, error) {
	profile, err := u.ResolveParticipant(ctx, id)
	if err != nil {
		return Viewer{}, err
	}
	return Viewer{Id: id, Role: profile.Role}, nil
}
