package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"messagingService/pkg/api"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// userAccount is a row of the user_account table.
type userAccount struct {
	UID       string  `db:"uid"`
	FirstName *string `db:"first_name"`
	LastName  *string `db:"last_name"`
	Username  string  `db:"username"`
	PhotoUrl  *string `db:"photo_url"`
	Role      string  `db:"role"`
}

func (u *userAccount) profile() api.Profile {
	name := u.Username
	if u.FirstName != nil && u.LastName != nil {
		name = strings.TrimSpace(*u.FirstName + " " + *u.LastName)
	}
	var avatar string
	if u.PhotoUrl != nil {
		avatar = *u.PhotoUrl
	}
	return api.Profile{
		DisplayName:   name,
		AvatarAddress: avatar,
		Role:          api.Role(u.Role),
	}
}

// Directory resolves participants from Postgres.
type Directory struct {
	db *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

const selectUserAccount = "SELECT uid, first_name, last_name, username, photo_url, role FROM user_account"

func (d *Directory) ResolveParticipant(ctx context.Context, id string) (api.Profile, error) {
	var account userAccount
	err := pgxscan.Get(ctx, d.db, &account, selectUserAccount+" WHERE uid = $1", id)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Profile{}, fmt.Errorf("%w: participant %s", api.ErrNotFound, id)
	}
	if err != nil {
		return api.Profile{}, err
	}
	return account.profile(), nil
}
