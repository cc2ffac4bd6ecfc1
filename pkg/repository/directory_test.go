package repository

import (
	"testing"

	"messagingService/pkg/api"

	"github.com/stretchr/testify/assert"
)

func TestUserAccountProfile(t *testing.T) {
	first, last, photo := "Sam", "Supplier", "https://cdn.example.com/sam.png"

	full := userAccount{UID: "s1", FirstName: &first, LastName: &last, Username: "sam", PhotoUrl: &photo, Role: "supplier"}
	assert.Equal(t, api.Profile{
		DisplayName:   "Sam Supplier",
		AvatarAddress: photo,
		Role:          api.RoleSupplier,
	}, full.profile())

	bare := userAccount{UID: "c1", Username: "carla", Role: "client"}
	assert.Equal(t, api.Profile{DisplayName: "carla", Role: api.RoleClient}, bare.profile())
}
