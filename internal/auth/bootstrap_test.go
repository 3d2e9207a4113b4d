package auth

import (
	"fmt"
	"testing"

	"github.com/darshan-rambhia/devwatch/internal/model"
	"github.com/darshan-rambhia/devwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupStub struct {
	lookupErr error
	added     []model.NewUser
}

func (s *lookupStub) GetUserIDByUsername(string) (int64, error) { return 1, s.lookupErr }

func (s *lookupStub) AddUser(u model.NewUser) (int64, error) {
	s.added = append(s.added, u)
	return int64(len(s.added)), nil
}

func TestEnsureDefaultAdmin(t *testing.T) {
	h := newHarness(t)

	created, err := EnsureDefaultAdmin(h.store, DefaultBootstrapAdmin())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureDefaultAdmin(h.store, DefaultBootstrapAdmin())
	require.NoError(t, err)
	assert.False(t, created)

	id, err := h.store.GetUserIDByUsername("admin")
	require.NoError(t, err)
	u, err := h.store.GetUser(id)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.True(t, u.MustChangePassword)
	assert.Equal(t, "admin@example.com", u.Email)
	assert.Equal(t, "System Administrator", u.Nickname)

	users, err := h.store.ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestEnsureDefaultAdmin_RequiresCredentials(t *testing.T) {
	st := &lookupStub{lookupErr: store.ErrNotFound}
	_, err := EnsureDefaultAdmin(st, BootstrapAdmin{Username: "admin"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, st.added)
}

func TestEnsureDefaultAdmin_LookupFailure(t *testing.T) {
	st := &lookupStub{lookupErr: fmt.Errorf("looking up user admin: %w", store.ErrNotConnected)}
	created, err := EnsureDefaultAdmin(st, DefaultBootstrapAdmin())
	assert.False(t, created)
	assert.ErrorIs(t, err, store.ErrConnection)
	assert.Empty(t, st.added)
}

func TestEnsureDefaultAdmin_CustomAccount(t *testing.T) {
	st := &lookupStub{lookupErr: fmt.Errorf("wrapped: %w", store.ErrNotFound)}
	created, err := EnsureDefaultAdmin(st, BootstrapAdmin{Username: "ops", Password: "changeme"})
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, st.added, 1)
	assert.Equal(t, "ops", st.added[0].Username)
	assert.Equal(t, model.RoleAdmin, st.added[0].Role)
	assert.True(t, st.added[0].MustChangePassword)
}
