package user

import (
	"context"
	"testing"

	"github.com/zllovesuki/seatplan/db/dbtest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(ManagerOptions{
		DB:     dbtest.New(t),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	u, err := m.NewUser(ctx, " Ada@Example.test ")
	require.NoError(t, err)
	require.Equal(t, "ada@example.test", u.Email)
	require.NotEmpty(t, u.ID)

	found, err := m.GetByEmail(ctx, "ADA@example.test")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, u.ID, found.ID)

	_, err = m.NewUser(ctx, "ada@example.test")
	require.Error(t, err, "email is unique")

	found.Name = "Ada"
	found.ImageURL = "https://img.test/ada.png"
	require.NoError(t, m.Update(ctx, found))

	found, err = m.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada", found.Name)
	require.Equal(t, "https://img.test/ada.png", found.ImageURL)

	missing, err := m.GetByID(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}
