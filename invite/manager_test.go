package invite

import (
	"context"
	"testing"
	"time"

	"github.com/zllovesuki/seatplan/db/dbtest"
	"github.com/zllovesuki/seatplan/organization"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(ManagerOptions{
		DB:     dbtest.New(t),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	first, err := m.CreateLink(ctx, "org_1", "user_1", testNow)
	require.NoError(t, err)
	require.NotEmpty(t, first.Token)
	require.True(t, first.ExpiresAt.Equal(testNow.Add(48*time.Hour)))

	active, err := m.GetActiveLink(ctx, "org_1", testNow)
	require.NoError(t, err)
	require.Equal(t, first.ID, active.ID)

	second, err := m.CreateLink(ctx, "org_1", "user_1", testNow.Add(time.Minute))
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	active, err = m.GetActiveLink(ctx, "org_1", testNow.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)

	old, err := m.GetLinkByToken(ctx, first.Token)
	require.NoError(t, err)
	require.NotNil(t, old.DeactivatedAt, "creating a link deactivates the previous one")

	// other organizations are untouched
	other, err := m.CreateLink(ctx, "org_2", "user_2", testNow)
	require.NoError(t, err)

	expired, err := m.GetActiveLink(ctx, "org_1", testNow.Add(72*time.Hour))
	require.NoError(t, err)
	require.Nil(t, expired)

	require.NoError(t, m.DeactivateLink(ctx, "org_1", testNow.Add(2*time.Minute)))
	active, err = m.GetActiveLink(ctx, "org_1", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	require.Nil(t, active)

	active, err = m.GetActiveLink(ctx, "org_2", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, other.ID, active.ID)

	missing, err := m.GetLinkByToken(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestEmailInvites(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.CreateEmailInvite(ctx, "org_1", "user_1", "ada@example.test", organization.Role("root"), testNow)
	require.ErrorIs(t, err, organization.ErrInvalidRole)

	first, err := m.CreateEmailInvite(ctx, "org_1", "user_1", " Ada@Example.test", organization.RoleAdmin, testNow)
	require.NoError(t, err)
	require.Equal(t, "ada@example.test", first.Email)

	// inviting the same address again replaces the pending invite
	second, err := m.CreateEmailInvite(ctx, "org_1", "user_1", "ada@example.test", organization.RoleMember, testNow)
	require.NoError(t, err)
	_, err = m.CreateEmailInvite(ctx, "org_1", "user_1", "bob@example.test", organization.RoleMember, testNow)
	require.NoError(t, err)

	pending, err := m.ListEmailInvites(ctx, "org_1", testNow)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	found, err := m.GetEmailInviteByToken(ctx, first.Token)
	require.NoError(t, err)
	require.NotNil(t, found.DeactivatedAt)

	ok, err := m.DeactivateEmailInvite(ctx, "org_2", second.ID, testNow)
	require.NoError(t, err)
	require.False(t, ok, "invites of other organizations cannot be deactivated")

	ok, err = m.DeactivateEmailInvite(ctx, "org_1", second.ID, testNow)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err = m.ListEmailInvites(ctx, "org_1", testNow)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "bob@example.test", pending[0].Email)

	pending, err = m.ListEmailInvites(ctx, "org_1", testNow.Add(48*time.Hour))
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestUsable(t *testing.T) {
	expires := testNow.Add(time.Hour)
	require.NoError(t, usable(nil, expires, testNow))
	require.ErrorIs(t, usable(nil, expires, expires), ErrInviteExpired)
	require.ErrorIs(t, usable(&testNow, expires, testNow), ErrInviteNotFound)
}
