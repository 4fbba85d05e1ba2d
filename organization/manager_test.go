package organization

import (
	"context"
	"testing"
	"time"

	"github.com/zllovesuki/seatplan/db/dbtest"
	"github.com/zllovesuki/seatplan/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManagers(t *testing.T) (*Manager, *user.Manager) {
	conn := dbtest.New(t)
	logger := zaptest.NewLogger(t)

	users, err := user.NewManager(user.ManagerOptions{
		DB:     conn,
		Logger: logger,
	})
	require.NoError(t, err)

	m, err := NewManager(ManagerOptions{
		DB:     conn,
		Logger: logger,
	})
	require.NoError(t, err)
	return m, users
}

func mustUser(t *testing.T, users *user.Manager, email string) *user.User {
	u, err := users.NewUser(context.Background(), email)
	require.NoError(t, err)
	return u
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "acme-inc", Slugify("  ACME, Inc. "))
	require.Equal(t, "a-b-c", Slugify("a__b  c"))
	require.Equal(t, "organization", Slugify("!!!"))
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	m, users := newTestManagers(t)
	owner := mustUser(t, users, "owner@example.test")
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	org, err := m.Create(ctx, CreateOptions{
		Name:         "Acme Inc",
		OwnerID:      owner.ID,
		BillingEmail: "billing@acme.test",
		Now:          now,
	})
	require.NoError(t, err)
	require.Equal(t, "acme-inc", org.Slug)
	require.True(t, org.TrialEnd.Equal(now.Add(14*24*time.Hour)))

	again, err := m.Create(ctx, CreateOptions{Name: "Acme Inc", OwnerID: owner.ID, Now: now})
	require.NoError(t, err)
	require.Equal(t, "acme-inc-2", again.Slug)

	membership, err := m.GetMembership(ctx, org.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, membership)
	require.Equal(t, RoleOwner, membership.Role)

	count, err := m.CountForUser(ctx, owner.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	orgs, err := m.ListForUser(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	_, err = m.Create(ctx, CreateOptions{Name: "No owner"})
	require.Error(t, err)
}

func TestLookupAndUpdate(t *testing.T) {
	ctx := context.Background()
	m, users := newTestManagers(t)
	owner := mustUser(t, users, "owner@example.test")

	org, err := m.Create(ctx, CreateOptions{Name: "Acme", OwnerID: owner.ID})
	require.NoError(t, err)

	found, err := m.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, org.ID, found.ID)

	missing, err := m.GetBySlug(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	missing, err = m.GetByStripeCustomerID(ctx, "")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, m.SetStripeCustomerID(ctx, org.ID, "cus_123"))
	found, err = m.GetByStripeCustomerID(ctx, "cus_123")
	require.NoError(t, err)
	require.Equal(t, org.ID, found.ID)

	name := "Acme Corp"
	email := "finance@acme.test"
	require.NoError(t, m.Update(ctx, found, UpdateOptions{Name: &name, BillingEmail: &email}))
	require.Equal(t, "Acme Corp", found.Name)

	found, err = m.GetByID(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", found.Name)
	require.Equal(t, "finance@acme.test", found.BillingEmail)
	require.Equal(t, "acme", found.Slug, "renaming keeps the slug")
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	m, users := newTestManagers(t)
	owner := mustUser(t, users, "owner@example.test")
	alice := mustUser(t, users, "alice@example.test")

	org, err := m.Create(ctx, CreateOptions{Name: "Acme", OwnerID: owner.ID})
	require.NoError(t, err)

	added, err := m.AddMember(ctx, org.ID, alice.ID, RoleMember)
	require.NoError(t, err)
	require.Equal(t, RoleMember, added.Role)

	// adding again keeps the existing role
	again, err := m.AddMember(ctx, org.ID, alice.ID, RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, RoleMember, again.Role)

	_, err = m.AddMember(ctx, org.ID, alice.ID, Role("root"))
	require.ErrorIs(t, err, ErrInvalidRole)

	seats, err := m.CountMembers(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, 2, seats)

	members, err := m.ListMembers(ctx, org.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	emails := []string{members[0].Email, members[1].Email}
	require.ElementsMatch(t, []string{"owner@example.test", "alice@example.test"}, emails)

	require.NoError(t, m.UpdateRole(ctx, org.ID, alice.ID, RoleAdmin))
	membership, err := m.GetMembership(ctx, org.ID, alice.ID)
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, membership.Role)

	owners, err := m.CountOwners(ctx, org.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, owners)

	require.NoError(t, m.RemoveMember(ctx, org.ID, alice.ID))
	membership, err = m.GetMembership(ctx, org.ID, alice.ID)
	require.NoError(t, err)
	require.Nil(t, membership)

	require.NoError(t, m.Delete(ctx, org.ID))
	found, err := m.GetByID(ctx, org.ID)
	require.NoError(t, err)
	require.Nil(t, found)

	var left int64
	require.NoError(t, m.DB.Model(&Membership{}).Where("organization_id = ?", org.ID).Count(&left).Error)
	require.Zero(t, left)
}
