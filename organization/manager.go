package organization

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zllovesuki/seatplan/spec"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var slugRegex = regexp.MustCompile("[^a-z0-9]+")

// ManagerOptions contains the dependencies of Manager
type ManagerOptions struct {
	DB            *gorm.DB
	Logger        *zap.Logger
	TrialLifetime time.Duration
}

// Manager handles the database operations relating to organizations and memberships
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for organizations
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.TrialLifetime == 0 {
		option.TrialLifetime = spec.TrialLifetime
	}
	if err := option.DB.AutoMigrate(&Organization{}, &Membership{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize organization.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Slugify turns a name into the URL-safe base of a slug
func Slugify(name string) string {
	slug := strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "organization"
	}
	return slug
}

func (m *Manager) uniqueSlug(tx *gorm.DB, name string) (string, error) {
	base := Slugify(name)
	candidate := base
	for i := 2; ; i++ {
		var count int64
		if err := tx.Model(&Organization{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

// CreateOptions describes a new organization
type CreateOptions struct {
	Name         string
	OwnerID      string
	BillingEmail string
	Now          time.Time
}

// Create will create the organization with its owner membership. The trial starts immediately
func (m *Manager) Create(ctx context.Context, opt CreateOptions) (*Organization, error) {
	if len(opt.OwnerID) == 0 {
		return nil, fmt.Errorf("CreateOptions.OwnerID is required")
	}
	if opt.Now.IsZero() {
		opt.Now = time.Now()
	}
	org := &Organization{
		ID:           uuid.New().String(),
		Name:         opt.Name,
		BillingEmail: opt.BillingEmail,
		TrialEnd:     opt.Now.Add(m.TrialLifetime),
	}
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := m.uniqueSlug(tx, opt.Name)
		if err != nil {
			return err
		}
		org.Slug = slug
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		return tx.Create(&Membership{
			OrganizationID: org.ID,
			UserID:         opt.OwnerID,
			Role:           RoleOwner,
		}).Error
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create organization")
	}
	return org, nil
}

func (m *Manager) getBy(ctx context.Context, column, value string) (*Organization, error) {
	var org Organization

	result := m.DB.WithContext(ctx).First(&org, column+" = ?", value)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrapf(result.Error, "Cannot get organization by %s", column)
	}

	return &org, nil
}

// GetByID will try to return the organization by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Organization, error) {
	return m.getBy(ctx, "id", id)
}

// GetBySlug will try to return the organization by slug
func (m *Manager) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	return m.getBy(ctx, "slug", slug)
}

// GetByStripeCustomerID will try to return the organization billed to the customer
func (m *Manager) GetByStripeCustomerID(ctx context.Context, customerID string) (*Organization, error) {
	if len(customerID) == 0 {
		return nil, nil
	}
	return m.getBy(ctx, "stripe_customer_id", customerID)
}

// UpdateOptions lists the mutable fields of an organization. Nil fields are left untouched
type UpdateOptions struct {
	Name         *string
	ImageURL     *string
	BillingEmail *string
}

// Update applies the options to the organization
func (m *Manager) Update(ctx context.Context, org *Organization, opt UpdateOptions) error {
	updates := make(map[string]interface{})
	if opt.Name != nil {
		updates["name"] = *opt.Name
	}
	if opt.ImageURL != nil {
		updates["image_url"] = *opt.ImageURL
	}
	if opt.BillingEmail != nil {
		updates["billing_email"] = *opt.BillingEmail
	}
	if len(updates) == 0 {
		return nil
	}
	result := m.DB.WithContext(ctx).Model(org).Updates(updates)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update organization")
	}
	if opt.Name != nil {
		org.Name = *opt.Name
	}
	if opt.ImageURL != nil {
		org.ImageURL = *opt.ImageURL
	}
	if opt.BillingEmail != nil {
		org.BillingEmail = *opt.BillingEmail
	}
	return nil
}

// SetStripeCustomerID links the organization to its billing customer
func (m *Manager) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	result := m.DB.WithContext(ctx).Model(&Organization{}).
		Where("id = ?", id).
		Update("stripe_customer_id", customerID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot set organization customer id")
	}
	return nil
}

// Delete removes the organization and all of its memberships
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("organization_id = ?", id).Delete(&Membership{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Organization{}).Error
	})
	if err != nil {
		m.Logger.Error("Database returned error",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot delete organization")
	}
	return nil
}

// CountMembers returns the number of seats in use
func (m *Manager) CountMembers(ctx context.Context, organizationID string) (int, error) {
	var count int64
	result := m.DB.WithContext(ctx).Model(&Membership{}).
		Where("organization_id = ?", organizationID).
		Count(&count)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot count members")
	}
	return int(count), nil
}

// CountOwners returns the number of owners of the organization
func (m *Manager) CountOwners(ctx context.Context, organizationID string) (int64, error) {
	var count int64
	result := m.DB.WithContext(ctx).Model(&Membership{}).
		Where("organization_id = ? AND role = ?", organizationID, RoleOwner).
		Count(&count)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot count owners")
	}
	return count, nil
}

// ListMembers returns the members with their profile, oldest first
func (m *Manager) ListMembers(ctx context.Context, organizationID string) ([]Member, error) {
	members := make([]Member, 0, 4)
	result := m.DB.WithContext(ctx).
		Table("memberships").
		Select("memberships.user_id, users.email, users.name, memberships.role, memberships.created_at").
		Joins("LEFT JOIN users ON users.id = memberships.user_id").
		Where("memberships.organization_id = ?", organizationID).
		Order("memberships.created_at asc").
		Scan(&members)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list members")
	}
	return members, nil
}

// GetMembership returns the membership of the user, nil if the user is not a member
func (m *Manager) GetMembership(ctx context.Context, organizationID, userID string) (*Membership, error) {
	var membership Membership

	result := m.DB.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		First(&membership)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get membership")
	}
	return &membership, nil
}

// AddMember adds the user to the organization. An existing membership is kept as is
func (m *Manager) AddMember(ctx context.Context, organizationID, userID string, role Role) (*Membership, error) {
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}
	membership := &Membership{
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           role,
	}
	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(membership)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot add member")
	}
	if result.RowsAffected == 0 {
		return m.GetMembership(ctx, organizationID, userID)
	}
	return membership, nil
}

// UpdateRole changes the role of a member
func (m *Manager) UpdateRole(ctx context.Context, organizationID, userID string, role Role) error {
	if !role.IsValid() {
		return ErrInvalidRole
	}
	result := m.DB.WithContext(ctx).Model(&Membership{}).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Update("role", role)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update member role")
	}
	return nil
}

// RemoveMember frees the seat of the user
func (m *Manager) RemoveMember(ctx context.Context, organizationID, userID string) error {
	result := m.DB.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Delete(&Membership{})
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot remove member")
	}
	return nil
}

// ListForUser returns the organizations the user belongs to
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]Organization, error) {
	orgs := make([]Organization, 0, 1)
	result := m.DB.WithContext(ctx).
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ?", userID).
		Order("organizations.created_at asc").
		Find(&orgs)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list organizations for user")
	}
	return orgs, nil
}

// CountForUser returns the number of organizations the user belongs to
func (m *Manager) CountForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	result := m.DB.WithContext(ctx).Model(&Membership{}).
		Where("user_id = ?", userID).
		Count(&count)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot count organizations for user")
	}
	return count, nil
}
