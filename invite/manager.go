package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zllovesuki/seatplan/organization"
	"github.com/zllovesuki/seatplan/spec"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions contains the dependencies of Manager
type ManagerOptions struct {
	DB       *gorm.DB
	Logger   *zap.Logger
	Lifetime time.Duration
}

// Manager handles the database operations relating to invites
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for invites
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Lifetime == 0 {
		option.Lifetime = spec.InviteLifetime
	}
	if err := option.DB.AutoMigrate(&Link{}, &EmailInvite{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize invite.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *Manager) dbError(err error, msg string) error {
	m.Logger.Error("Database returned error",
		zap.Error(err),
	)
	return extErrors.Wrap(err, msg)
}

// CreateLink replaces the active link of the organization with a new one
func (m *Manager) CreateLink(ctx context.Context, organizationID, creatorID string, now time.Time) (*Link, error) {
	link := &Link{
		ID:             uuid.New().String(),
		Token:          shortuuid.New(),
		OrganizationID: organizationID,
		CreatorID:      creatorID,
		ExpiresAt:      now.Add(m.Lifetime),
	}
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deactivateLinks(tx, organizationID, now); err != nil {
			return err
		}
		return tx.Create(link).Error
	})
	if err != nil {
		return nil, m.dbError(err, "Cannot create invite link")
	}
	return link, nil
}

func deactivateLinks(tx *gorm.DB, organizationID string, now time.Time) error {
	return tx.Model(&Link{}).
		Where("organization_id = ? AND deactivated_at IS NULL", organizationID).
		Update("deactivated_at", now).Error
}

// DeactivateLink deactivates the active link of the organization, if any
func (m *Manager) DeactivateLink(ctx context.Context, organizationID string, now time.Time) error {
	if err := deactivateLinks(m.DB.WithContext(ctx), organizationID, now); err != nil {
		return m.dbError(err, "Cannot deactivate invite link")
	}
	return nil
}

// GetActiveLink returns the link of the organization that can still be used
func (m *Manager) GetActiveLink(ctx context.Context, organizationID string, now time.Time) (*Link, error) {
	var link Link

	result := m.DB.WithContext(ctx).
		Where("organization_id = ? AND deactivated_at IS NULL AND expires_at > ?", organizationID, now).
		Order("created_at desc").
		First(&link)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		return nil, m.dbError(result.Error, "Cannot get active invite link")
	}
	return &link, nil
}

// GetLinkByToken returns the link regardless of its state
func (m *Manager) GetLinkByToken(ctx context.Context, token string) (*Link, error) {
	var link Link

	result := m.DB.WithContext(ctx).First(&link, "token = ?", token)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		return nil, m.dbError(result.Error, "Cannot get invite link by token")
	}
	return &link, nil
}

// CreateEmailInvite invites the email address. A pending invite to the same address is replaced
func (m *Manager) CreateEmailInvite(ctx context.Context, organizationID, inviterID, email string, role organization.Role, now time.Time) (*EmailInvite, error) {
	if !role.IsValid() {
		return nil, organization.ErrInvalidRole
	}
	invite := &EmailInvite{
		ID:             uuid.New().String(),
		Token:          shortuuid.New(),
		OrganizationID: organizationID,
		InviterID:      inviterID,
		Email:          normalizeEmail(email),
		Role:           role,
		ExpiresAt:      now.Add(m.Lifetime),
	}
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&EmailInvite{}).
			Where("organization_id = ? AND email = ? AND deactivated_at IS NULL", organizationID, invite.Email).
			Update("deactivated_at", now).Error
		if err != nil {
			return err
		}
		return tx.Create(invite).Error
	})
	if err != nil {
		return nil, m.dbError(err, "Cannot create email invite")
	}
	return invite, nil
}

// ListEmailInvites returns the pending email invites of the organization, newest first
func (m *Manager) ListEmailInvites(ctx context.Context, organizationID string, now time.Time) ([]EmailInvite, error) {
	invites := make([]EmailInvite, 0, 4)

	result := m.DB.WithContext(ctx).
		Where("organization_id = ? AND deactivated_at IS NULL AND expires_at > ?", organizationID, now).
		Order("created_at desc").
		Find(&invites)

	if result.Error != nil {
		return nil, m.dbError(result.Error, "Cannot list email invites")
	}
	return invites, nil
}

// GetEmailInviteByToken returns the email invite regardless of its state
func (m *Manager) GetEmailInviteByToken(ctx context.Context, token string) (*EmailInvite, error) {
	var invite EmailInvite

	result := m.DB.WithContext(ctx).First(&invite, "token = ?", token)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		return nil, m.dbError(result.Error, "Cannot get email invite by token")
	}
	return &invite, nil
}

// DeactivateEmailInvite deactivates the invite of the organization. It returns false if there was none
func (m *Manager) DeactivateEmailInvite(ctx context.Context, organizationID, id string, now time.Time) (bool, error) {
	result := m.DB.WithContext(ctx).Model(&EmailInvite{}).
		Where("id = ? AND organization_id = ? AND deactivated_at IS NULL", id, organizationID).
		Update("deactivated_at", now)
	if result.Error != nil {
		return false, m.dbError(result.Error, "Cannot deactivate email invite")
	}
	return result.RowsAffected > 0, nil
}
