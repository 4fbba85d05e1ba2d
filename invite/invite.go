package invite

import (
	"errors"
	"time"

	"github.com/zllovesuki/seatplan/organization"
)

// Errors returned when accepting an invite
var (
	ErrInviteNotFound   = errors.New("invite not found")
	ErrInviteExpired    = errors.New("invite has expired")
	ErrSeatLimitReached = errors.New("organization has no free seat")
	ErrEmailMismatch    = errors.New("invite was sent to a different email address")
)

// Link is a shareable invite. An organization has at most one active link
type Link struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	Token          string     `json:"token" gorm:"uniqueIndex"`
	OrganizationID string     `json:"organizationId" gorm:"index"`
	CreatorID      string     `json:"creatorId"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	DeactivatedAt  *time.Time `json:"deactivatedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// EmailInvite invites one email address with a role
type EmailInvite struct {
	ID             string            `json:"id" gorm:"primaryKey"`
	Token          string            `json:"token" gorm:"uniqueIndex"`
	OrganizationID string            `json:"organizationId" gorm:"index"`
	InviterID      string            `json:"inviterId"`
	Email          string            `json:"email" gorm:"index"`
	Role           organization.Role `json:"role"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	DeactivatedAt  *time.Time        `json:"deactivatedAt"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// usable reports ErrInviteNotFound for deactivated invites and ErrInviteExpired once expiresAt is reached
func usable(deactivatedAt *time.Time, expiresAt, now time.Time) error {
	if deactivatedAt != nil {
		return ErrInviteNotFound
	}
	if !now.Before(expiresAt) {
		return ErrInviteExpired
	}
	return nil
}
