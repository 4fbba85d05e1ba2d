package organization

import "time"

// Role is the role of a member inside an organization
type Role string

// Defining the roles of a membership
const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Organization is a tenant. Every organization is billed separately
type Organization struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug" gorm:"uniqueIndex"`
	ImageURL         string    `json:"imageUrl"`
	BillingEmail     string    `json:"billingEmail"`
	StripeCustomerID string    `json:"-" gorm:"index"` // empty until the first checkout
	TrialEnd         time.Time `json:"trialEnd"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Membership links a user to an organization. Each membership occupies one seat
type Membership struct {
	OrganizationID string    `json:"organizationId" gorm:"primaryKey"`
	UserID         string    `json:"userId" gorm:"primaryKey;index"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Member is a Membership joined with the user's profile
type Member struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsValid reports whether the role is one of the defined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManage reports whether the role may manage members, invites and billing
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}
