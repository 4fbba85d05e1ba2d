package organization

import "context"

type contextKey string

const (
	organizationContext contextKey = "organizationContext"
	membershipContext   contextKey = "membershipContext"
)

// NewContext returns a context carrying the organization and the caller's membership
func NewContext(ctx context.Context, org *Organization, m *Membership) context.Context {
	ctx = context.WithValue(ctx, organizationContext, org)
	return context.WithValue(ctx, membershipContext, m)
}

// FromContext returns the organization and membership set by RequireMembership
func FromContext(ctx context.Context) (*Organization, *Membership, bool) {
	org, ok := ctx.Value(organizationContext).(*Organization)
	if !ok {
		return nil, nil, false
	}
	m, ok := ctx.Value(membershipContext).(*Membership)
	if !ok {
		return nil, nil, false
	}
	return org, m, true
}
