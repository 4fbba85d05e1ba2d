package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zllovesuki/seatplan/auth"
	"github.com/zllovesuki/seatplan/organization"
	resp "github.com/zllovesuki/seatplan/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// SeatLimiter returns how many members an organization may have
type SeatLimiter interface {
	SeatLimit(ctx context.Context, org *organization.Organization) (int, error)
}

// Options contains the configuration for Service router
type Options struct {
	Auth          *auth.Auth
	Manager       *Manager
	Organizations *organization.Manager
	Seats         SeatLimiter
	Clock         clockwork.Clock
	Logger        *zap.Logger
	// SiteURL is the base of the acceptance links
	SiteURL string
}

// Service manages and accepts invites
type Service struct {
	Options
}

// EmailInviteRequest invites an email address
type EmailInviteRequest struct {
	Email string            `json:"email" validate:"required,email"`
	Role  organization.Role `json:"role" validate:"required"`
}

// LinkResponse is a link with its acceptance URL
type LinkResponse struct {
	*Link
	URL string `json:"url"`
}

// EmailInviteResponse is an email invite with its acceptance URL
type EmailInviteResponse struct {
	*EmailInvite
	URL string `json:"url"`
}

// ListResponse is the invite tab of an organization
type ListResponse struct {
	Link   *LinkResponse         `json:"link"`
	Emails []EmailInviteResponse `json:"emails"`
}

// PreviewResponse is shown to an invitee before accepting
type PreviewResponse struct {
	OrganizationName string            `json:"organizationName"`
	OrganizationSlug string            `json:"organizationSlug"`
	Email            string            `json:"email,omitempty"`
	Role             organization.Role `json:"role"`
}

// AcceptResponse is returned once the invitee joined
type AcceptResponse struct {
	Organization *organization.Organization `json:"organization"`
	Membership   *organization.Membership   `json:"membership"`
}

// NewService will create an instance of the invite routers
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Manager == nil {
		return nil, fmt.Errorf("nil Manager is invalid")
	}
	if option.Organizations == nil {
		return nil, fmt.Errorf("nil Organizations is invalid")
	}
	if option.Seats == nil {
		return nil, fmt.Errorf("nil Seats is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = clockwork.NewRealClock()
	}
	option.SiteURL = strings.TrimRight(option.SiteURL, "/")
	return &Service{
		Options: option,
	}, nil
}

func (s *Service) linkResponse(l *Link) *LinkResponse {
	if l == nil {
		return nil
	}
	return &LinkResponse{
		Link: l,
		URL:  s.SiteURL + "/invites/links/" + l.Token,
	}
}

func (s *Service) emailResponse(e *EmailInvite) EmailInviteResponse {
	return EmailInviteResponse{
		EmailInvite: e,
		URL:         s.SiteURL + "/invites/emails/" + e.Token,
	}
}

// join adds the user to the organization once the seat limit allows it. Existing members are returned as is
func (s *Service) join(ctx context.Context, organizationID, userID string, role organization.Role) (*AcceptResponse, error) {
	org, err := s.Organizations.GetByID(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrInviteNotFound
	}

	existing, err := s.Organizations.GetMembership(ctx, org.ID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &AcceptResponse{Organization: org, Membership: existing}, nil
	}

	limit, err := s.Seats.SeatLimit(ctx, org)
	if err != nil {
		return nil, err
	}
	members, err := s.Organizations.CountMembers(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	if members >= limit {
		return nil, ErrSeatLimitReached
	}

	m, err := s.Organizations.AddMember(ctx, org.ID, userID, role)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Member joined organization",
		zap.String("OrganizationID", org.ID),
		zap.String("UserID", userID),
		zap.String("Role", string(m.Role)),
	)
	return &AcceptResponse{Organization: org, Membership: m}, nil
}

// AcceptLink makes the user a member through the invite link
func (s *Service) AcceptLink(ctx context.Context, token, userID string) (*AcceptResponse, error) {
	link, err := s.Manager.GetLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrInviteNotFound
	}
	if err := usable(link.DeactivatedAt, link.ExpiresAt, s.Clock.Now()); err != nil {
		return nil, err
	}
	return s.join(ctx, link.OrganizationID, userID, organization.RoleMember)
}

// AcceptEmailInvite makes the user a member with the invited role. The invite can only be used once
func (s *Service) AcceptEmailInvite(ctx context.Context, token, userID, email string) (*AcceptResponse, error) {
	invite, err := s.Manager.GetEmailInviteByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if invite == nil {
		return nil, ErrInviteNotFound
	}
	now := s.Clock.Now()
	if err := usable(invite.DeactivatedAt, invite.ExpiresAt, now); err != nil {
		return nil, err
	}
	if normalizeEmail(email) != invite.Email {
		return nil, ErrEmailMismatch
	}

	accepted, err := s.join(ctx, invite.OrganizationID, userID, invite.Role)
	if err != nil {
		return nil, err
	}
	if _, err := s.Manager.DeactivateEmailInvite(ctx, invite.OrganizationID, invite.ID, now); err != nil {
		return nil, err
	}
	return accepted, nil
}

func writeInviteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInviteNotFound):
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages(err.Error()))
	case errors.Is(err, ErrInviteExpired):
		resp.WriteError(w, r, resp.ErrGone().AddMessages(err.Error()))
	case errors.Is(err, ErrSeatLimitReached):
		resp.WriteError(w, r, resp.ErrPaymentRequired().AddMessages(err.Error()))
	case errors.Is(err, ErrEmailMismatch):
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages(err.Error()))
	case errors.Is(err, organization.ErrInvalidRole):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
	default:
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

func (s *Service) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org, _, _ := organization.FromContext(ctx)
	now := s.Clock.Now()

	link, err := s.Manager.GetActiveLink(ctx, org.ID, now)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	invites, err := s.Manager.ListEmailInvites(ctx, org.ID, now)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	emails := make([]EmailInviteResponse, 0, len(invites))
	for i := range invites {
		emails = append(emails, s.emailResponse(&invites[i]))
	}
	resp.WriteResponse(w, r, ListResponse{
		Link:   s.linkResponse(link),
		Emails: emails,
	})
}

func (s *Service) createLink(w http.ResponseWriter, r *http.Request) {
	org, m, _ := organization.FromContext(r.Context())
	link, err := s.Manager.CreateLink(r.Context(), org.ID, m.UserID, s.Clock.Now())
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponseWithStatus(w, r, http.StatusCreated, s.linkResponse(link))
}

func (s *Service) deactivateLink(w http.ResponseWriter, r *http.Request) {
	org, _, _ := organization.FromContext(r.Context())
	if err := s.Manager.DeactivateLink(r.Context(), org.ID, s.Clock.Now()); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) createEmailInvite(w http.ResponseWriter, r *http.Request) {
	var req EmailInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	org, m, _ := organization.FromContext(r.Context())
	if req.Role == organization.RoleOwner && m.Role != organization.RoleOwner {
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages(organization.ErrNotAllowed.Error()))
		return
	}

	invite, err := s.Manager.CreateEmailInvite(r.Context(), org.ID, m.UserID, req.Email, req.Role, s.Clock.Now())
	if err != nil {
		writeInviteError(w, r, err)
		return
	}
	resp.WriteResponseWithStatus(w, r, http.StatusCreated, s.emailResponse(invite))
}

func (s *Service) deactivateEmailInvite(w http.ResponseWriter, r *http.Request) {
	org, _, _ := organization.FromContext(r.Context())
	found, err := s.Manager.DeactivateEmailInvite(r.Context(), org.ID, chi.URLParam(r, "id"), s.Clock.Now())
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if !found {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Router will return the invite management routes. It expects organization.RequireMembership upstream
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(organization.RequireManager)

	r.Get("/", s.list)
	r.Post("/link", s.createLink)
	r.Delete("/link", s.deactivateLink)
	r.Post("/emails", s.createEmailInvite)
	r.Delete("/emails/{id}", s.deactivateEmailInvite)

	return r
}

func (s *Service) previewLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, err := s.Manager.GetLinkByToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if link == nil {
		writeInviteError(w, r, ErrInviteNotFound)
		return
	}
	if err := usable(link.DeactivatedAt, link.ExpiresAt, s.Clock.Now()); err != nil {
		writeInviteError(w, r, err)
		return
	}
	s.writePreview(w, r, link.OrganizationID, "", organization.RoleMember)
}

func (s *Service) previewEmailInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invite, err := s.Manager.GetEmailInviteByToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if invite == nil {
		writeInviteError(w, r, ErrInviteNotFound)
		return
	}
	if err := usable(invite.DeactivatedAt, invite.ExpiresAt, s.Clock.Now()); err != nil {
		writeInviteError(w, r, err)
		return
	}
	s.writePreview(w, r, invite.OrganizationID, invite.Email, invite.Role)
}

func (s *Service) writePreview(w http.ResponseWriter, r *http.Request, organizationID, email string, role organization.Role) {
	org, err := s.Organizations.GetByID(r.Context(), organizationID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if org == nil {
		writeInviteError(w, r, ErrInviteNotFound)
		return
	}
	resp.WriteResponse(w, r, PreviewResponse{
		OrganizationName: org.Name,
		OrganizationSlug: org.Slug,
		Email:            email,
		Role:             role,
	})
}

func (s *Service) acceptLink(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	accepted, err := s.AcceptLink(r.Context(), chi.URLParam(r, "token"), claims.ID)
	if err != nil {
		writeInviteError(w, r, err)
		return
	}
	resp.WriteResponse(w, r, accepted)
}

func (s *Service) acceptEmailInvite(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	accepted, err := s.AcceptEmailInvite(r.Context(), chi.URLParam(r, "token"), claims.ID, claims.Email)
	if err != nil {
		writeInviteError(w, r, err)
		return
	}
	resp.WriteResponse(w, r, accepted)
}

// PublicRouter will return the routes used by invitees
func (s *Service) PublicRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Get("/links/{token}", s.previewLink)
	r.Post("/links/{token}", s.acceptLink)
	r.Get("/emails/{token}", s.previewEmailInvite)
	r.Post("/emails/{token}", s.acceptEmailInvite)

	return r
}
