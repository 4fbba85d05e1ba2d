package organization

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/zllovesuki/seatplan/auth"
	resp "github.com/zllovesuki/seatplan/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// Options contains the configuration for Service router
type Options struct {
	Auth    *auth.Auth
	Manager *Manager
	Clock   clockwork.Clock
	Logger  *zap.Logger
	// Mounts are routers served under /{slug}, behind the membership check
	Mounts map[string]http.Handler
}

// Service is the organization API router
type Service struct {
	Options
}

// CreateRequest is the body of a new organization
type CreateRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=128"`
	BillingEmail string `json:"billingEmail" validate:"omitempty,email"`
}

// UpdateRequest changes the settings of an organization
type UpdateRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=128"`
	ImageURL     *string `json:"imageUrl" validate:"omitempty,url"`
	BillingEmail *string `json:"billingEmail" validate:"omitempty,email"`
}

// RoleRequest changes the role of a member
type RoleRequest struct {
	Role Role `json:"role" validate:"required"`
}

// Response is an organization with the role of the caller
type Response struct {
	*Organization
	Role Role `json:"role"`
}

// NewService will create an instance of the organization API router
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Manager == nil {
		return nil, fmt.Errorf("nil Manager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = clockwork.NewRealClock()
	}
	return &Service{
		Options: option,
	}, nil
}

// RequireMembership resolves {slug} and only lets members of the organization through.
// Non-members get a 404 so the existence of an organization is not leaked
func (s *Service) RequireMembership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims, _ := auth.FromContext(ctx)

		org, err := s.Manager.GetBySlug(ctx, chi.URLParam(r, "slug"))
		if err != nil {
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
		if org == nil {
			resp.WriteError(w, r, resp.ErrNotFound())
			return
		}
		m, err := s.Manager.GetMembership(ctx, org.ID, claims.ID)
		if err != nil {
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
		if m == nil {
			resp.WriteError(w, r, resp.ErrNotFound())
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(ctx, org, m)))
	})
}

// RequireManager only lets owners and admins through. Must run after RequireMembership
func RequireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, m, ok := FromContext(r.Context())
		if !ok || !m.Role.CanManage() {
			resp.WriteError(w, r, resp.ErrForbidden())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRuleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotAllowed):
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages(err.Error()))
	case errors.Is(err, ErrLastOwner):
		resp.WriteError(w, r, resp.ErrConflict().AddMessages(err.Error()))
	case errors.Is(err, ErrInvalidRole):
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
	default:
		resp.WriteError(w, r, resp.ErrUnexpected())
	}
}

func (s *Service) list(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	orgs, err := s.Manager.ListForUser(r.Context(), claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, orgs)
}

func (s *Service) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	claims, _ := auth.FromContext(r.Context())
	if req.BillingEmail == "" {
		req.BillingEmail = claims.Email
	}

	org, err := s.Manager.Create(r.Context(), CreateOptions{
		Name:         req.Name,
		OwnerID:      claims.ID,
		BillingEmail: req.BillingEmail,
		Now:          s.Clock.Now(),
	})
	if err != nil {
		s.Logger.Error("Unable to create organization",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponseWithStatus(w, r, http.StatusCreated, Response{
		Organization: org,
		Role:         RoleOwner,
	})
}

func (s *Service) get(w http.ResponseWriter, r *http.Request) {
	org, m, _ := FromContext(r.Context())
	resp.WriteResponse(w, r, Response{
		Organization: org,
		Role:         m.Role,
	})
}

func (s *Service) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	org, m, _ := FromContext(r.Context())
	err := s.Manager.Update(r.Context(), org, UpdateOptions{
		Name:         req.Name,
		ImageURL:     req.ImageURL,
		BillingEmail: req.BillingEmail,
	})
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, Response{
		Organization: org,
		Role:         m.Role,
	})
}

func (s *Service) delete(w http.ResponseWriter, r *http.Request) {
	org, m, _ := FromContext(r.Context())
	if m.Role != RoleOwner {
		resp.WriteError(w, r, resp.ErrForbidden())
		return
	}
	if err := s.Manager.Delete(r.Context(), org.ID); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	s.Logger.Info("Organization deleted",
		zap.String("OrganizationID", org.ID),
		zap.String("UserID", m.UserID),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listMembers(w http.ResponseWriter, r *http.Request) {
	org, _, _ := FromContext(r.Context())
	members, err := s.Manager.ListMembers(r.Context(), org.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, members)
}

// target returns the membership named in the URL, writing the error response if there is none
func (s *Service) target(w http.ResponseWriter, r *http.Request) (*Membership, int64, bool) {
	org, _, _ := FromContext(r.Context())
	target, err := s.Manager.GetMembership(r.Context(), org.ID, chi.URLParam(r, "userID"))
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return nil, 0, false
	}
	if target == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return nil, 0, false
	}
	owners, err := s.Manager.CountOwners(r.Context(), org.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return nil, 0, false
	}
	return target, owners, true
}

func (s *Service) updateMember(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	org, actor, _ := FromContext(r.Context())
	target, owners, ok := s.target(w, r)
	if !ok {
		return
	}
	if err := CheckRoleChange(*actor, *target, req.Role, owners); err != nil {
		writeRuleError(w, r, err)
		return
	}
	if err := s.Manager.UpdateRole(r.Context(), org.ID, target.UserID, req.Role); err != nil {
		writeRuleError(w, r, err)
		return
	}
	target.Role = req.Role
	resp.WriteResponse(w, r, target)
}

func (s *Service) removeMember(w http.ResponseWriter, r *http.Request) {
	org, actor, _ := FromContext(r.Context())
	target, owners, ok := s.target(w, r)
	if !ok {
		return
	}
	if err := CheckRemoval(*actor, *target, owners); err != nil {
		writeRuleError(w, r, err)
		return
	}
	if err := s.Manager.RemoveMember(r.Context(), org.ID, target.UserID); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Router will return the routes under organization API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())
	r.Use(s.Auth.ClaimCheck())

	r.Get("/", s.list)
	r.Post("/", s.create)

	r.Route("/{slug}", func(r chi.Router) {
		r.Use(s.RequireMembership)

		r.Get("/", s.get)
		r.With(RequireManager).Patch("/", s.update)
		r.Delete("/", s.delete)

		r.Get("/members", s.listMembers)
		r.Patch("/members/{userID}", s.updateMember)
		r.Delete("/members/{userID}", s.removeMember)

		for pattern, h := range s.Mounts {
			r.Mount(pattern, h)
		}
	})

	return r
}
