package user

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zllovesuki/seatplan/auth"
	resp "github.com/zllovesuki/seatplan/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// OrganizationCounter counts the organizations a user belongs to
type OrganizationCounter interface {
	CountForUser(ctx context.Context, userID string) (int64, error)
}

// Options contains the configuration for Service router
type Options struct {
	Auth          *auth.Auth
	UserManager   *Manager
	Organizations OrganizationCounter
	Logger        *zap.Logger
}

// Service is the user API router
type Service struct {
	Options
}

// LoginRequest is the model of user request for login pin
type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RefreshRequest exchanges a refresh token for a new pair of tokens
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// UpdateRequest changes the profile of the current user
type UpdateRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=128"`
	ImageURL *string `json:"imageUrl" validate:"omitempty,url"`
}

// TokenResponse is returned after a successful login or refresh
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

// OnboardingResponse tells the frontend which onboarding page to show
type OnboardingResponse struct {
	Step OnboardingStep `json:"step"`
}

// NewService will create an instance of the user API router
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.UserManager == nil {
		return nil, fmt.Errorf("nil UserManager is invalid")
	}
	if option.Organizations == nil {
		return nil, fmt.Errorf("nil Organizations is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

func (s *Service) requestLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	email := NormalizeEmail(req.Email)
	logger := s.Logger.With(zap.String("Email", email))

	if err := s.Auth.Request(r.Context(), email, email); err != nil {
		logger.Error("Unable to send login PIN",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) issueTokens(w http.ResponseWriter, r *http.Request, logger *zap.Logger, u *User) {
	claims := auth.Claims{
		ID:    u.ID,
		Email: u.Email,
	}
	jwtToken, err := s.Auth.CreateTokenFromClaims(claims)
	if err != nil {
		logger.Error("Unable to generate token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	refreshToken, err := s.Auth.CreateRefreshTokenFromClaims(claims)
	if err != nil {
		logger.Error("Unable to generate refresh token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, TokenResponse{
		Token:        jwtToken,
		RefreshToken: refreshToken,
		User:         u,
	})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := NormalizeEmail(chi.URLParam(r, "uid"))
	token := chi.URLParam(r, "token")

	logger := s.Logger.With(zap.String("Email", email))

	valid, err := s.Auth.Verify(ctx, email, token)
	if err != nil {
		logger.Error("Unable to verify login PIN",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrVerifyToken())
		return
	}

	if !valid {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	// "upsert" a user
	u, err := s.UserManager.GetByEmail(ctx, email)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	if u == nil {
		u, err = s.UserManager.NewUser(ctx, email)
		if err != nil {
			logger.Error("Unable to create User",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected())
			return
		}
	}

	s.issueTokens(w, r, logger.With(zap.String("UserID", u.ID)), u)
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	claims, err := s.Auth.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		s.Logger.Error("Cannot verify refresh token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if claims == nil {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	u, err := s.UserManager.GetByID(r.Context(), claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if u == nil {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	s.issueTokens(w, r, s.Logger.With(zap.String("UserID", u.ID)), u)
}

func (s *Service) currentUser(w http.ResponseWriter, r *http.Request) *User {
	claims, _ := auth.FromContext(r.Context())
	u, err := s.UserManager.GetByID(r.Context(), claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return nil
	}
	if u == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return nil
	}
	return u
}

func (s *Service) getMe(w http.ResponseWriter, r *http.Request) {
	u := s.currentUser(w, r)
	if u == nil {
		return
	}
	resp.WriteResponse(w, r, u)
}

func (s *Service) updateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	u := s.currentUser(w, r)
	if u == nil {
		return
	}
	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.ImageURL != nil {
		u.ImageURL = *req.ImageURL
	}
	if err := s.UserManager.Update(r.Context(), u); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, u)
}

func (s *Service) getOnboarding(w http.ResponseWriter, r *http.Request) {
	u := s.currentUser(w, r)
	if u == nil {
		return
	}
	count, err := s.Organizations.CountForUser(r.Context(), u.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, OnboardingResponse{
		Step: NextOnboardingStep(u, count),
	})
}

// Router will return the routes under user API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/login", s.requestLogin)
	r.Get("/login/{uid}/{token}", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Use(s.Auth.ClaimCheck())

		r.Get("/me", s.getMe)
		r.Patch("/me", s.updateMe)
		r.Get("/me/onboarding", s.getOnboarding)
	})

	return r
}
