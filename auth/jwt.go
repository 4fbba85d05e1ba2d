package auth

import (
	"net/http"
	"time"

	"github.com/zllovesuki/seatplan/response"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

var bearerPrefix = "Bearer "
var jwtSigningMethod = jwt.SigningMethodHS256

// token subjects, so a refresh token cannot be used as an access token
const (
	accessSubject  = "access"
	refreshSubject = "refresh"
)

// Token lifetimes
const (
	AccessTokenLifetime  = time.Minute * 15
	RefreshTokenLifetime = time.Hour * 24
)

// RefreshClaim is the struct for the refresh token, which only identifies the user
type RefreshClaim struct {
	jwt.StandardClaims
	ID string `json:"id"`
}

// CreateTokenFromClaims will create a signed jwt token that contains the given Claims
func (a *Auth) CreateTokenFromClaims(claims Claims) (string, error) {
	claims.StandardClaims = jwt.StandardClaims{
		ExpiresAt: time.Now().Add(AccessTokenLifetime).Unix(),
		Subject:   accessSubject,
	}
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	return token.SignedString(a.jwtKey)
}

// CreateRefreshTokenFromClaims will create a long lived token that can only be exchanged for a new token
func (a *Auth) CreateRefreshTokenFromClaims(claims Claims) (string, error) {
	refresh := RefreshClaim{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(RefreshTokenLifetime).Unix(),
			Subject:   refreshSubject,
		},
		ID: claims.ID,
	}
	token := jwt.NewWithClaims(jwtSigningMethod, refresh)
	return token.SignedString(a.jwtKey)
}

type subjectClaims interface {
	jwt.Claims
	subject() string
}

func (c *Claims) subject() string       { return c.Subject }
func (c *RefreshClaim) subject() string { return c.Subject }

// parse returns false for any token that is invalid, expired, or of the wrong kind
func (a *Auth) parse(token string, claims subjectClaims, subject string) (bool, error) {
	jwtToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	})
	if err != nil {
		if err == jwt.ErrSignatureInvalid {
			return false, nil
		}
		if _, ok := err.(*jwt.ValidationError); ok {
			return false, nil
		}
		return false, err
	}
	if jwtToken.Method != jwtSigningMethod {
		return false, nil
	}
	if !jwtToken.Valid {
		return false, nil
	}
	return claims.subject() == subject, nil
}

// VerifyRefreshToken returns the claims of a valid refresh token, or nil
func (a *Auth) VerifyRefreshToken(token string) (*RefreshClaim, error) {
	claims := &RefreshClaim{}
	ok, err := a.parse(token, claims, refreshSubject)
	if err != nil || !ok {
		return nil, err
	}
	return claims, nil
}

func (a *Auth) verifyToken(token string) (*Claims, error) {
	claims := &Claims{}
	ok, err := a.parse(token, claims, accessSubject)
	if err != nil || !ok {
		return nil, err
	}
	return claims, nil
}

// Middleware returns a http middleware to verify Bearer in the header
func (a *Auth) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			n := len(bearerPrefix)
			if len(auth) < n || auth[:n] != bearerPrefix {
				response.WriteError(w, r, response.ErrNoBearer())
				return
			}
			claims, err := a.verifyToken(auth[n:])
			if err != nil {
				a.Logger.Error("Cannot verify JWT token",
					zap.Error(err),
				)
				response.WriteError(w, r, response.ErrUnexpected())
				return
			}
			if claims == nil {
				response.WriteError(w, r, response.ErrNoBearer())
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), claims)))
		})
	}
}

// ClaimCheck returns a http middlware to authenticated route to ensure that Claims exists in the context
func (a *Auth) ClaimCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				a.Logger.Error("Context has no Claims")
				response.WriteError(w, r, response.ErrUnexpected())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
