package services

import (
	"context"
	"errors"
	"time"

	"ringline/config"
	ringline_errors "ringline/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService validates bearer tokens issued by the dashboard. Tokens carry
// the user and the tenant that bounds who the user may call.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: time.Duration(cfg.JWTExpiryHours) * time.Hour,
	}
}

type AccessClaims struct {
	UserID   string `json:"uid"`
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

func (s *AuthService) ParseAccessToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ringline_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ringline_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, ringline_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return Identity{}, ringline_errors.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, ringline_errors.ErrUnauthorized
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Identity{}, ringline_errors.ErrUnauthorized
	}

	return Identity{UserID: userID, TenantID: tenantID}, nil
}

// IssueAccessToken signs a token for id. The dashboard normally does this;
// the migrate tool uses it to hand out development tokens.
func (s *AuthService) IssueAccessToken(id Identity) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID:   id.UserID.String(),
		TenantID: id.TenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ringline_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, ringline_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, ringline_errors.ErrForbidden):
		return 403
	case errors.Is(err, ringline_errors.ErrNotFound):
		return 404
	case errors.Is(err, ringline_errors.ErrInvalidState), errors.Is(err, ringline_errors.ErrAlreadyExists):
		return 409
	case errors.Is(err, ringline_errors.ErrRateLimited):
		return 429
	case errors.Is(err, ringline_errors.ErrTransportFailure):
		return 502
	case errors.Is(err, ringline_errors.ErrServiceUnavailable):
		return 503
	case errors.Is(err, ringline_errors.ErrTimeout):
		return 504
	default:
		return 500
	}
}

// ErrorCode is the machine-readable code placed in error responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ringline_errors.ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ringline_errors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ringline_errors.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ringline_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ringline_errors.ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ringline_errors.ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ringline_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ringline_errors.ErrTransportFailure):
		return "TRANSPORT_FAILURE"
	case errors.Is(err, ringline_errors.ErrServiceUnavailable):
		return "SERVICE_UNAVAILABLE"
	case errors.Is(err, ringline_errors.ErrTimeout):
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

type ctxKey string

var identityKey ctxKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
