package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gongplan/gong-api/internal/models"
	appErrors "github.com/gongplan/gong-api/pkg/errors"
)

type plannerRepository interface {
	IsPlanner(ctx context.Context, email, center string) (bool, error)
	CentersFor(ctx context.Context, email string) ([]string, error)
}

// AuthConfig defines how bearer tokens are verified and issued.
type AuthConfig struct {
	Secret string
	Issuer string
	Expiry time.Duration
}

// AuthService verifies the identity carried by bearer tokens and decides
// which centers that identity may plan. Sign-in itself happens elsewhere.
type AuthService struct {
	planners plannerRepository
	logger   *zap.Logger
	config   AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(planners plannerRepository, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Expiry <= 0 {
		config.Expiry = 24 * time.Hour
	}
	return &AuthService{planners: planners, logger: logger, config: config}
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	claims.Email = strings.TrimSpace(strings.ToLower(claims.Email))
	if claims.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token carries no email")
	}
	return claims, nil
}

// IssueToken signs an access token for email. It backs local tooling and
// tests; production tokens come from the sign-in service sharing the secret.
func (s *AuthService) IssueToken(email, name string, role models.UserRole) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.config.Expiry)
	claims := models.JWTClaims{
		Email: strings.TrimSpace(strings.ToLower(email)),
		Name:  name,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			Issuer:    s.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}
	return signed, expiresAt, nil
}

// CanPlan reports whether the identity may edit center. Admins plan every center.
func (s *AuthService) CanPlan(ctx context.Context, claims *models.JWTClaims, center string) (bool, error) {
	if claims == nil {
		return false, nil
	}
	if claims.Role == models.RoleAdmin {
		return true, nil
	}
	if s.planners == nil {
		return false, nil
	}
	ok, err := s.planners.IsPlanner(ctx, claims.Email, center)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check planner access")
	}
	if !ok {
		s.logger.Debug("planner access denied", zap.String("email", claims.Email), zap.String("center", center))
	}
	return ok, nil
}

// Centers lists the centers the identity may plan. Admins get nil, meaning all.
func (s *AuthService) Centers(ctx context.Context, claims *models.JWTClaims) ([]string, error) {
	if claims != nil && claims.Role == models.RoleAdmin {
		return nil, nil
	}
	if claims == nil || s.planners == nil {
		return []string{}, nil
	}
	names, err := s.planners.CentersFor(ctx, claims.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list planner centers")
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}
