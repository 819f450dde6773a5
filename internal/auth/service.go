package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermViewer   Permission = "viewer"
	PermOperator Permission = "operator"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service exchanges the rig API key for short-lived JWTs and validates them.
// With no key hash configured every request is treated as an operator.
type Service struct {
	jwtHandler *JWTHandler
	hasher     *KeyHasher
	apiKeyHash string
	logger     *zap.Logger
}

func NewService(cfg config.AuthConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Enabled() && !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready",
			zap.String("env", cfg.JWTSecretEnv))
	}

	return &Service{
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		hasher:     NewKeyHasher(DefaultHashParams()),
		apiKeyHash: cfg.APIKeyHash,
		logger:     logger,
	}
}

func (s *Service) Enabled() bool { return s.apiKeyHash != "" }

// IssueToken verifies apiKey and returns a signed operator token.
func (s *Service) IssueToken(apiKey, clientIP string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, fmt.Errorf("authentication is disabled")
	}

	ok, err := s.hasher.Verify(apiKey, s.apiKeyHash)
	if err != nil {
		s.logger.Error("Configured API key hash is unusable", zap.Error(err))
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !ok {
		s.logger.Warn("API key rejected", zap.String("ip_address", clientIP))
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwtHandler.GenerateAccessToken("api-key", PermOperator)
	if err != nil {
		return "", time.Time{}, err
	}

	s.logger.Info("Access token issued",
		zap.String("ip_address", clientIP),
		zap.Time("expires_at", expiresAt))
	return token, expiresAt, nil
}

// ValidateToken returns the permissions a token grants.
func (s *Service) ValidateToken(token string) ([]Permission, error) {
	if !s.Enabled() {
		return roleToPermissions(PermOperator), nil
	}
	claims, err := s.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return roleToPermissions(Permission(claims.Role)), nil
}

func roleToPermissions(role Permission) []Permission {
	switch role {
	case PermOperator:
		return []Permission{PermViewer, PermOperator}
	case PermViewer:
		return []Permission{PermViewer}
	default:
		return nil
	}
}
