// internal/service/auth_service.go
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/repository"
)

// AuthService resolves opaque bearer tokens. Only the SHA-256 of a token is stored.
type AuthService struct {
	Users repository.UserRepositoryInterface
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *AuthService) VerifyToken(ctx context.Context, token string) (*model.TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, appErrors.NewAuth("token missing")
	}
	claims, err := s.Users.GetByTokenHash(ctx, HashToken(token))
	if appErrors.IsNotFound(err) {
		return nil, appErrors.NewAuth("invalid token")
	}
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.Users.GetByID(ctx, id)
	if appErrors.IsNotFound(err) {
		return nil, appErrors.NewAuth("user not found")
	}
	return u, err
}
