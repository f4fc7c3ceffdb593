// internal/repository/user_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
)

type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByTokenHash resolves an api token by the hex SHA-256 of its secret.
	GetByTokenHash(ctx context.Context, hash string) (*model.TokenClaims, error)
}

type UserRepository struct {
	DB *sql.DB
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT id, email, name, role, permissions, active FROM users WHERE id=$1`
	var u model.User
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, pq.Array(&u.Permissions), &u.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("user", id)
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByTokenHash(ctx context.Context, hash string) (*model.TokenClaims, error) {
	query := `
        SELECT id, user_id FROM api_tokens
        WHERE token_hash=$1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > NOW())
    `
	var c model.TokenClaims
	if err := r.DB.QueryRowContext(ctx, query, hash).Scan(&c.TokenID, &c.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("token", "")
		}
		return nil, err
	}
	return &c, nil
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
