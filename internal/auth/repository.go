package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// Repository is the user storage auth needs. *repository.UserRepo
// implements it against Postgres.
type Repository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}
