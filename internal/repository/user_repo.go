package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, role, email, phone, display_name, ledger_account, password_hash, created_at`

func (r *UserRepo) CreateUser(ctx context.Context, u *models.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, role, email, phone, display_name, ledger_account, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, u.ID, u.Role, u.Email, u.Phone, u.DisplayName, u.LedgerAccount, u.PasswordHash).Scan(&u.CreatedAt)
	return wrap(err, "user", u.Email)
}

func (r *UserRepo) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Role, &u.Email, &u.Phone, &u.DisplayName, &u.LedgerAccount, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, wrap(err, "user", id)
	}
	return &u, nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Role, &u.Email, &u.Phone, &u.DisplayName, &u.LedgerAccount, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, wrap(err, "user", email)
	}
	return &u, nil
}

// UpdateContact changes the payout phone and ledger account of a user.
func (r *UserRepo) UpdateContact(ctx context.Context, id uuid.UUID, phone, ledgerAccount string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET phone = $2, ledger_account = $3 WHERE id = $1`, id, phone, ledgerAccount)
	if err != nil {
		return wrap(err, "user", id)
	}
	if tag.RowsAffected() == 0 {
		return wrap(pgx.ErrNoRows, "user", id)
	}
	return nil
}
