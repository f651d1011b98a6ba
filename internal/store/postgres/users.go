package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/barterkita-api/internal/models"
)

const userColumns = `id, display_name, skill, address, email, avatar, telegram_id, password_hash, created_at, updated_at`

type userRepo struct {
	db DBTX
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (display_name, skill, address, email, avatar, telegram_id, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, u.DisplayName, u.Skill, u.Address, nullIfEmpty(u.Email), u.Avatar, u.TelegramID, u.PasswordHash).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapErr(err, "создание пользователя")
}

func (r *userRepo) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, `lower(email) = lower($1)`, email)
}

func (r *userRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return r.getBy(ctx, `telegram_id = $1`, telegramID)
}

func (r *userRepo) getBy(ctx context.Context, where string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		return nil, mapErr(err, "получение пользователя")
	}
	return u, nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, u *models.User) error {
	updated, err := scanUser(r.db.QueryRow(ctx, `
		UPDATE users
		SET display_name = $2, skill = $3, address = $4, avatar = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.DisplayName, u.Skill, u.Address, u.Avatar))
	if err != nil {
		return mapErr(err, "обновление профиля")
	}
	*u = *updated
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var email *string
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Skill, &u.Address, &email, &u.Avatar,
		&u.TelegramID, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}
