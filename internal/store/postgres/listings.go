package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/store"
)

const listingColumns = `id, owner_id, title, description, skill_needed, skill_offered, location, image, status, created_at, updated_at`

type listingRepo struct {
	db DBTX
}

func (r *listingRepo) Create(ctx context.Context, l *models.Listing) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO listings (owner_id, title, description, skill_needed, skill_offered, location, image, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, l.OwnerID, l.Title, l.Description, l.SkillNeeded, l.SkillOffered, l.Location, l.Image, string(l.Status)).
		Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	return mapErr(err, "создание объявления")
}

func (r *listingRepo) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		return nil, mapErr(err, "получение объявления")
	}
	return l, nil
}

func (r *listingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id)
	l, err := scanListing(row)
	if err != nil {
		return nil, mapErr(err, "блокировка объявления")
	}
	return l, nil
}

func (r *listingRepo) List(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limitArg(limit), offset)
	if err != nil {
		return nil, mapErr(err, "получение объявлений")
	}
	return collectListings(rows)
}

func (r *listingRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Listing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, mapErr(err, "получение объявлений пользователя")
	}
	return collectListings(rows)
}

func (r *listingRepo) Update(ctx context.Context, l *models.Listing) error {
	err := r.db.QueryRow(ctx, `
		UPDATE listings
		SET title = $2, description = $3, skill_needed = $4, skill_offered = $5,
			location = $6, image = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING `+listingColumns,
		l.ID, l.Title, l.Description, l.SkillNeeded, l.SkillOffered, l.Location, l.Image).
		Scan(listingDest(l)...)
	if err != nil {
		return mapErr(err, "обновление объявления")
	}
	return parseListingStatus(l)
}

func (r *listingRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.ListingStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE listings SET status = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status <> $2
	`, id, string(status))
	if err != nil {
		return mapErr(err, "изменение статуса объявления")
	}
	if tag.RowsAffected() == 0 {
		// статус уже установлен или объявления нет
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
			return mapErr(err, "изменение статуса объявления")
		}
		if !exists {
			return store.ErrNotFound
		}
	}
	return nil
}

func (r *listingRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return mapErr(err, "удаление объявления")
}

// listingDest статус сканируется как строка и проверяется в parseListingStatus
func listingDest(l *models.Listing) []any {
	return []any{&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.SkillNeeded, &l.SkillOffered,
		&l.Location, &l.Image, (*string)(&l.Status), &l.CreatedAt, &l.UpdatedAt}
}

func parseListingStatus(l *models.Listing) error {
	status, err := models.ParseListingStatus(string(l.Status))
	if err != nil {
		return err
	}
	l.Status = status
	return nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	if err := row.Scan(listingDest(&l)...); err != nil {
		return nil, err
	}
	if err := parseListingStatus(&l); err != nil {
		return nil, err
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]models.Listing, error) {
	defer rows.Close()

	out := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, mapErr(err, "чтение объявления")
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "чтение объявлений")
	}
	return out, nil
}
