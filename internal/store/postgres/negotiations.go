package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/barterkita-api/internal/models"
)

const negotiationColumns = `id, listing_id, listing_owner_id, proposer_id, status, created_at`

type negotiationRepo struct {
	db DBTX
}

func (r *negotiationRepo) Create(ctx context.Context, n *models.Negotiation) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO negotiations (listing_id, listing_owner_id, proposer_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, n.ListingID, n.ListingOwnerID, n.ProposerID, string(n.Status)).Scan(&n.ID, &n.CreatedAt)
	return mapErr(err, "создание предложения")
}

func (r *negotiationRepo) Get(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	n, err := scanNegotiation(r.db.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "получение предложения")
	}
	return n, nil
}

func (r *negotiationRepo) FindActiveByListing(ctx context.Context, listingID uuid.UUID) (*models.Negotiation, error) {
	n, err := scanNegotiation(r.db.QueryRow(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE listing_id = $1 AND status = ANY($2)
		LIMIT 1
	`, listingID, statusArgs(models.ActiveNegotiationStatuses)))
	if err != nil {
		return nil, mapErr(err, "поиск активного предложения")
	}
	return n, nil
}

func (r *negotiationRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, statuses ...models.NegotiationStatus) ([]models.Negotiation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE listing_owner_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
	`, ownerID, statusArgs(statuses))
	if err != nil {
		return nil, mapErr(err, "получение входящих предложений")
	}
	return collectNegotiations(rows)
}

func (r *negotiationRepo) ListByProposer(ctx context.Context, proposerID uuid.UUID, statuses ...models.NegotiationStatus) ([]models.Negotiation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE proposer_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
	`, proposerID, statusArgs(statuses))
	if err != nil {
		return nil, mapErr(err, "получение отправленных предложений")
	}
	return collectNegotiations(rows)
}

func (r *negotiationRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.NegotiationStatus) error {
	var got uuid.UUID
	err := r.db.QueryRow(ctx, `
		UPDATE negotiations SET status = $2 WHERE id = $1 RETURNING id
	`, id, string(status)).Scan(&got)
	return mapErr(err, "изменение статуса предложения")
}

func (r *negotiationRepo) DeleteByListing(ctx context.Context, listingID uuid.UUID, statuses ...models.NegotiationStatus) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM negotiations
		WHERE listing_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))
	`, listingID, statusArgs(statuses))
	if err != nil {
		return 0, mapErr(err, "удаление предложений")
	}
	return tag.RowsAffected(), nil
}

func statusArgs(statuses []models.NegotiationStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func scanNegotiation(row pgx.Row) (*models.Negotiation, error) {
	var n models.Negotiation
	var status string
	if err := row.Scan(&n.ID, &n.ListingID, &n.ListingOwnerID, &n.ProposerID, &status, &n.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParseNegotiationStatus(status)
	if err != nil {
		return nil, err
	}
	n.Status = parsed
	return &n, nil
}

func collectNegotiations(rows pgx.Rows) ([]models.Negotiation, error) {
	defer rows.Close()

	out := []models.Negotiation{}
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, mapErr(err, "чтение предложения")
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "чтение предложений")
	}
	return out, nil
}
