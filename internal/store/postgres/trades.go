package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/models"
)

type tradeRepo struct {
	db DBTX
}

func (r *tradeRepo) Archive(ctx context.Context, t *models.CompletedTrade) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO completed_trades (listing_id, listing_title, owner_id, proposer_id, conversation_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id) DO UPDATE SET conversation_id = EXCLUDED.conversation_id
		RETURNING id, completed_at
	`, t.ListingID, t.ListingTitle, t.OwnerID, t.ProposerID, t.ConversationID).Scan(&t.ID, &t.CompletedAt)
	return mapErr(err, "архивирование обмена")
}

func (r *tradeRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.CompletedTrade, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, listing_id, listing_title, owner_id, proposer_id, conversation_id, completed_at
		FROM completed_trades
		WHERE owner_id = $1 OR proposer_id = $1
		ORDER BY completed_at DESC
	`, userID)
	if err != nil {
		return nil, mapErr(err, "получение истории обменов")
	}
	defer rows.Close()

	out := []models.CompletedTrade{}
	for rows.Next() {
		var t models.CompletedTrade
		if err := rows.Scan(&t.ID, &t.ListingID, &t.ListingTitle, &t.OwnerID, &t.ProposerID,
			&t.ConversationID, &t.CompletedAt); err != nil {
			return nil, mapErr(err, "чтение истории обменов")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "чтение истории обменов")
	}
	return out, nil
}
