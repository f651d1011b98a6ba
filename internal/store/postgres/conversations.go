package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/barterkita-api/internal/models"
)

const conversationColumns = `id, listing_id, participant_a, participant_b, agreements, created_at`

type conversationRepo struct {
	db DBTX
}

func (r *conversationRepo) Ensure(ctx context.Context, c *models.Conversation) (bool, error) {
	// FOR KEY SHARE не дает удалить объявление, пока вставка не завершится
	err := r.db.QueryRow(ctx, `
		INSERT INTO conversations (id, listing_id, participant_a, participant_b)
		SELECT $1::text, l.id, $3::uuid, $4::uuid
		FROM listings l
		WHERE l.id = $2
		FOR KEY SHARE
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, c.ID, c.ListingID, c.Participants[0], c.Participants[1]).Scan(&c.CreatedAt)
	if err == nil {
		c.Agreements = map[uuid.UUID]bool{}
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, mapErr(err, "создание чата")
	}

	// пустой результат: чат уже есть либо объявление удалено (тогда Get вернет ErrNotFound)
	existing, err := r.Get(ctx, c.ID)
	if err != nil {
		return false, err
	}
	*c = *existing
	return false, nil
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, "получение чата")
	}
	return c, nil
}

func (r *conversationRepo) RecordAgreement(ctx context.Context, id string, userID uuid.UUID) (map[uuid.UUID]bool, bool, error) {
	var raw []byte
	var already bool
	err := r.db.QueryRow(ctx, `
		UPDATE conversations AS c
		SET agreements = c.agreements || jsonb_build_object($2::text, true)
		FROM (SELECT id, agreements FROM conversations WHERE id = $1 FOR UPDATE) AS prev
		WHERE c.id = prev.id
		RETURNING c.agreements, COALESCE((prev.agreements ->> $2::text)::boolean, false)
	`, id, userID.String()).Scan(&raw, &already)
	if err != nil {
		return nil, false, mapErr(err, "фиксация согласия")
	}

	agreements, err := decodeAgreements(raw)
	if err != nil {
		return nil, false, err
	}
	return agreements, already, nil
}

func (r *conversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, mapErr(err, "получение чатов пользователя")
	}
	return collectConversations(rows)
}

func (r *conversationRepo) ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE listing_id = $1
		ORDER BY created_at DESC
	`, listingID)
	if err != nil {
		return nil, mapErr(err, "получение чатов объявления")
	}
	return collectConversations(rows)
}

func (r *conversationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return mapErr(err, "удаление чата")
}

func decodeAgreements(raw []byte) (map[uuid.UUID]bool, error) {
	var byKey map[string]bool
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return nil, fmt.Errorf("ошибка при разборе согласий: %w", err)
		}
	}
	out := make(map[uuid.UUID]bool, len(byKey))
	for k, v := range byKey {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("ошибка при разборе согласий: %w", err)
		}
		out[id] = v
	}
	return out, nil
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var raw []byte
	if err := row.Scan(&c.ID, &c.ListingID, &c.Participants[0], &c.Participants[1], &raw, &c.CreatedAt); err != nil {
		return nil, err
	}
	agreements, err := decodeAgreements(raw)
	if err != nil {
		return nil, err
	}
	c.Agreements = agreements
	return &c, nil
}

func collectConversations(rows pgx.Rows) ([]models.Conversation, error) {
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, mapErr(err, "чтение чата")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "чтение чатов")
	}
	return out, nil
}
