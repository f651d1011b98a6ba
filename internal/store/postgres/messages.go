package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/rajivgeraev/barterkita-api/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, sender_display, text, seq, created_at`

type messageRepo struct {
	db DBTX
}

func (r *messageRepo) Append(ctx context.Context, m *models.Message) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sender_display, text)
		VALUES ($1, $2, $3, $4)
		RETURNING id, seq, created_at
	`, m.ConversationID, m.SenderID, m.SenderDisplay, m.Text).Scan(&m.ID, &m.Seq, &m.CreatedAt)
	return mapErr(err, "отправка сообщения")
}

func (r *messageRepo) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, mapErr(err, "получение сообщений")
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr(err, "чтение сообщения")
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err, "чтение сообщений")
	}
	return out, nil
}

func (r *messageRepo) Last(ctx context.Context, conversationID string) (*models.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, conversationID))
	if err != nil {
		return nil, mapErr(err, "получение последнего сообщения")
	}
	return m, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderDisplay, &m.Text, &m.Seq, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
