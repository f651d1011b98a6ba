// Package postgres реализация store.Store поверх pgx
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rajivgeraev/barterkita-api/internal/store"
)

// DBTX общее подмножество pgxpool.Pool, pgx.Tx и pgxmock
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store хранилище в Postgres
type Store struct {
	db   DBTX
	inTx bool
}

var _ store.Store = (*Store)(nil)

// New создает хранилище над пулом соединений
func New(db DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) Listings() store.ListingRepository           { return &listingRepo{db: s.db} }
func (s *Store) Negotiations() store.NegotiationRepository   { return &negotiationRepo{db: s.db} }
func (s *Store) Conversations() store.ConversationRepository { return &conversationRepo{db: s.db} }
func (s *Store) Messages() store.MessageRepository           { return &messageRepo{db: s.db} }
func (s *Store) Users() store.UserRepository                 { return &userRepo{db: s.db} }
func (s *Store) Trades() store.TradeRepository               { return &tradeRepo{db: s.db} }

// WithinTx начинает транзакцию, выполняет fn и фиксирует ее при успехе.
// Вложенный вызов выполняется в уже открытой транзакции.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка при начале транзакции: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("ошибка при фиксации транзакции: %w", err)
		}
	}()

	return fn(ctx, &Store{db: tx, inTx: true})
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapErr переводит ошибки pgx в ошибки хранилища
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", op, store.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// nullIfEmpty передает пустую строку как NULL
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// limitArg 0 означает без ограничения (LIMIT NULL)
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
