package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rajivgeraev/barterkita-api/internal/logging"
)

// ChangesChannel канал NOTIFY, в который пишут триггеры таблиц
const ChangesChannel = "barter_changes"

// Listener подмножество pq.Listener
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NewPQListener открывает отдельное соединение для LISTEN
func NewPQListener(dsn string, logger logging.Logger) *pq.Listener {
	return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info(context.Background(), "LISTEN соединение установлено")
		case pq.ListenerEventDisconnected:
			logger.Warn(context.Background(), "LISTEN соединение потеряно", "error", err)
		case pq.ListenerEventReconnected:
			logger.Info(context.Background(), "LISTEN соединение восстановлено")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn(context.Background(), "не удалось подключиться для LISTEN", "error", err)
		}
	})
}

// change полезная нагрузка уведомления из триггера notify_barter_change
type change struct {
	Table  string `json:"table"`
	Op     string `json:"op"`
	ID     string `json:"id"`
	Ref    string `json:"ref"`
	Origin string `json:"origin"`
}

// Relay переносит уведомления Postgres в брокер. События, созданные этим же
// экземпляром, пропускаются: сервисы публикуют их сами.
type Relay struct {
	listener   Listener
	publisher  Publisher
	instanceID string
	logger     logging.Logger
	pingEvery  time.Duration
}

// NewRelay создает ретранслятор
func NewRelay(listener Listener, publisher Publisher, instanceID string, logger logging.Logger) *Relay {
	return &Relay{
		listener:   listener,
		publisher:  publisher,
		instanceID: instanceID,
		logger:     logger.With("component", "relay"),
		pingEvery:  90 * time.Second,
	}
}

// Run слушает канал до отмены ctx
func (r *Relay) Run(ctx context.Context) error {
	if err := r.listener.Listen(ChangesChannel); err != nil {
		return fmt.Errorf("ошибка подписки на %s: %w", ChangesChannel, err)
	}
	defer r.listener.Close()

	ticker := time.NewTicker(r.pingEvery)
	defer ticker.Stop()

	notifications := r.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			// nil приходит после переподключения, часть уведомлений могла потеряться
			if n == nil {
				r.logger.Warn(ctx, "соединение LISTEN переподключено, возможна потеря событий")
				continue
			}
			r.Handle(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := r.listener.Ping(); err != nil {
					r.logger.Warn(ctx, "ping LISTEN соединения не прошел", "error", err)
				}
			}()
		}
	}
}

// Handle разбирает полезную нагрузку и публикует событие
func (r *Relay) Handle(ctx context.Context, payload string) {
	var ch change
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		r.logger.Warn(ctx, "некорректное уведомление", "payload", payload, "error", err)
		return
	}
	if ch.Origin == r.instanceID {
		return
	}

	ev := Event{ID: ch.ID, Ref: ch.Ref, Origin: ch.Origin}

	switch ch.Table {
	case "listings":
		ev.Type = opEvent(ch.Op, EventListingCreated, EventListingUpdated, EventListingDeleted)
		r.publisher.Publish(TopicListings, ev)
	case "negotiations":
		ev.Type = opEvent(ch.Op, EventNegotiationCreated, EventNegotiationUpdated, EventNegotiationDeleted)
		r.publisher.Publish(TopicListings, ev)
	case "conversations":
		ev.Type = opEvent(ch.Op, EventConversationCreated, EventConversationUpdated, EventConversationDeleted)
		ev.Ref = ch.ID
		r.publisher.Publish(TopicConversations, ev)
		r.publisher.Publish(ConversationTopic(ch.ID), ev)
	case "messages":
		ev.Type = EventNewMessage
		r.publisher.Publish(ConversationTopic(ch.Ref), ev)
	default:
		r.logger.Debug(ctx, "уведомление по неизвестной таблице", "table", ch.Table)
	}
}

func opEvent(op string, created, updated, deleted EventType) EventType {
	switch op {
	case "INSERT":
		return created
	case "DELETE":
		return deleted
	default:
		return updated
	}
}
