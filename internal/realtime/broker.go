// Package realtime доставляет изменения подписчикам: брокер топиков внутри
// процесса, WebSocket шлюз и ретранслятор уведомлений Postgres.
package realtime

import (
	"sync"
	"time"
)

// Handler получает события топика. Вызывается синхронно из Publish,
// долгую работу обработчик выносит в отдельную горутину.
type Handler func(Event)

// Disposer отменяет подписку. Повторный вызов ничего не делает.
type Disposer func()

// Publisher публикует события
type Publisher interface {
	Publish(topic string, event Event)
}

// Broker брокер топиков внутри процесса
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
	now    func() time.Time
}

// NewBroker создает брокер
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[uint64]Handler),
		now:  time.Now,
	}
}

// Subscribe подписывает handler на топик
func (b *Broker) Subscribe(topic string, handler Handler) Disposer {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish доставляет событие всем подписчикам топика
func (b *Broker) Publish(topic string, event Event) {
	event.Topic = topic
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribers количество подписчиков топика
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
