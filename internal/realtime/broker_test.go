package realtime

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_SubscribePublishDispose(t *testing.T) {
	b := NewBroker()

	var got []Event
	dispose := b.Subscribe(TopicListings, func(e Event) { got = append(got, e) })
	other := b.Subscribe("other", func(e Event) { t.Fatal("unexpected delivery") })
	defer other()

	b.Publish(TopicListings, Event{Type: EventListingCreated, ID: "1"})
	require.Len(t, got, 1)
	assert.Equal(t, TopicListings, got[0].Topic)
	assert.False(t, got[0].Timestamp.IsZero())

	dispose()
	dispose()
	assert.Equal(t, 0, b.Subscribers(TopicListings))

	b.Publish(TopicListings, Event{Type: EventListingDeleted, ID: "1"})
	assert.Len(t, got, 1)
}

func TestBroker_DisposeIsolated(t *testing.T) {
	b := NewBroker()

	first := b.Subscribe(TopicListings, func(Event) {})
	second := b.Subscribe(TopicListings, func(Event) {})

	first()
	first()
	assert.Equal(t, 1, b.Subscribers(TopicListings))
	second()
	assert.Equal(t, 0, b.Subscribers(TopicListings))
}

func TestBroker_ConcurrentPublish(t *testing.T) {
	b := NewBroker()

	var mu sync.Mutex
	count := 0
	dispose := b.Subscribe(TopicConversations, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer dispose()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(TopicConversations, Event{Type: EventConversationUpdated})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}

func TestTopics(t *testing.T) {
	userID := uuid.New()

	got, ok := ParseUserTopic(UserTopic(userID))
	require.True(t, ok)
	assert.Equal(t, userID, got)

	_, ok = ParseUserTopic("user:not-a-uuid")
	assert.False(t, ok)

	id, ok := ParseConversationTopic(ConversationTopic("a_b_c"))
	require.True(t, ok)
	assert.Equal(t, "a_b_c", id)

	_, ok = ParseConversationTopic("conversation:")
	assert.False(t, ok)
}
