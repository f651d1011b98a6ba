package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/middleware"
	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/realtime"
	"github.com/rajivgeraev/barterkita-api/internal/store/memory"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

type fixture struct {
	svc    *ChatService
	store  *memory.Store
	broker *realtime.Broker
	jwt    *utils.JWTService

	owner, proposer uuid.UUID
	listing         *models.Listing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	broker := realtime.NewBroker()
	jwtService := utils.NewJWTService("secret", time.Hour)

	owner := &models.User{DisplayName: "Sekolah Seni", Email: "owner@example.com"}
	proposer := &models.User{DisplayName: "Kedai Roti", Email: "proposer@example.com"}
	require.NoError(t, st.Users().Create(ctx, owner))
	require.NoError(t, st.Users().Create(ctx, proposer))

	l := &models.Listing{OwnerID: owner.ID, Title: "Logo Design", Description: "логотип", Status: models.ListingStatusNew}
	require.NoError(t, st.Listings().Create(ctx, l))

	cfg := &config.Config{RequestTimeout: time.Second}
	return &fixture{
		svc:      NewChatService(cfg, st, broker, jwtService, logging.Nop()),
		store:    st,
		broker:   broker,
		jwt:      jwtService,
		owner:    owner.ID,
		proposer: proposer.ID,
		listing:  l,
	}
}

func TestConversationID_Symmetric(t *testing.T) {
	f := newFixture(t)
	a := f.svc.ConversationID(f.owner, f.proposer, f.listing.ID)
	b := f.svc.ConversationID(f.proposer, f.owner, f.listing.ID)
	assert.Equal(t, a, b)
}

func TestEnsureConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnsureConversation(ctx, f.owner, f.owner, f.listing.ID)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	var created []realtime.Event
	defer f.broker.Subscribe(realtime.TopicConversations, func(e realtime.Event) { created = append(created, e) })()

	first, err := f.svc.EnsureConversation(ctx, f.owner, f.proposer, f.listing.ID)
	require.NoError(t, err)
	second, err := f.svc.EnsureConversation(ctx, f.proposer, f.owner, f.listing.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	require.Len(t, created, 1)
	assert.Equal(t, realtime.EventConversationCreated, created[0].Type)
}

func TestEnsureConversation_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	defer f.broker.Subscribe(realtime.TopicConversations, func(realtime.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.EnsureConversation(ctx, f.owner, f.proposer, f.listing.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, count)
}

func TestRecordAgreement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := models.ConversationID(f.owner, f.proposer, f.listing.ID)

	_, err := f.svc.RecordAgreement(ctx, id, f.owner)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.svc.EnsureConversation(ctx, f.owner, f.proposer, f.listing.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordAgreement(ctx, id, uuid.New())
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	res, err := f.svc.RecordAgreement(ctx, id, f.owner)
	require.NoError(t, err)
	assert.False(t, res.AlreadyAgreed)
	assert.Equal(t, map[uuid.UUID]bool{f.owner: true}, res.Agreements)

	res, err = f.svc.RecordAgreement(ctx, id, f.owner)
	require.NoError(t, err)
	assert.True(t, res.AlreadyAgreed)
	assert.Equal(t, map[uuid.UUID]bool{f.owner: true}, res.Agreements)

	res, err = f.svc.RecordAgreement(ctx, id, f.proposer)
	require.NoError(t, err)
	assert.False(t, res.AlreadyAgreed)
	assert.True(t, res.Agreements[f.owner])
	assert.True(t, res.Agreements[f.proposer])
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := models.ConversationID(f.owner, f.proposer, f.listing.ID)

	var delivered []realtime.Event
	defer f.broker.Subscribe(realtime.ConversationTopic(id), func(e realtime.Event) {
		if e.Type == realtime.EventNewMessage {
			delivered = append(delivered, e)
		}
	})()

	_, err := f.svc.SendMessage(ctx, id, f.proposer, "   ")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = f.svc.SendMessage(ctx, "not-an-id", f.proposer, "hi")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = f.svc.SendMessage(ctx, id, uuid.New(), "hi")
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	// чата еще нет, он создается по идентификатору
	msg, err := f.svc.SendMessage(ctx, id, f.proposer, "Hello, I can bake for you")
	require.NoError(t, err)
	assert.Equal(t, "Kedai Roti", msg.SenderDisplay)
	assert.False(t, msg.CreatedAt.IsZero())

	conv, err := f.store.Conversations().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.listing.ID, conv.ListingID)
	assert.True(t, conv.HasParticipant(f.owner))
	assert.True(t, conv.HasParticipant(f.proposer))

	_, err = f.svc.SendMessage(ctx, id, f.owner, "Deal")
	require.NoError(t, err)

	msgs, err := f.svc.Messages(ctx, id, f.owner)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello, I can bake for you", msgs[0].Text)
	assert.Equal(t, "Deal", msgs[1].Text)
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

	_, err = f.svc.Messages(ctx, id, uuid.New())
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	assert.Len(t, delivered, 2)
}

func TestSendMessage_UnknownListing(t *testing.T) {
	f := newFixture(t)
	id := models.ConversationID(f.owner, f.proposer, uuid.New())

	_, err := f.svc.SendMessage(context.Background(), id, f.owner, "hi")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

type onlineSet map[uuid.UUID]bool

func (o onlineSet) Online(userID uuid.UUID) bool { return o[userID] }

func TestContacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := models.ConversationID(f.owner, f.proposer, f.listing.ID)

	_, err := f.svc.SendMessage(ctx, id, f.proposer, "first")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, id, f.owner, "last")
	require.NoError(t, err)
	_, err = f.svc.RecordAgreement(ctx, id, f.owner)
	require.NoError(t, err)

	contacts, err := f.svc.Contacts(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Kedai Roti", contacts[0].Counterpart.DisplayName)
	assert.Equal(t, "Logo Design", contacts[0].ListingTitle)
	require.NotNil(t, contacts[0].LastMessage)
	assert.Equal(t, "last", contacts[0].LastMessage.Text)
	assert.True(t, contacts[0].AgreedByMe)
	assert.False(t, contacts[0].Online)

	f.svc.SetPresence(onlineSet{f.proposer: true})
	contacts, err = f.svc.Contacts(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.True(t, contacts[0].Online)
	contacts, err = f.svc.Contacts(ctx, f.proposer)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.False(t, contacts[0].Online)

	f.store.Fail = func(op string) error {
		if op == "messages.Last" {
			return errors.New("timeout")
		}
		return nil
	}
	_, err = f.svc.Contacts(ctx, f.owner)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
}

func TestCanAccessConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := models.ConversationID(f.owner, f.proposer, f.listing.ID)

	ok, err := f.svc.CanAccessConversation(ctx, id, f.proposer)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.EnsureConversation(ctx, f.owner, f.proposer, f.listing.ID)
	require.NoError(t, err)

	ok, err = f.svc.CanAccessConversation(ctx, id, f.owner)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CanAccessConversation(ctx, id, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.CanAccessConversation(ctx, "garbage", f.owner)
	require.NoError(t, err)
	assert.False(t, ok)
}

type stubResolver struct {
	calls []string
	err   error
}

func (s *stubResolver) Resolve(_ context.Context, conversationID string) (*models.Resolution, error) {
	s.calls = append(s.calls, conversationID)
	return &models.Resolution{ConversationID: conversationID, State: models.TradeStateNegotiating}, s.err
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	resolver := &stubResolver{}
	f.svc.SetResolver(resolver)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Nop())})
	f.svc.SetupRoutes(app)

	ownerToken, err := f.jwt.GenerateToken(f.owner)
	require.NoError(t, err)
	proposerToken, err := f.jwt.GenerateToken(f.proposer)
	require.NoError(t, err)

	resp := doJSON(t, app, http.MethodPost, "/api/chats", proposerToken, fiber.Map{
		"user_id": f.owner.String(), "listing_id": f.listing.ID.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, models.ConversationID(f.owner, f.proposer, f.listing.ID), created.ConversationID)

	// чат с посторонним по чужому объявлению запрещен
	resp = doJSON(t, app, http.MethodPost, "/api/chats", proposerToken, fiber.Map{
		"user_id": uuid.NewString(), "listing_id": f.listing.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	base := "/api/chats/" + created.ConversationID
	resp = doJSON(t, app, http.MethodPost, base+"/messages", proposerToken, fiber.Map{"text": "Привет"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, base+"/messages", proposerToken, fiber.Map{"text": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, base+"/messages", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Len(t, history.Messages, 1)

	resp = doJSON(t, app, http.MethodPost, base+"/agree", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agreed struct {
		AlreadyAgreed bool              `json:"already_agreed"`
		Resolution    models.Resolution `json:"resolution"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agreed))
	assert.False(t, agreed.AlreadyAgreed)
	assert.Equal(t, models.TradeStateNegotiating, agreed.Resolution.State)
	assert.Equal(t, []string{created.ConversationID}, resolver.calls)

	strangerToken, err := f.jwt.GenerateToken(uuid.New())
	require.NoError(t, err)
	resp = doJSON(t, app, http.MethodPost, base+"/resolve", strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resolver.err = &apperr.PartialCascadeError{Failed: []apperr.StepError{{Step: "delete_listing", Err: errors.New("x")}}}
	resp = doJSON(t, app, http.MethodPost, base+"/resolve", ownerToken, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var failed map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&failed))
	assert.Equal(t, true, failed["retryable"])

	resp = doJSON(t, app, http.MethodGet, "/api/chats", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
