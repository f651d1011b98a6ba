package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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
	"github.com/rajivgeraev/barterkita-api/internal/services/chat"
	"github.com/rajivgeraev/barterkita-api/internal/store/memory"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

type fixture struct {
	svc    *NegotiationService
	store  *memory.Store
	broker *realtime.Broker
	jwt    *utils.JWTService

	owner, proposer uuid.UUID
	listing         *models.Listing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{RequestTimeout: time.Second}
	st := memory.New()
	broker := realtime.NewBroker()
	jwtService := utils.NewJWTService("secret", time.Hour)

	owner := &models.User{DisplayName: "Sekolah Seni", Email: "owner@example.com"}
	proposer := &models.User{DisplayName: "Kedai Roti", Email: "proposer@example.com"}
	require.NoError(t, st.Users().Create(ctx, owner))
	require.NoError(t, st.Users().Create(ctx, proposer))

	l := &models.Listing{OwnerID: owner.ID, Title: "Logo Design", Description: "логотип", Status: models.ListingStatusNew}
	require.NoError(t, st.Listings().Create(ctx, l))

	chats := chat.NewChatService(cfg, st, broker, jwtService, logging.Nop())
	return &fixture{
		svc:      NewNegotiationService(cfg, st, broker, chats, jwtService, logging.Nop()),
		store:    st,
		broker:   broker,
		jwt:      jwtService,
		owner:    owner.ID,
		proposer: proposer.ID,
		listing:  l,
	}
}

func TestPropose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ownerEvents []realtime.Event
	defer f.broker.Subscribe(realtime.UserTopic(f.owner), func(e realtime.Event) { ownerEvents = append(ownerEvents, e) })()

	n, err := f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusPending, n.Status)
	assert.Equal(t, f.owner, n.ListingOwnerID)

	l, err := f.store.Listings().Get(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusInProgress, l.Status)

	conv, err := f.store.Conversations().Get(ctx, models.ConversationID(f.owner, f.proposer, f.listing.ID))
	require.NoError(t, err)
	assert.True(t, conv.HasParticipant(f.proposer))

	require.Len(t, ownerEvents, 1)
	assert.Equal(t, realtime.EventNegotiationCreated, ownerEvents[0].Type)

	// повтор тем же пользователем возвращает то же предложение
	again, err := f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.NoError(t, err)
	assert.Equal(t, n.ID, again.ID)
	assert.Len(t, ownerEvents, 1)
}

func TestPropose_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, f.listing.ID, f.owner)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = f.svc.Propose(ctx, uuid.New(), f.proposer)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	// самопредложение ничего не меняет
	l, err := f.store.Listings().Get(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusNew, l.Status)

	_, err = f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.NoError(t, err)

	_, err = f.svc.Propose(ctx, f.listing.ID, uuid.New())
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestPropose_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.Fail = func(op string) error {
		if op == "conversations.Ensure" {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))

	f.store.Fail = nil
	_, err = f.store.Negotiations().FindActiveByListing(ctx, f.listing.ID)
	assert.Error(t, err)
	l, err := f.store.Listings().Get(ctx, f.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusNew, l.Status)
}

func TestAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, n.ID, f.listing.ID, f.proposer)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	_, err = f.svc.Accept(ctx, uuid.New(), f.listing.ID, f.owner)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	other := &models.Listing{OwnerID: f.owner, Title: "Other", Description: "x", Status: models.ListingStatusNew}
	require.NoError(t, f.store.Listings().Create(ctx, other))
	_, err = f.svc.Accept(ctx, n.ID, other.ID, f.owner)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	for range 2 {
		accepted, err := f.svc.Accept(ctx, n.ID, f.listing.ID, f.owner)
		require.NoError(t, err)
		assert.Equal(t, models.NegotiationStatusAccepted, accepted.Status)
	}

	got, err := f.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusAccepted, got.Status)
}

func TestOffers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.NoError(t, err)

	incoming, err := f.svc.IncomingOffers(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, n.ID, incoming[0].Negotiation.ID)
	assert.Equal(t, "Kedai Roti", incoming[0].Counterpart.DisplayName)
	assert.Equal(t, "Logo Design", incoming[0].Listing.Title)
	assert.Equal(t, models.ConversationID(f.owner, f.proposer, f.listing.ID), incoming[0].ConversationID)

	taken, err := f.svc.OffersTaken(ctx, f.proposer)
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.Equal(t, "Sekolah Seni", taken[0].Counterpart.DisplayName)

	// принятое предложение пропадает из входящих, но остается у автора
	_, err = f.svc.Accept(ctx, n.ID, f.listing.ID, f.owner)
	require.NoError(t, err)
	incoming, err = f.svc.IncomingOffers(ctx, f.owner)
	require.NoError(t, err)
	assert.Empty(t, incoming)
	taken, err = f.svc.OffersTaken(ctx, f.proposer)
	require.NoError(t, err)
	assert.Len(t, taken, 1)

	// предложения по удаленным объявлениям пропускаются
	require.NoError(t, f.store.Listings().Delete(ctx, f.listing.ID))
	taken, err = f.svc.OffersTaken(ctx, f.proposer)
	require.NoError(t, err)
	assert.Empty(t, taken)
}

func TestOffers_LazyConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Propose(ctx, f.listing.ID, f.proposer)
	require.NoError(t, err)
	convID := models.ConversationID(f.owner, f.proposer, f.listing.ID)
	require.NoError(t, f.store.Conversations().Delete(ctx, convID))

	incoming, err := f.svc.IncomingOffers(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, n.ID, incoming[0].Negotiation.ID)

	_, err = f.store.Conversations().Get(ctx, convID)
	assert.NoError(t, err)
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Nop())})
	f.svc.SetupRoutes(app)

	ownerToken, err := f.jwt.GenerateToken(f.owner)
	require.NoError(t, err)
	proposerToken, err := f.jwt.GenerateToken(f.proposer)
	require.NoError(t, err)

	send := func(method, path, token string, body any) *http.Response {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := send(http.MethodPost, "/api/negotiations", ownerToken, fiber.Map{"listing_id": f.listing.ID.String()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = send(http.MethodPost, "/api/negotiations", proposerToken, fiber.Map{"listing_id": f.listing.ID.String()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Negotiation    models.Negotiation `json:"negotiation"`
		ConversationID string             `json:"conversation_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, models.ConversationID(f.owner, f.proposer, f.listing.ID), created.ConversationID)

	resp = send(http.MethodGet, "/api/negotiations/incoming", ownerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var incoming struct {
		Offers []models.OfferView `json:"offers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&incoming))
	assert.Len(t, incoming.Offers, 1)

	accept := "/api/negotiations/" + created.Negotiation.ID.String() + "/accept"
	resp = send(http.MethodPut, accept, proposerToken, fiber.Map{"listing_id": f.listing.ID.String()})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = send(http.MethodPut, accept, ownerToken, fiber.Map{"listing_id": f.listing.ID.String()})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	strangerToken, err := f.jwt.GenerateToken(uuid.New())
	require.NoError(t, err)
	resp = send(http.MethodGet, "/api/negotiations/"+created.Negotiation.ID.String(), strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = send(http.MethodGet, "/api/negotiations/taken", proposerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
