package listing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngDataURI(size int) string {
	data := make([]byte, size)
	copy(data, pngHeader)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

type fixture struct {
	svc    *ListingService
	store  *memory.Store
	broker *realtime.Broker
	jwt    *utils.JWTService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{ImageMaxBytes: 1 << 20, RequestTimeout: time.Second}
	st := memory.New()
	broker := realtime.NewBroker()
	jwtService := utils.NewJWTService("secret", time.Hour)
	return &fixture{
		svc:    NewListingService(cfg, st, broker, jwtService, logging.Nop()),
		store:  st,
		broker: broker,
		jwt:    jwtService,
	}
}

func validInput() models.ListingInput {
	return models.ListingInput{
		Title:        "Logo Design",
		Description:  "Нужен логотип для пекарни",
		SkillNeeded:  "Design",
		SkillOffered: "Baking",
		Location:     "Kuala Lumpur",
	}
}

func TestValidateImage(t *testing.T) {
	const limit = 1 << 20

	tests := []struct {
		name    string
		image   string
		wantErr bool
	}{
		{"empty", "", false},
		{"png 900KB", pngDataURI(900 * 1024), false},
		{"png 2MB", pngDataURI(2 * 1024 * 1024), true},
		{"declared jpg sniffed png", "data:image/jpg;base64," + base64.StdEncoding.EncodeToString(pngHeader), false},
		{"not data uri", "https://example.com/a.png", true},
		{"not base64", "data:image/png," + string(pngHeader), true},
		{"svg declared", "data:image/svg+xml;base64,PHN2Zz48L3N2Zz4=", true},
		{"text disguised as png", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello world")), true},
		{"broken base64", "data:image/png;base64,@@@", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateImage(tc.image, limit)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateImage_SizeMessageFollowsLimit(t *testing.T) {
	err := ValidateImage(pngDataURI(2*1024*1024), 1<<20)
	assert.Equal(t, "Размер изображения не должен превышать 1 МБ", apperr.MessageOf(err))

	err = ValidateImage(pngDataURI(600*1024), 512*1024)
	assert.Equal(t, "Размер изображения не должен превышать 512 КБ", apperr.MessageOf(err))

	assert.Equal(t, "1500 байт", formatSize(1500))
}

func TestCreate_ImageSizeLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	in := validInput()
	in.Image = pngDataURI(2 * 1024 * 1024)
	_, err := f.svc.Create(ctx, owner, in)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))

	in.Image = pngDataURI(900 * 1024)
	l, err := f.svc.Create(ctx, owner, in)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusNew, l.Status)

	mine, err := f.svc.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestCreate_EmptyDescriptionPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []realtime.Event
	defer f.broker.Subscribe(realtime.TopicListings, func(e realtime.Event) { events = append(events, e) })()

	in := validInput()
	in.Description = "   "
	_, err := f.svc.Create(ctx, uuid.New(), in)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	page, err := f.svc.ListMarketplace(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Listings)
	assert.Empty(t, events)
}

func TestCreate_PublishesAndTrims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []realtime.Event
	defer f.broker.Subscribe(realtime.TopicListings, func(e realtime.Event) { events = append(events, e) })()

	in := validInput()
	in.Title = "  Logo Design  "
	l, err := f.svc.Create(ctx, uuid.New(), in)
	require.NoError(t, err)
	assert.Equal(t, "Logo Design", l.Title)

	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventListingCreated, events[0].Type)
	assert.Equal(t, l.ID.String(), events[0].ID)
}

func TestListMarketplace_NewestFirstWithOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner := &models.User{DisplayName: "Baker Co", Email: "baker@example.com"}
	require.NoError(t, f.store.Users().Create(ctx, owner))

	first, err := f.svc.Create(ctx, owner.ID, validInput())
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, uuid.New(), validInput())
	require.NoError(t, err)

	page, err := f.svc.ListMarketplace(ctx, 500, -3)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.Limit)
	assert.Equal(t, 0, page.Offset)
	require.Len(t, page.Listings, 2)
	assert.Equal(t, second.ID, page.Listings[0].ID)
	assert.Nil(t, page.Listings[0].Owner)
	assert.Equal(t, first.ID, page.Listings[1].ID)
	require.NotNil(t, page.Listings[1].Owner)
	assert.Equal(t, "Baker Co", page.Listings[1].Owner.DisplayName)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	l, err := f.svc.Create(ctx, owner, validInput())
	require.NoError(t, err)

	in := validInput()
	in.Title = "Logo + Branding"
	_, err = f.svc.Update(ctx, l.ID, uuid.New(), in)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	_, err = f.svc.Update(ctx, uuid.New(), owner, in)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	updated, err := f.svc.Update(ctx, l.ID, owner, in)
	require.NoError(t, err)
	assert.Equal(t, "Logo + Branding", updated.Title)
	assert.Equal(t, models.ListingStatusNew, updated.Status)
}

func TestTransitionToInProgress_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.svc.Create(ctx, uuid.New(), validInput())
	require.NoError(t, err)

	for range 2 {
		got, err := f.svc.TransitionToInProgress(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ListingStatusInProgress, got.Status)
	}

	_, err = f.svc.TransitionToInProgress(ctx, uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func seedTrade(t *testing.T, f *fixture, owner, proposer uuid.UUID) (*models.Listing, string) {
	t.Helper()
	ctx := context.Background()

	l, err := f.svc.Create(ctx, owner, validInput())
	require.NoError(t, err)
	require.NoError(t, f.store.Negotiations().Create(ctx, &models.Negotiation{
		ListingID: l.ID, ListingOwnerID: owner, ProposerID: proposer, Status: models.NegotiationStatusPending,
	}))
	conv := &models.Conversation{
		ID:           models.ConversationID(owner, proposer, l.ID),
		ListingID:    l.ID,
		Participants: [2]uuid.UUID{owner, proposer},
	}
	_, err = f.store.Conversations().Ensure(ctx, conv)
	require.NoError(t, err)
	return l, conv.ID
}

func TestDelete_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, proposer := uuid.New(), uuid.New()
	l, convID := seedTrade(t, f, owner, proposer)

	err := f.svc.Delete(ctx, l.ID, proposer)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	require.NoError(t, f.svc.Delete(ctx, l.ID, owner))

	_, err = f.store.Listings().Get(ctx, l.ID)
	assert.Error(t, err)
	_, err = f.store.Negotiations().FindActiveByListing(ctx, l.ID)
	assert.Error(t, err)
	_, err = f.store.Conversations().Get(ctx, convID)
	assert.Error(t, err)

	err = f.svc.Delete(ctx, l.ID, owner)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestDelete_PartialCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, proposer := uuid.New(), uuid.New()
	l, convID := seedTrade(t, f, owner, proposer)

	f.store.Fail = func(op string) error {
		if op == "negotiations.DeleteByListing" {
			return errors.New("connection reset")
		}
		return nil
	}

	err := f.svc.Delete(ctx, l.ID, owner)
	var pce *apperr.PartialCascadeError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, []string{StepDeleteNegotiations}, pce.FailedSteps())
	assert.Equal(t, []string{StepDeleteListing, StepDeleteConversations}, pce.Completed)

	// основное удаление не откатывается
	_, err = f.store.Listings().Get(ctx, l.ID)
	assert.Error(t, err)
	_, err = f.store.Conversations().Get(ctx, convID)
	assert.Error(t, err)
}

func newApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logging.Nop())})
	f.svc.SetupPublicRoutes(app)
	f.svc.SetupRoutes(app)
	return app
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	app := newApp(f)
	owner := uuid.New()
	token, err := f.jwt.GenerateToken(owner)
	require.NoError(t, err)

	body, err := json.Marshal(validInput())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/listings/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/listings/create", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Listing models.Listing `json:"listing"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, owner, created.Listing.OwnerID)

	// лента доступна без токена
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/listings?limit=5", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page models.ListingsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Len(t, page.Listings, 1)
	assert.Equal(t, 5, page.Limit)

	bad := validInput()
	bad.Description = ""
	body, err = json.Marshal(bad)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPut, "/api/listings/"+created.Listing.ID.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/listings/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodDelete, "/api/listings/"+created.Listing.ID.String(), strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
