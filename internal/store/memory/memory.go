// Package memory хранилище в памяти процесса. Используется в тестах и
// при STORAGE=memory для локального запуска без Postgres.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/store"
)

type state struct {
	listings      map[uuid.UUID]models.Listing
	negotiations  map[uuid.UUID]models.Negotiation
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	users         map[uuid.UUID]models.User
	trades        map[string]models.CompletedTrade
}

func newState() state {
	return state{
		listings:      make(map[uuid.UUID]models.Listing),
		negotiations:  make(map[uuid.UUID]models.Negotiation),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		users:         make(map[uuid.UUID]models.User),
		trades:        make(map[string]models.CompletedTrade),
	}
}

func (s state) clone() state {
	c := state{
		listings:      maps.Clone(s.listings),
		negotiations:  maps.Clone(s.negotiations),
		conversations: make(map[string]models.Conversation, len(s.conversations)),
		messages:      make(map[string][]models.Message, len(s.messages)),
		users:         maps.Clone(s.users),
		trades:        maps.Clone(s.trades),
	}
	for id, conv := range s.conversations {
		conv.Agreements = maps.Clone(conv.Agreements)
		c.conversations[id] = conv
	}
	for id, msgs := range s.messages {
		c.messages[id] = slices.Clone(msgs)
	}
	return c
}

// Store хранилище в памяти
type Store struct {
	*core
	// inTx отмечает представление хранилища внутри WithinTx
	inTx bool
}

type core struct {
	mu sync.RWMutex
	// txMu удерживается транзакцией целиком и каждой записью вне транзакции
	txMu sync.Mutex
	data state

	seq      int64
	lastTime time.Time
	now      func() time.Time

	// Fail позволяет тестам подменить ошибку операции по имени, например "listings.Delete"
	Fail func(op string) error
}

var _ store.Store = (*Store)(nil)

// New создает пустое хранилище
func New() *Store {
	return &Store{core: &core{data: newState(), now: time.Now}}
}

func (s *Store) Listings() store.ListingRepository           { return listingRepo{s} }
func (s *Store) Negotiations() store.NegotiationRepository   { return negotiationRepo{s} }
func (s *Store) Conversations() store.ConversationRepository { return conversationRepo{s} }
func (s *Store) Messages() store.MessageRepository           { return messageRepo{s} }
func (s *Store) Users() store.UserRepository                 { return userRepo{s} }
func (s *Store) Trades() store.TradeRepository               { return tradeRepo{s} }

// WithinTx выполняет fn, пока записи вне транзакции ждут ее завершения.
// При ошибке состояние возвращается к снимку, сделанному в начале.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, &Store{core: s.core, inTx: true})
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

// lock захватывает хранилище на запись и возвращает функцию освобождения.
// Вне транзакции запись ждет окончания текущей транзакции, иначе откат снимка ее бы потерял.
func (s *Store) lock() func() {
	if !s.inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !s.inTx {
			s.txMu.Unlock()
		}
	}
}

func (s *Store) fail(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Fail != nil {
		return s.Fail(op)
	}
	return nil
}

// stamp возвращает строго возрастающее серверное время. Вызывать под s.mu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

type listingRepo struct{ s *Store }

func (r listingRepo) Create(ctx context.Context, l *models.Listing) error {
	if err := r.s.fail(ctx, "listings.Create"); err != nil {
		return err
	}
	defer r.s.lock()()

	l.ID = uuid.New()
	l.CreatedAt = r.s.stamp()
	l.UpdatedAt = l.CreatedAt
	r.s.data.listings[l.ID] = *l
	return nil
}

func (r listingRepo) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	if err := r.s.fail(ctx, "listings.Get"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	l, ok := r.s.data.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (r listingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	return r.Get(ctx, id)
}

func (r listingRepo) List(ctx context.Context, limit, offset int) ([]models.Listing, error) {
	if err := r.s.fail(ctx, "listings.List"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	all := slices.Collect(maps.Values(r.s.data.listings))
	r.s.mu.RUnlock()

	sortListingsDesc(all)
	if offset >= len(all) {
		return []models.Listing{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r listingRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Listing, error) {
	if err := r.s.fail(ctx, "listings.ListByOwner"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []models.Listing{}
	for _, l := range r.s.data.listings {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	sortListingsDesc(out)
	return out, nil
}

func (r listingRepo) Update(ctx context.Context, l *models.Listing) error {
	if err := r.s.fail(ctx, "listings.Update"); err != nil {
		return err
	}
	defer r.s.lock()()

	cur, ok := r.s.data.listings[l.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Title = l.Title
	cur.Description = l.Description
	cur.SkillNeeded = l.SkillNeeded
	cur.SkillOffered = l.SkillOffered
	cur.Location = l.Location
	cur.Image = l.Image
	cur.UpdatedAt = r.s.stamp()
	r.s.data.listings[l.ID] = cur
	*l = cur
	return nil
}

func (r listingRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.ListingStatus) error {
	if err := r.s.fail(ctx, "listings.SetStatus"); err != nil {
		return err
	}
	defer r.s.lock()()

	cur, ok := r.s.data.listings[id]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != status {
		cur.Status = status
		cur.UpdatedAt = r.s.stamp()
		r.s.data.listings[id] = cur
	}
	return nil
}

func (r listingRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.s.fail(ctx, "listings.Delete"); err != nil {
		return err
	}
	defer r.s.lock()()

	delete(r.s.data.listings, id)
	return nil
}

func sortListingsDesc(ls []models.Listing) {
	slices.SortFunc(ls, func(a, b models.Listing) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
}

type negotiationRepo struct{ s *Store }

func (r negotiationRepo) Create(ctx context.Context, n *models.Negotiation) error {
	if err := r.s.fail(ctx, "negotiations.Create"); err != nil {
		return err
	}
	defer r.s.lock()()

	for _, existing := range r.s.data.negotiations {
		if existing.ListingID == n.ListingID && slices.Contains(models.ActiveNegotiationStatuses, existing.Status) {
			return store.ErrConflict
		}
	}
	n.ID = uuid.New()
	n.CreatedAt = r.s.stamp()
	r.s.data.negotiations[n.ID] = *n
	return nil
}

func (r negotiationRepo) Get(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	if err := r.s.fail(ctx, "negotiations.Get"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n, ok := r.s.data.negotiations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &n, nil
}

func (r negotiationRepo) FindActiveByListing(ctx context.Context, listingID uuid.UUID) (*models.Negotiation, error) {
	if err := r.s.fail(ctx, "negotiations.FindActiveByListing"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, n := range r.s.data.negotiations {
		if n.ListingID == listingID && slices.Contains(models.ActiveNegotiationStatuses, n.Status) {
			return &n, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r negotiationRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, statuses ...models.NegotiationStatus) ([]models.Negotiation, error) {
	if err := r.s.fail(ctx, "negotiations.ListByOwner"); err != nil {
		return nil, err
	}
	return r.filter(func(n models.Negotiation) bool {
		return n.ListingOwnerID == ownerID && matchStatus(n.Status, statuses)
	}), nil
}

func (r negotiationRepo) ListByProposer(ctx context.Context, proposerID uuid.UUID, statuses ...models.NegotiationStatus) ([]models.Negotiation, error) {
	if err := r.s.fail(ctx, "negotiations.ListByProposer"); err != nil {
		return nil, err
	}
	return r.filter(func(n models.Negotiation) bool {
		return n.ProposerID == proposerID && matchStatus(n.Status, statuses)
	}), nil
}

func (r negotiationRepo) filter(keep func(models.Negotiation) bool) []models.Negotiation {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []models.Negotiation{}
	for _, n := range r.s.data.negotiations {
		if keep(n) {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b models.Negotiation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func (r negotiationRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.NegotiationStatus) error {
	if err := r.s.fail(ctx, "negotiations.SetStatus"); err != nil {
		return err
	}
	defer r.s.lock()()

	n, ok := r.s.data.negotiations[id]
	if !ok {
		return store.ErrNotFound
	}
	n.Status = status
	r.s.data.negotiations[id] = n
	return nil
}

func (r negotiationRepo) DeleteByListing(ctx context.Context, listingID uuid.UUID, statuses ...models.NegotiationStatus) (int64, error) {
	if err := r.s.fail(ctx, "negotiations.DeleteByListing"); err != nil {
		return 0, err
	}
	defer r.s.lock()()

	var n int64
	for id, neg := range r.s.data.negotiations {
		if neg.ListingID == listingID && matchStatus(neg.Status, statuses) {
			delete(r.s.data.negotiations, id)
			n++
		}
	}
	return n, nil
}

func matchStatus(s models.NegotiationStatus, statuses []models.NegotiationStatus) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}

type conversationRepo struct{ s *Store }

func (r conversationRepo) Ensure(ctx context.Context, c *models.Conversation) (bool, error) {
	if err := r.s.fail(ctx, "conversations.Ensure"); err != nil {
		return false, err
	}
	defer r.s.lock()()

	if existing, ok := r.s.data.conversations[c.ID]; ok {
		*c = copyConversation(existing)
		return false, nil
	}
	// новый чат создается только для существующего объявления
	if _, ok := r.s.data.listings[c.ListingID]; !ok {
		return false, store.ErrNotFound
	}
	c.CreatedAt = r.s.stamp()
	if c.Agreements == nil {
		c.Agreements = map[uuid.UUID]bool{}
	}
	r.s.data.conversations[c.ID] = copyConversation(*c)
	return true, nil
}

func (r conversationRepo) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if err := r.s.fail(ctx, "conversations.Get"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.data.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c = copyConversation(c)
	return &c, nil
}

func (r conversationRepo) RecordAgreement(ctx context.Context, id string, userID uuid.UUID) (map[uuid.UUID]bool, bool, error) {
	if err := r.s.fail(ctx, "conversations.RecordAgreement"); err != nil {
		return nil, false, err
	}
	defer r.s.lock()()

	c, ok := r.s.data.conversations[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	already := c.Agreements[userID]
	if !already {
		c = copyConversation(c)
		c.Agreements[userID] = true
		r.s.data.conversations[id] = c
	}
	return maps.Clone(c.Agreements), already, nil
}

func (r conversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	if err := r.s.fail(ctx, "conversations.ListByUser"); err != nil {
		return nil, err
	}
	return r.filter(func(c models.Conversation) bool { return c.HasParticipant(userID) }), nil
}

func (r conversationRepo) ListByListing(ctx context.Context, listingID uuid.UUID) ([]models.Conversation, error) {
	if err := r.s.fail(ctx, "conversations.ListByListing"); err != nil {
		return nil, err
	}
	return r.filter(func(c models.Conversation) bool { return c.ListingID == listingID }), nil
}

func (r conversationRepo) filter(keep func(models.Conversation) bool) []models.Conversation {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []models.Conversation{}
	for _, c := range r.s.data.conversations {
		if keep(c) {
			out = append(out, copyConversation(c))
		}
	}
	slices.SortFunc(out, func(a, b models.Conversation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func (r conversationRepo) Delete(ctx context.Context, id string) error {
	if err := r.s.fail(ctx, "conversations.Delete"); err != nil {
		return err
	}
	defer r.s.lock()()

	delete(r.s.data.conversations, id)
	delete(r.s.data.messages, id)
	return nil
}

func copyConversation(c models.Conversation) models.Conversation {
	c.Agreements = maps.Clone(c.Agreements)
	if c.Agreements == nil {
		c.Agreements = map[uuid.UUID]bool{}
	}
	return c
}

type messageRepo struct{ s *Store }

func (r messageRepo) Append(ctx context.Context, m *models.Message) error {
	if err := r.s.fail(ctx, "messages.Append"); err != nil {
		return err
	}
	defer r.s.lock()()

	if _, ok := r.s.data.conversations[m.ConversationID]; !ok {
		return store.ErrNotFound
	}
	r.s.seq++
	m.ID = uuid.New()
	m.Seq = r.s.seq
	m.CreatedAt = r.s.stamp()
	r.s.data.messages[m.ConversationID] = append(r.s.data.messages[m.ConversationID], *m)
	return nil
}

func (r messageRepo) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := r.s.fail(ctx, "messages.List"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := slices.Clone(r.s.data.messages[conversationID])
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

func (r messageRepo) Last(ctx context.Context, conversationID string) (*models.Message, error) {
	if err := r.s.fail(ctx, "messages.Last"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msgs := r.s.data.messages[conversationID]
	if len(msgs) == 0 {
		return nil, store.ErrNotFound
	}
	m := msgs[len(msgs)-1]
	return &m, nil
}

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, u *models.User) error {
	if err := r.s.fail(ctx, "users.Create"); err != nil {
		return err
	}
	defer r.s.lock()()

	for _, existing := range r.s.data.users {
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return store.ErrConflict
		}
		if u.TelegramID != nil && existing.TelegramID != nil && *existing.TelegramID == *u.TelegramID {
			return store.ErrConflict
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = r.s.stamp()
	u.UpdatedAt = u.CreatedAt
	r.s.data.users[u.ID] = *u
	return nil
}

func (r userRepo) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := r.s.fail(ctx, "users.Get"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.data.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := r.s.fail(ctx, "users.GetByEmail"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r userRepo) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	if err := r.s.fail(ctx, "users.GetByTelegramID"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.data.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r userRepo) UpdateProfile(ctx context.Context, u *models.User) error {
	if err := r.s.fail(ctx, "users.UpdateProfile"); err != nil {
		return err
	}
	defer r.s.lock()()

	cur, ok := r.s.data.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.DisplayName = u.DisplayName
	cur.Skill = u.Skill
	cur.Address = u.Address
	cur.Avatar = u.Avatar
	cur.UpdatedAt = r.s.stamp()
	r.s.data.users[u.ID] = cur
	*u = cur
	return nil
}

type tradeRepo struct{ s *Store }

func (r tradeRepo) Archive(ctx context.Context, t *models.CompletedTrade) error {
	if err := r.s.fail(ctx, "trades.Archive"); err != nil {
		return err
	}
	defer r.s.lock()()

	if existing, ok := r.s.data.trades[t.ConversationID]; ok {
		*t = existing
		return nil
	}
	t.ID = uuid.New()
	t.CompletedAt = r.s.stamp()
	r.s.data.trades[t.ConversationID] = *t
	return nil
}

func (r tradeRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.CompletedTrade, error) {
	if err := r.s.fail(ctx, "trades.ListByUser"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []models.CompletedTrade{}
	for _, t := range r.s.data.trades {
		if t.OwnerID == userID || t.ProposerID == userID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b models.CompletedTrade) int {
		return b.CompletedAt.Compare(a.CompletedAt)
	})
	return out, nil
}
