package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// In-memory store fakes. They guard every operation with a mutex so the
// guard-property test can hammer them from concurrent goroutines, and they
// honour the same transactional contracts as the postgres implementations.

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]domain.StakingAccount
}

func newFakeAccountStore(accounts ...domain.StakingAccount) *fakeAccountStore {
	s := &fakeAccountStore{accounts: make(map[string]domain.StakingAccount)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeAccountStore) GetByID(_ context.Context, id string) (domain.StakingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.StakingAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *fakeAccountStore) ListActive(_ context.Context, tenantID string) ([]domain.StakingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StakingAccount
	for _, a := range s.accounts {
		if a.TenantID == tenantID && a.Status == domain.AccountActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeAccountStore) Create(_ context.Context, a domain.StakingAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *fakeAccountStore) UpdateProgression(_ context.Context, id string, u domain.ProgressionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyProgressionLocked(id, u)
}

func (s *fakeAccountStore) applyProgressionLocked(id string, u domain.ProgressionUpdate) error {
	a, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.CumulativeLoss = u.CumulativeLoss
	a.ProgressionStep = u.ProgressionStep
	a.LastStake = u.LastStake
	a.Status = u.Status
	s.accounts[id] = a
	return nil
}

func (s *fakeAccountStore) SetStatus(_ context.Context, id string, status domain.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	if status == domain.AccountActive {
		a.CumulativeLoss = 0
		a.ProgressionStep = 0
	}
	s.accounts[id] = a
	return nil
}

type fakeFixtureStore struct {
	mu       sync.Mutex
	fixtures map[string]domain.ScheduledFixture
}

func newFakeFixtureStore(fixtures ...domain.ScheduledFixture) *fakeFixtureStore {
	s := &fakeFixtureStore{fixtures: make(map[string]domain.ScheduledFixture)}
	for _, f := range fixtures {
		s.fixtures[f.ID] = f
	}
	return s
}

func (s *fakeFixtureStore) Upsert(_ context.Context, f domain.ScheduledFixture) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.fixtures {
		if existing.AccountID == f.AccountID && existing.EventID == f.EventID {
			return false, nil
		}
	}
	s.fixtures[f.ID] = f
	return true, nil
}

func (s *fakeFixtureStore) NextUnconsumed(_ context.Context, accountID string) (domain.ScheduledFixture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.ScheduledFixture
	for _, f := range s.fixtures {
		f := f
		if f.AccountID != accountID || f.Consumed {
			continue
		}
		if best == nil || f.Kickoff.Before(best.Kickoff) {
			best = &f
		}
	}
	if best == nil {
		return domain.ScheduledFixture{}, domain.ErrNotFound
	}
	return *best, nil
}

type fakeWagerStore struct {
	mu       sync.Mutex
	wagers   map[string]domain.Wager
	fixtures *fakeFixtureStore
	accounts *fakeAccountStore
}

func newFakeWagerStore(fixtures *fakeFixtureStore, accounts *fakeAccountStore, wagers ...domain.Wager) *fakeWagerStore {
	s := &fakeWagerStore{
		wagers:   make(map[string]domain.Wager),
		fixtures: fixtures,
		accounts: accounts,
	}
	for _, w := range wagers {
		s.wagers[w.ID] = w
	}
	return s
}

func (s *fakeWagerStore) GetByID(_ context.Context, id string) (domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wagers[id]
	if !ok {
		return domain.Wager{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *fakeWagerStore) CountUnresolved(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.wagers {
		if w.AccountID == accountID && !w.State.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *fakeWagerStore) ListPending(_ context.Context, tenantID string) ([]domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wager
	for _, w := range s.wagers {
		if w.TenantID == tenantID && w.State == domain.WagerPending {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeWagerStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Wager
	for _, w := range s.wagers {
		if w.SettledAt != nil && w.SettledAt.Before(before) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *fakeWagerStore) ConsumeAndCreate(_ context.Context, fixtureID string, w domain.Wager) error {
	s.fixtures.mu.Lock()
	defer s.fixtures.mu.Unlock()
	f, ok := s.fixtures.fixtures[fixtureID]
	if !ok {
		return domain.ErrNotFound
	}
	if f.Consumed {
		return domain.ErrAlreadyExists
	}
	f.Consumed = true
	s.fixtures.fixtures[fixtureID] = f

	s.mu.Lock()
	defer s.mu.Unlock()
	s.wagers[w.ID] = w
	return nil
}

func (s *fakeWagerStore) UpdateSubmission(_ context.Context, id string, state domain.WagerState, orderID, failReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wagers[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.State = state
	if orderID != "" {
		w.OrderID = orderID
		now := time.Now().UTC()
		w.PlacedAt = &now
	}
	w.FailReason = failReason
	s.wagers[id] = w
	return nil
}

func (s *fakeWagerStore) ApplySettlement(_ context.Context, id string, state domain.WagerState, result float64, u domain.ProgressionUpdate) (domain.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wagers[id]
	if !ok {
		return domain.Wager{}, domain.ErrNotFound
	}
	if w.State.Terminal() {
		return w, nil
	}
	w.State = state
	w.Result = result
	now := time.Now().UTC()
	w.SettledAt = &now
	s.wagers[id] = w

	s.accounts.mu.Lock()
	defer s.accounts.mu.Unlock()
	if err := s.accounts.applyProgressionLocked(w.AccountID, u); err != nil {
		return domain.Wager{}, err
	}
	return w, nil
}

func (s *fakeWagerStore) all() []domain.Wager {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Wager, 0, len(s.wagers))
	for _, w := range s.wagers {
		out = append(out, w)
	}
	return out
}

type fakeExchange struct {
	mu           sync.Mutex
	quotes       map[string][]domain.Selection // marketID -> selections
	events       map[string][]domain.ExchangeEvent
	catalogues   map[string]domain.MarketCatalogue
	settled      []domain.SettledOrder
	ack          domain.OrderAck
	placeErr     error
	settledErr   error
	placedOrders []domain.OrderRequest
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		quotes:     make(map[string][]domain.Selection),
		events:     make(map[string][]domain.ExchangeEvent),
		catalogues: make(map[string]domain.MarketCatalogue),
		ack:        domain.OrderAck{OrderID: "order-1", Matched: true},
	}
}

func (e *fakeExchange) ListEvents(_ context.Context, _ string, textQuery string) ([]domain.ExchangeEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[textQuery], nil
}

func (e *fakeExchange) ListMarketCatalogue(_ context.Context, _ string, eventID string) (domain.MarketCatalogue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalogues[eventID], nil
}

func (e *fakeExchange) GetQuote(_ context.Context, _ string, marketID string) ([]domain.Selection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quotes[marketID], nil
}

func (e *fakeExchange) PlaceOrder(_ context.Context, _ string, o domain.OrderRequest) (domain.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.placeErr != nil {
		return domain.OrderAck{}, e.placeErr
	}
	e.placedOrders = append(e.placedOrders, o)
	return e.ack, nil
}

func (e *fakeExchange) ListSettledOrders(_ context.Context, _ string, _ time.Time) ([]domain.SettledOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settledErr != nil {
		return nil, e.settledErr
	}
	return e.settled, nil
}

func (e *fakeExchange) placedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.placedOrders)
}

type fakeMirror struct {
	mu         sync.Mutex
	accountUps int
	wagerUps   int
	err        error
}

func (m *fakeMirror) UpsertAccountRow(_ context.Context, _ string, _ domain.StakingAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.accountUps++
	return nil
}

func (m *fakeMirror) AppendOrUpdateWagerRow(_ context.Context, _ string, _ domain.Wager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.wagerUps++
	return nil
}

func (m *fakeMirror) ReadPendingRows(_ context.Context, _ string) ([]domain.MirrorWagerRow, error) {
	return nil, nil
}
