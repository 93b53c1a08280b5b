package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"carmarket-ingest/models"
	"carmarket-ingest/storage"
)

// fakeListingStore is an in-memory ListingStore. failKeys injects write
// failures per external ID.
type fakeListingStore struct {
	mu       sync.Mutex
	rows     map[string]*models.Listing
	failKeys map[string]bool
	nextID   int64
}

func newFakeListingStore() *fakeListingStore {
	return &fakeListingStore{
		rows:     make(map[string]*models.Listing),
		failKeys: make(map[string]bool),
	}
}

func listingKey(source models.Source, externalID string) string {
	return string(source) + "|" + externalID
}

func (s *fakeListingStore) GetByKey(_ context.Context, source models.Source, externalID string) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[listingKey(source, externalID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *fakeListingStore) Insert(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[l.ExternalID] {
		return fmt.Errorf("injected insert failure for %s", l.ExternalID)
	}
	s.nextID++
	cp := *l
	cp.ID = s.nextID
	cp.Views = 0
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.rows[listingKey(l.Source, l.ExternalID)] = &cp
	return nil
}

func (s *fakeListingStore) Update(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failKeys[l.ExternalID] {
		return fmt.Errorf("injected update failure for %s", l.ExternalID)
	}
	cur, ok := s.rows[listingKey(l.Source, l.ExternalID)]
	if !ok {
		return storage.ErrNotFound
	}
	cp := *l
	// Fields ingestion never rewrites.
	cp.ID = cur.ID
	cp.Views = cur.Views
	cp.CreatedAt = cur.CreatedAt
	cp.IsActive = true
	cp.UpdatedAt = time.Now()
	s.rows[listingKey(l.Source, l.ExternalID)] = &cp
	return nil
}

func (s *fakeListingStore) DeactivateStale(_ context.Context, scope storage.Scope, runStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.rows {
		if !s.inScope(l, scope) {
			continue
		}
		if l.IsActive && l.LastSeenAt.Before(runStart) {
			l.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *fakeListingStore) CountActive(_ context.Context, scope storage.Scope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.rows {
		if s.inScope(l, scope) && l.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *fakeListingStore) inScope(l *models.Listing, scope storage.Scope) bool {
	if l.Source != scope.Source {
		return false
	}
	return scope.ExternalIDPrefix == "" || strings.HasPrefix(l.ExternalID, scope.ExternalIDPrefix)
}

// get returns the stored row without the copy GetByKey makes, for
// assertions on internal state.
func (s *fakeListingStore) get(source models.Source, externalID string) *models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[listingKey(source, externalID)]
}

func (s *fakeListingStore) seed(l *models.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	l.ID = s.nextID
	s.rows[listingKey(l.Source, l.ExternalID)] = l
}

// fakeDealerStore is an in-memory DealerStore. collideFirst makes the
// first N Create calls fail with ErrTokenCollision.
type fakeDealerStore struct {
	mu           sync.Mutex
	byAccount    map[string]*models.Dealer
	byToken      map[string]*models.Dealer
	collideFirst int
	creates      int
}

func newFakeDealerStore() *fakeDealerStore {
	return &fakeDealerStore{
		byAccount: make(map[string]*models.Dealer),
		byToken:   make(map[string]*models.Dealer),
	}
}

func (s *fakeDealerStore) GetByAccountID(_ context.Context, accountID string) (*models.Dealer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byAccount[accountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

func (s *fakeDealerStore) GetByToken(_ context.Context, token string) (*models.Dealer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byToken[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

func (s *fakeDealerStore) Create(_ context.Context, d *models.Dealer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.creates <= s.collideFirst {
		return storage.ErrTokenCollision
	}
	if _, exists := s.byToken[d.ActivationToken]; exists {
		return storage.ErrTokenCollision
	}
	d.ID = int64(len(s.byAccount) + 1)
	d.CreatedAt = time.Now()
	s.byAccount[d.AccountID] = d
	s.byToken[d.ActivationToken] = d
	return nil
}

// fakeLogStore records appended import logs.
type fakeLogStore struct {
	mu   sync.Mutex
	logs []*models.ImportLog
}

func (s *fakeLogStore) Append(_ context.Context, il *models.ImportLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, il)
	return nil
}

// nopNotifier counts notifications without sending anything.
type nopNotifier struct {
	mu        sync.Mutex
	runs      int
	onboarded int
}

func (n *nopNotifier) RunFinished(*models.ImportLog) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs++
}

func (n *nopNotifier) DealerOnboarded(*models.Dealer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onboarded++
}
