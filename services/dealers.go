package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"

	"carmarket-ingest/models"
	"carmarket-ingest/storage"
	"carmarket-ingest/utils"
)

// ErrQuotaExceeded rejects a whole batch that would push a subscribed
// dealer past its configured plan cap. Free-tier overflow is handled by
// skipping rows instead, never by this error.
var ErrQuotaExceeded = errors.New("dealer listing quota exceeded")

const (
	tokenLength      = 20
	tokenAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxTokenAttempts = 5
	unboundedSlots   = math.MaxInt32
)

// DealerAccount is the feed-supplied identity of an upstream business.
type DealerAccount struct {
	AccountID string
	Name      string
	Email     string
	Phone     string
}

// DealerService resolves feed records to dealer rows, creating dealers on
// first sighting, and answers quota questions.
type DealerService struct {
	dealers   storage.DealerStore
	listings  storage.ListingStore
	notifier  Notifier
	freeLimit int
	logger    *utils.Logger
}

// NewDealerService creates a DealerService. freeLimit is the active-listing
// allowance for dealers still in pending status.
func NewDealerService(dealers storage.DealerStore, listings storage.ListingStore, notifier Notifier, freeLimit int, logger *utils.Logger) *DealerService {
	return &DealerService{
		dealers:   dealers,
		listings:  listings,
		notifier:  notifier,
		freeLimit: freeLimit,
		logger:    logger,
	}
}

// Resolve looks up the dealer for an account, creating one on first
// sighting with a fresh activation token and pending status. created
// reports whether this call created the dealer.
func (s *DealerService) Resolve(ctx context.Context, account DealerAccount) (dealer *models.Dealer, created bool, err error) {
	d, err := s.dealers.GetByAccountID(ctx, account.AccountID)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup dealer %q: %w", account.AccountID, err)
	}

	// First sighting: create with a fresh token. The token column carries a
	// uniqueness constraint, so a collision just means generate again.
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, false, fmt.Errorf("generate activation token: %w", err)
		}

		d = &models.Dealer{
			AccountID:          account.AccountID,
			ActivationToken:    token,
			SubscriptionStatus: models.SubPending,
			Name:               account.Name,
			Email:              account.Email,
			Phone:              account.Phone,
		}
		err = s.dealers.Create(ctx, d)
		if errors.Is(err, storage.ErrTokenCollision) {
			s.logger.Warn("[dealers] activation token collision for %q (attempt %d) — regenerating", account.AccountID, attempt)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("create dealer %q: %w", account.AccountID, err)
		}

		s.logger.Info("[dealers] created dealer %q (token %s…)", account.AccountID, token[:4])
		s.notifier.DealerOnboarded(d)
		return d, true, nil
	}

	return nil, false, fmt.Errorf("create dealer %q: token collision persisted after %d attempts", account.AccountID, maxTokenAttempts)
}

// AvailableSlots returns how many more listings the dealer may activate
// right now. Pending dealers get the free allowance minus their live active
// count; subscribed dealers are unbounded unless a plan cap is configured.
func (s *DealerService) AvailableSlots(ctx context.Context, dealer *models.Dealer) (int, error) {
	active, err := s.listings.CountActive(ctx, storage.Scope{
		Source:           models.SourceDealerFeed,
		ExternalIDPrefix: dealer.ExternalIDPrefix(),
	})
	if err != nil {
		return 0, fmt.Errorf("count active listings for %q: %w", dealer.AccountID, err)
	}

	if !dealer.Subscribed() {
		slots := s.freeLimit - active
		if slots < 0 {
			slots = 0
		}
		return slots, nil
	}

	if dealer.MaxListings != nil {
		slots := *dealer.MaxListings - active
		if slots < 0 {
			slots = 0
		}
		return slots, nil
	}
	return unboundedSlots, nil
}

// AdmitBatch decides how many rows of a dealer batch may proceed, reading
// quota once against the live count at batch start.
//
// Free-tier dealers get their overflow trimmed: the first admit rows in
// source order are kept, the rest skipped deterministically. A subscribed
// dealer with an explicit plan cap instead rejects the whole batch with
// ErrQuotaExceeded, so the upstream caller sees a hard failure rather than
// a silent partial import.
func (s *DealerService) AdmitBatch(ctx context.Context, dealer *models.Dealer, batchSize int) (admit int, err error) {
	slots, err := s.AvailableSlots(ctx, dealer)
	if err != nil {
		return 0, err
	}

	if batchSize <= slots {
		return batchSize, nil
	}

	if dealer.Subscribed() && dealer.MaxListings != nil {
		return 0, fmt.Errorf("%w: dealer %q submitted %d rows with %d slots left (plan cap %d)",
			ErrQuotaExceeded, dealer.AccountID, batchSize, slots, *dealer.MaxListings)
	}

	s.logger.Warn("[dealers] %q over free limit — admitting %d of %d rows", dealer.AccountID, slots, batchSize)
	return slots, nil
}

// generateToken produces an opaque alphanumeric activation token. Random
// bytes are mapped onto the alphabet with rejection sampling so the
// distribution stays uniform.
func generateToken() (string, error) {
	out := make([]byte, 0, tokenLength)
	buf := make([]byte, tokenLength*2)

	for len(out) < tokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) < 256-(256%len(tokenAlphabet)) {
				out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
				if len(out) == tokenLength {
					break
				}
			}
		}
	}
	return string(out), nil
}
