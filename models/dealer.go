package models

import (
	"fmt"
	"time"
)

// SubscriptionStatus tracks where a feed dealer sits in the billing
// lifecycle. Transitions are driven by billing events outside this engine;
// ingestion only reads the current value for quota decisions.
type SubscriptionStatus string

const (
	SubPending  SubscriptionStatus = "pending"
	SubTrial    SubscriptionStatus = "trial"
	SubActive   SubscriptionStatus = "active"
	SubPastDue  SubscriptionStatus = "past_due"
	SubCanceled SubscriptionStatus = "canceled"
)

// Dealer is one upstream business submitting listings through the shared
// feed. The activation token is immutable once issued and namespaces the
// dealer's external IDs inside external_listings.
type Dealer struct {
	ID                 int64
	AccountID          string
	ActivationToken    string
	SubscriptionStatus SubscriptionStatus
	MaxListings        *int
	Name               string
	Email              string
	Phone              string
	CreatedAt          time.Time
}

// Subscribed reports whether the dealer is on a paid, non-expired plan.
func (d *Dealer) Subscribed() bool {
	switch d.SubscriptionStatus {
	case SubTrial, SubActive, SubPastDue:
		return true
	}
	return false
}

// ExternalID builds the namespaced listing identifier for a stock number,
// e.g. DC-a1b2c3d4e5f6g7h8i9j0-STK123.
func (d *Dealer) ExternalID(stockNumber string) string {
	return fmt.Sprintf("DC-%s-%s", d.ActivationToken, stockNumber)
}

// ExternalIDPrefix is the LIKE prefix scoping this dealer's listings.
func (d *Dealer) ExternalIDPrefix() string {
	return fmt.Sprintf("DC-%s-", d.ActivationToken)
}
