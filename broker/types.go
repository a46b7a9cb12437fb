/*
Package broker provides the lead assignment engine.

PURPOSE:
  A seller offers leads (sales inquiries) to its buyers. Each buyer funds a
  prepaid wallet and describes the leads it wants through campaigns. This
  package matches a lead to a buyer and sells it atomically: the wallet is
  debited, a purchase is recorded, a ledger entry is appended and the lead
  flips to sold, all or nothing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lead, Buyer, Campaign: the persisted entities the engine reads
  - LeadPurchase: one immutable row per sale
  - WalletTransaction: an append-only ledger entry (signed amount)
  - Money: decimal amounts with at most two fractional digits

INVARIANTS:
  1. Buyer.WalletBalance >= 0 after every committed operation
  2. Buyer.WalletBalance == sum(WalletTransaction.Amount) for that buyer
  3. At most one LeadPurchase per lead; Lead.Status == sold iff it exists

SEE ALSO:
  - ledger.go: ledger entries and balance replay
  - matcher.go: campaign filtering and tie-break
  - assignment.go: the atomic sale
  - store.go: the data-access contract
*/
package broker

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyScale is the number of fractional digits money is stored with.
const MoneyScale = 2

// NewMoney returns a decimal rounded to cents.
func NewMoney(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value).Round(MoneyScale)
}

// ParseMoney parses a decimal string such as "49.99".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "not a decimal number"}
	}
	if !d.Equal(d.Round(MoneyScale)) {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "at most two decimal places"}
	}
	return d, nil
}

// ToCents converts money to integer minor units. Callers validate the scale first.
func ToCents(d decimal.Decimal) int64 {
	return d.Shift(MoneyScale).Round(0).IntPart()
}

// FromCents converts integer minor units back to money.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -MoneyScale)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LeadID string
type BuyerID string
type SellerID string
type CampaignID string
type PurchaseID string
type TransactionID string

// =============================================================================
// LEAD
// =============================================================================

type LeadStatus string

const (
	LeadUnassigned LeadStatus = "unassigned"
	LeadSold       LeadStatus = "sold" // terminal
)

type Lead struct {
	ID              LeadID
	SellerID        SellerID
	LeadType        string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	State           string
	Price           decimal.Decimal
	Status          LeadStatus
	AssignedBuyerID *BuyerID
	Source          string
	CreatedAt       time.Time
}

// IsSold reports whether the lead has been sold to anyone.
func (l *Lead) IsSold() bool { return l.Status == LeadSold }

// SoldTo reports whether the lead has been sold to the given buyer.
func (l *Lead) SoldTo(buyerID BuyerID) bool {
	return l.Status == LeadSold && l.AssignedBuyerID != nil && *l.AssignedBuyerID == buyerID
}

// =============================================================================
// BUYER
// =============================================================================

type BuyerStatus string

const (
	BuyerActive   BuyerStatus = "active"
	BuyerPaused   BuyerStatus = "paused"
	BuyerDisabled BuyerStatus = "disabled"
)

func (s BuyerStatus) Valid() bool {
	switch s {
	case BuyerActive, BuyerPaused, BuyerDisabled:
		return true
	}
	return false
}

type Buyer struct {
	ID            BuyerID
	SellerID      SellerID
	Name          string
	Email         string
	Phone         string
	Status        BuyerStatus
	WalletBalance decimal.Decimal
	CreatedAt     time.Time
}

// =============================================================================
// CAMPAIGN
// =============================================================================

type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignPaused CampaignStatus = "paused"
)

// Campaign is a buyer's standing filter. Read-only to the assignment engine.
type Campaign struct {
	ID        CampaignID
	BuyerID   BuyerID
	Name      string
	Status    CampaignStatus
	LeadTypes []string
	States    []string
	MaxPrice  *decimal.Decimal
	// DailyCap is carried but not enforced by matching.
	DailyCap *int
}

func (c *Campaign) acceptsLeadType(t string) bool { return containsString(c.LeadTypes, t) }
func (c *Campaign) acceptsState(s string) bool    { return containsString(c.States, s) }

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Candidate is a campaign joined with a point-in-time snapshot of its buyer.
type Candidate struct {
	Campaign Campaign
	Buyer    Buyer
}

// =============================================================================
// PURCHASE & LEDGER ROWS
// =============================================================================

// LeadPurchase is an immutable sale record. LeadID is unique.
type LeadPurchase struct {
	ID          PurchaseID
	LeadID      LeadID
	BuyerID     BuyerID
	Price       decimal.Decimal
	PurchasedAt time.Time
}

type WalletTransactionType string

const (
	WalletCredit WalletTransactionType = "credit"
	WalletDebit  WalletTransactionType = "debit"
)

// Ledger reasons written by the engine.
const (
	ReasonLeadPurchase = "lead_purchase"
	ReasonManualCredit = "manual_credit"
)

// WalletTransaction is a ledger entry. Append-only; Amount sign matches Type.
type WalletTransaction struct {
	ID        TransactionID
	BuyerID   BuyerID
	Amount    decimal.Decimal
	Type      WalletTransactionType
	Reason    string
	Meta      map[string]string
	CreatedAt time.Time
}

// Assignment is the mutually consistent result of a sale.
type Assignment struct {
	Lead     Lead
	Buyer    Buyer
	Purchase LeadPurchase
	// Replayed is true when the lead was already sold to this buyer and
	// nothing was written.
	Replayed bool
}
