/*
store.go - Data-access contract between the engine and the datastore

PURPOSE:
  The engine never talks to a database directly. It depends on these
  interfaces, which the SQLite, GORM and in-memory stores implement.

KEY INTERFACES:
  Reader:  point-in-time reads (lead, buyer, purchase, candidates, ledger)
  Writer:  conditional writes and append-only inserts
  Store:   Reader + Writer, the view handed to a transaction closure
  TxStore: Reader + WithTx, the capability injected into the engine
  Catalog: management writes outside the assignment path

CONDITIONAL WRITES:
  The guards live in the write itself, not in a preceding read:
  - ClaimLead:   UPDATE lead SET sold  WHERE id = ? AND status = 'unassigned'
  - DebitWallet: UPDATE buyer SET balance = balance - ?
                 WHERE id = ? AND status = 'active' AND balance >= ?
  Zero rows affected is reported as (false, nil), never as an error, so the
  caller decides which business error applies.

APPEND-ONLY:
  InsertPurchase and AppendLedger have no update or delete counterpart.
  InsertPurchase rejects a second row for the same lead with ErrAlreadySold.

ERRORS:
  Missing rows      -> ErrLeadNotFound / ErrBuyerNotFound
  Write conflicts   -> ErrConflict
  Everything else   -> *StorageError
*/
package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reader is the read side of the datastore.
type Reader interface {
	GetLead(ctx context.Context, id LeadID) (*Lead, error)
	GetBuyer(ctx context.Context, id BuyerID) (*Buyer, error)

	// GetPurchaseByLead returns the sale record of a lead, or ErrNotFound.
	GetPurchaseByLead(ctx context.Context, leadID LeadID) (*LeadPurchase, error)

	// ListCandidates returns campaigns of the seller's buyers joined with a
	// snapshot of each buyer. Stores may pre-filter on status; the matcher
	// re-checks every rule.
	ListCandidates(ctx context.Context, sellerID SellerID) ([]Candidate, error)

	// ListLedger returns a buyer's ledger entries, oldest first.
	ListLedger(ctx context.Context, buyerID BuyerID) ([]WalletTransaction, error)
}

// Writer is the write side of the datastore. Only valid inside WithTx.
type Writer interface {
	// ClaimLead flips an unassigned lead to sold for buyerID.
	// Returns false when the lead is no longer unassigned.
	ClaimLead(ctx context.Context, leadID LeadID, buyerID BuyerID) (bool, error)

	// DebitWallet subtracts amount if the buyer is active and can afford it.
	// Returns false when the guard did not match.
	DebitWallet(ctx context.Context, buyerID BuyerID, amount decimal.Decimal) (bool, error)

	// CreditWallet adds amount. Returns false when the buyer does not exist.
	CreditWallet(ctx context.Context, buyerID BuyerID, amount decimal.Decimal) (bool, error)

	InsertPurchase(ctx context.Context, p LeadPurchase) error
	AppendLedger(ctx context.Context, tx WalletTransaction) error
}

// Store is the transactional view passed to WithTx closures.
type Store interface {
	Reader
	Writer
}

// TxStore is the single capability the engine depends on.
type TxStore interface {
	Reader

	// WithTx executes fn within one atomic, isolated transaction.
	// If fn returns an error or ctx is cancelled, nothing is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CATALOG - management surface (lead intake, buyers, campaigns)
// =============================================================================

// LeadFilter narrows ListLeads. Zero values match everything.
type LeadFilter struct {
	SellerID SellerID
	Status   LeadStatus
	Limit    int
}

// Catalog persists the entities the engine reads. It never touches
// lead status, assigned buyer or wallet balance.
type Catalog interface {
	CreateLead(ctx context.Context, lead Lead) error
	ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, error)

	// UpdateLead rewrites a lead's type, contact fields, state and price.
	// Status and assigned buyer are never written. A sold lead keeps its
	// price: changing it fails with ErrConflict.
	UpdateLead(ctx context.Context, lead Lead) error

	// CreateBuyer persists a buyer with a zero balance regardless of
	// the WalletBalance field; funding goes through CreditBuyer.
	CreateBuyer(ctx context.Context, buyer Buyer) error
	ListBuyers(ctx context.Context, sellerID SellerID) ([]Buyer, error)

	// UpdateBuyer rewrites name, email and phone only.
	UpdateBuyer(ctx context.Context, buyer Buyer) error
	SetBuyerStatus(ctx context.Context, id BuyerID, status BuyerStatus) error

	SaveCampaign(ctx context.Context, c Campaign) error
	ListCampaigns(ctx context.Context, buyerID BuyerID) ([]Campaign, error)
	ListPurchases(ctx context.Context, buyerID BuyerID) ([]LeadPurchase, error)
}

// Repository is everything a backend provides.
type Repository interface {
	TxStore
	Catalog
}
