package broker

import (
	"context"
	"time"
)

// Event routing keys.
const (
	EventLeadSold       = "lead.sold"
	EventWalletCredited = "wallet.credited"
)

// LeadSoldEvent is emitted after a sale commits.
type LeadSoldEvent struct {
	LeadID      LeadID     `json:"lead_id"`
	SellerID    SellerID   `json:"seller_id"`
	BuyerID     BuyerID    `json:"buyer_id"`
	PurchaseID  PurchaseID `json:"purchase_id"`
	Price       string     `json:"price"`
	BalanceLeft string     `json:"balance_left"`
	PurchasedAt time.Time  `json:"purchased_at"`
}

// WalletCreditedEvent is emitted after a credit commits.
type WalletCreditedEvent struct {
	BuyerID       BuyerID       `json:"buyer_id"`
	TransactionID TransactionID `json:"transaction_id"`
	Amount        string        `json:"amount"`
	Reason        string        `json:"reason"`
	Balance       string        `json:"balance"`
	CreatedAt     time.Time     `json:"created_at"`
}

// EventPublisher delivers committed facts downstream. Publishing happens
// after commit and its failures never undo the committed change.
type EventPublisher interface {
	PublishLeadSold(ctx context.Context, ev LeadSoldEvent) error
	PublishWalletCredited(ctx context.Context, ev WalletCreditedEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishLeadSold(context.Context, LeadSoldEvent) error             { return nil }
func (NopPublisher) PublishWalletCredited(context.Context, WalletCreditedEvent) error { return nil }
