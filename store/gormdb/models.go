package gormdb

import (
	"time"

	"github.com/warp/lead-exchange/broker"
)

// Row models. Money columns hold integer cents on every dialect.

type buyerModel struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	SellerID    string    `gorm:"column:seller_id;size:64;not null;index"`
	Name        string    `gorm:"column:name;not null"`
	Email       string    `gorm:"column:email;not null"`
	Phone       string    `gorm:"column:phone;not null;default:''"`
	Status      string    `gorm:"column:status;size:16;not null;check:status IN ('active','paused','disabled')"`
	WalletCents int64     `gorm:"column:wallet_cents;not null;default:0;check:wallet_cents >= 0"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (buyerModel) TableName() string { return "buyers" }

type leadModel struct {
	ID              string    `gorm:"column:id;primaryKey;size:64"`
	SellerID        string    `gorm:"column:seller_id;size:64;not null;index:idx_leads_seller_status,priority:1"`
	LeadType        string    `gorm:"column:lead_type;not null"`
	FirstName       string    `gorm:"column:first_name;not null"`
	LastName        string    `gorm:"column:last_name;not null"`
	Email           string    `gorm:"column:email;not null"`
	Phone           string    `gorm:"column:phone;not null"`
	State           string    `gorm:"column:state;size:8;not null"`
	PriceCents      int64     `gorm:"column:price_cents;not null;check:price_cents > 0"`
	Status          string    `gorm:"column:status;size:16;not null;index:idx_leads_seller_status,priority:2"`
	AssignedBuyerID *string   `gorm:"column:assigned_buyer_id;size:64"`
	Source          string    `gorm:"column:source;not null;default:''"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
}

func (leadModel) TableName() string { return "leads" }

type campaignModel struct {
	ID            string   `gorm:"column:id;primaryKey;size:64"`
	BuyerID       string   `gorm:"column:buyer_id;size:64;not null;index"`
	Name          string   `gorm:"column:name;not null;default:''"`
	Status        string   `gorm:"column:status;size:16;not null"`
	LeadTypes     []string `gorm:"column:lead_types;type:text;serializer:json"`
	States        []string `gorm:"column:states;type:text;serializer:json"`
	MaxPriceCents *int64   `gorm:"column:max_price_cents"`
	DailyCap      *int     `gorm:"column:daily_cap"`
}

func (campaignModel) TableName() string { return "campaigns" }

type purchaseModel struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	LeadID      string    `gorm:"column:lead_id;size:64;not null;uniqueIndex"`
	BuyerID     string    `gorm:"column:buyer_id;size:64;not null;index"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	PurchasedAt time.Time `gorm:"column:purchased_at;not null"`
}

func (purchaseModel) TableName() string { return "lead_purchases" }

// walletTxModel is append-only. Seq gives replay order.
type walletTxModel struct {
	Seq         int64             `gorm:"column:seq;primaryKey;autoIncrement"`
	ID          string            `gorm:"column:id;size:64;not null;uniqueIndex"`
	BuyerID     string            `gorm:"column:buyer_id;size:64;not null;index"`
	AmountCents int64             `gorm:"column:amount_cents;not null"`
	Type        string            `gorm:"column:tx_type;size:16;not null"`
	Reason      string            `gorm:"column:reason;not null"`
	Meta        map[string]string `gorm:"column:meta;type:text;serializer:json"`
	CreatedAt   time.Time         `gorm:"column:created_at;not null"`
}

func (walletTxModel) TableName() string { return "wallet_transactions" }

func allModels() []any {
	return []any{&buyerModel{}, &leadModel{}, &campaignModel{}, &purchaseModel{}, &walletTxModel{}}
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDomainBuyer(m buyerModel) *broker.Buyer {
	return &broker.Buyer{
		ID:            broker.BuyerID(m.ID),
		SellerID:      broker.SellerID(m.SellerID),
		Name:          m.Name,
		Email:         m.Email,
		Phone:         m.Phone,
		Status:        broker.BuyerStatus(m.Status),
		WalletBalance: broker.FromCents(m.WalletCents),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func toBuyerModel(b broker.Buyer) buyerModel {
	return buyerModel{
		ID:        string(b.ID),
		SellerID:  string(b.SellerID),
		Name:      b.Name,
		Email:     b.Email,
		Phone:     b.Phone,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt,
	}
}

func toDomainLead(m leadModel) *broker.Lead {
	l := &broker.Lead{
		ID:        broker.LeadID(m.ID),
		SellerID:  broker.SellerID(m.SellerID),
		LeadType:  m.LeadType,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Phone:     m.Phone,
		State:     m.State,
		Price:     broker.FromCents(m.PriceCents),
		Status:    broker.LeadStatus(m.Status),
		Source:    m.Source,
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.AssignedBuyerID != nil {
		id := broker.BuyerID(*m.AssignedBuyerID)
		l.AssignedBuyerID = &id
	}
	return l
}

func toLeadModel(l broker.Lead) leadModel {
	return leadModel{
		ID:         string(l.ID),
		SellerID:   string(l.SellerID),
		LeadType:   l.LeadType,
		FirstName:  l.FirstName,
		LastName:   l.LastName,
		Email:      l.Email,
		Phone:      l.Phone,
		State:      l.State,
		PriceCents: broker.ToCents(l.Price),
		Status:     string(broker.LeadUnassigned),
		Source:     l.Source,
		CreatedAt:  l.CreatedAt,
	}
}

func toDomainCampaign(m campaignModel) broker.Campaign {
	c := broker.Campaign{
		ID:        broker.CampaignID(m.ID),
		BuyerID:   broker.BuyerID(m.BuyerID),
		Name:      m.Name,
		Status:    broker.CampaignStatus(m.Status),
		LeadTypes: m.LeadTypes,
		States:    m.States,
		DailyCap:  m.DailyCap,
	}
	if m.MaxPriceCents != nil {
		p := broker.FromCents(*m.MaxPriceCents)
		c.MaxPrice = &p
	}
	return c
}

func toCampaignModel(c broker.Campaign) campaignModel {
	m := campaignModel{
		ID:        string(c.ID),
		BuyerID:   string(c.BuyerID),
		Name:      c.Name,
		Status:    string(c.Status),
		LeadTypes: c.LeadTypes,
		States:    c.States,
		DailyCap:  c.DailyCap,
	}
	if c.MaxPrice != nil {
		cents := broker.ToCents(*c.MaxPrice)
		m.MaxPriceCents = &cents
	}
	return m
}

func toDomainPurchase(m purchaseModel) *broker.LeadPurchase {
	return &broker.LeadPurchase{
		ID:          broker.PurchaseID(m.ID),
		LeadID:      broker.LeadID(m.LeadID),
		BuyerID:     broker.BuyerID(m.BuyerID),
		Price:       broker.FromCents(m.PriceCents),
		PurchasedAt: m.PurchasedAt.UTC(),
	}
}

func toDomainWalletTx(m walletTxModel) broker.WalletTransaction {
	return broker.WalletTransaction{
		ID:        broker.TransactionID(m.ID),
		BuyerID:   broker.BuyerID(m.BuyerID),
		Amount:    broker.FromCents(m.AmountCents),
		Type:      broker.WalletTransactionType(m.Type),
		Reason:    m.Reason,
		Meta:      m.Meta,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
