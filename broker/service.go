/*
service.go - Lead intake and seller-side management

PURPOSE:
  The operations a seller performs around the engine: create and edit leads
  (intake triggers auto-assignment), create and edit buyers, pause or
  disable them, configure campaigns, and read a buyer's statement.

  None of these write lead status, assigned buyer or wallet balance. Those
  change only through the Engine.
*/
package broker

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the seller-facing facade over the engine and the catalog.
type Service struct {
	Engine  *Engine
	Catalog Catalog
}

func NewService(repo Repository) *Service {
	return &Service{Engine: NewEngine(repo), Catalog: repo}
}

// NewLeadInput is a lead as submitted by the seller.
type NewLeadInput struct {
	SellerID  SellerID
	LeadType  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	State     string
	Price     decimal.Decimal
	Source    string
}

func (in *NewLeadInput) normalize() {
	in.LeadType = strings.TrimSpace(in.LeadType)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.State = strings.ToUpper(strings.TrimSpace(in.State))
	in.Source = strings.TrimSpace(in.Source)
}

func (in *NewLeadInput) validate() error {
	required := []struct{ field, value string }{
		{"seller_id", string(in.SellerID)},
		{"lead_type", in.LeadType},
		{"first_name", in.FirstName},
		{"last_name", in.LastName},
		{"email", in.Email},
		{"phone", in.Phone},
		{"state", in.State},
	}
	for _, r := range required {
		if r.value == "" {
			return &ValidationError{Field: r.field, Message: "is required"}
		}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if !in.Price.IsPositive() {
		return &ValidationError{Field: "price", Message: "must be greater than zero"}
	}
	if !in.Price.Equal(in.Price.Round(MoneyScale)) {
		return &ValidationError{Field: "price", Message: "at most two decimal places"}
	}
	return nil
}

// CreateLead persists an unassigned lead and immediately tries to sell it.
// The returned lead reflects the outcome: sold, or still unassigned when
// no buyer was eligible. A failed assignment does not undo the intake: the
// stored lead is returned together with an *AutoAssignError.
func (s *Service) CreateLead(ctx context.Context, in NewLeadInput) (*Lead, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	lead := Lead{
		ID:        LeadID(uuid.NewString()),
		SellerID:  in.SellerID,
		LeadType:  in.LeadType,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		State:     in.State,
		Price:     in.Price,
		Status:    LeadUnassigned,
		Source:    in.Source,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Catalog.CreateLead(ctx, lead); err != nil {
		return nil, err
	}

	assigned, err := s.Engine.AutoAssign(ctx, lead.ID)
	if err != nil {
		s.Engine.logger().WarnContext(ctx, "auto-assign after intake failed",
			"module", "broker.service",
			"operation", "create_lead",
			"outcome", "failure",
			"lead_id", lead.ID,
			"error", err,
		)
		return &lead, &AutoAssignError{Lead: &lead, Err: err}
	}
	return assigned, nil
}

// LeadUpdate is a partial edit of a lead. Nil fields are left unchanged.
// AssignedBuyerID sells the lead to that buyer through the engine.
type LeadUpdate struct {
	LeadType        *string
	FirstName       *string
	LastName        *string
	Email           *string
	Phone           *string
	State           *string
	Price           *decimal.Decimal
	AssignedBuyerID *BuyerID
}

func (u LeadUpdate) edits() bool {
	return u.LeadType != nil || u.FirstName != nil || u.LastName != nil ||
		u.Email != nil || u.Phone != nil || u.State != nil || u.Price != nil
}

// UpdateLead edits a lead's fields, then assigns it when AssignedBuyerID
// is set. Field edits are stored first so the sale charges the new price.
// A sold lead's price cannot change.
func (s *Service) UpdateLead(ctx context.Context, id LeadID, u LeadUpdate) (*Lead, error) {
	lead, err := s.Engine.Store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.edits() {
		in := NewLeadInput{
			SellerID:  lead.SellerID,
			LeadType:  pick(u.LeadType, lead.LeadType),
			FirstName: pick(u.FirstName, lead.FirstName),
			LastName:  pick(u.LastName, lead.LastName),
			Email:     pick(u.Email, lead.Email),
			Phone:     pick(u.Phone, lead.Phone),
			State:     pick(u.State, lead.State),
			Price:     lead.Price,
		}
		if u.Price != nil {
			in.Price = *u.Price
		}
		in.normalize()
		if err := in.validate(); err != nil {
			return nil, err
		}
		if lead.Status != LeadUnassigned && !in.Price.Equal(lead.Price) {
			return nil, &ValidationError{Field: "price", Message: "cannot change once the lead is sold"}
		}

		lead.LeadType = in.LeadType
		lead.FirstName = in.FirstName
		lead.LastName = in.LastName
		lead.Email = in.Email
		lead.Phone = in.Phone
		lead.State = in.State
		lead.Price = in.Price.Round(MoneyScale)
		if err := s.Catalog.UpdateLead(ctx, *lead); err != nil {
			return nil, err
		}
	}

	if u.AssignedBuyerID == nil {
		return lead, nil
	}
	a, err := s.Engine.AssignLeadToBuyer(ctx, id, *u.AssignedBuyerID)
	if err != nil {
		return nil, err
	}
	return &a.Lead, nil
}

func pick(v *string, current string) string {
	if v == nil {
		return current
	}
	return *v
}

// NewBuyerInput describes a buyer to create. OpeningBalance, when positive,
// is credited through the ledger right after creation.
type NewBuyerInput struct {
	SellerID       SellerID
	Name           string
	Email          string
	Phone          string
	Status         BuyerStatus
	OpeningBalance decimal.Decimal
}

// CreateBuyer creates a buyer with an empty wallet and funds it with a
// ledger-backed credit when an opening balance is given.
func (s *Service) CreateBuyer(ctx context.Context, in NewBuyerInput) (*Buyer, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.SellerID == "" {
		return nil, &ValidationError{Field: "seller_id", Message: "is required"}
	}
	if len(in.Name) < 2 {
		return nil, &ValidationError{Field: "name", Message: "must be at least 2 characters"}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if in.Status == "" {
		in.Status = BuyerActive
	}
	if !in.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", in.Status)}
	}
	if in.OpeningBalance.IsNegative() {
		return nil, &ValidationError{Field: "wallet_balance", Message: "must not be negative"}
	}

	buyer := Buyer{
		ID:            BuyerID(uuid.NewString()),
		SellerID:      in.SellerID,
		Name:          in.Name,
		Email:         in.Email,
		Phone:         strings.TrimSpace(in.Phone),
		Status:        in.Status,
		WalletBalance: decimal.Zero,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Catalog.CreateBuyer(ctx, buyer); err != nil {
		return nil, err
	}
	if !in.OpeningBalance.IsPositive() {
		return &buyer, nil
	}
	return s.Engine.CreditBuyer(ctx, buyer.ID, in.OpeningBalance, "opening_balance")
}

// SetBuyerStatus pauses, disables or reactivates a buyer.
func (s *Service) SetBuyerStatus(ctx context.Context, id BuyerID, status BuyerStatus) error {
	if !status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.Catalog.SetBuyerStatus(ctx, id, status)
}

// BuyerUpdate is a partial edit of a buyer's profile. Nil fields are left
// unchanged. The wallet is never edited here.
type BuyerUpdate struct {
	Name   *string
	Email  *string
	Phone  *string
	Status *BuyerStatus
}

// UpdateBuyer edits a buyer's name, email and phone, and applies a status
// change when one is given.
func (s *Service) UpdateBuyer(ctx context.Context, id BuyerID, u BuyerUpdate) (*Buyer, error) {
	buyer, err := s.Engine.Store.GetBuyer(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != nil && !u.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *u.Status)}
	}

	if u.Name != nil || u.Email != nil || u.Phone != nil {
		buyer.Name = strings.TrimSpace(pick(u.Name, buyer.Name))
		buyer.Email = strings.TrimSpace(pick(u.Email, buyer.Email))
		buyer.Phone = strings.TrimSpace(pick(u.Phone, buyer.Phone))
		if len(buyer.Name) < 2 {
			return nil, &ValidationError{Field: "name", Message: "must be at least 2 characters"}
		}
		if _, err := mail.ParseAddress(buyer.Email); err != nil {
			return nil, &ValidationError{Field: "email", Message: "is not a valid address"}
		}
		if err := s.Catalog.UpdateBuyer(ctx, *buyer); err != nil {
			return nil, err
		}
	}

	if u.Status != nil {
		if err := s.Catalog.SetBuyerStatus(ctx, id, *u.Status); err != nil {
			return nil, err
		}
		buyer.Status = *u.Status
	}
	return buyer, nil
}

// NewCampaignInput configures a buyer's campaign.
type NewCampaignInput struct {
	BuyerID   BuyerID
	Name      string
	Status    CampaignStatus
	LeadTypes []string
	States    []string
	MaxPrice  *decimal.Decimal
	DailyCap  *int
}

// SaveCampaign validates and stores a campaign for an existing buyer.
func (s *Service) SaveCampaign(ctx context.Context, in NewCampaignInput) (*Campaign, error) {
	if _, err := s.Engine.Store.GetBuyer(ctx, in.BuyerID); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = CampaignActive
	}
	if in.Status != CampaignActive && in.Status != CampaignPaused {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", in.Status)}
	}
	leadTypes := cleanSet(in.LeadTypes, false)
	states := cleanSet(in.States, true)
	if len(leadTypes) == 0 {
		return nil, &ValidationError{Field: "lead_types", Message: "at least one lead type is required"}
	}
	if len(states) == 0 {
		return nil, &ValidationError{Field: "states", Message: "at least one state is required"}
	}
	if in.MaxPrice != nil && !in.MaxPrice.IsPositive() {
		return nil, &ValidationError{Field: "max_price", Message: "must be greater than zero"}
	}
	if in.DailyCap != nil && *in.DailyCap < 0 {
		return nil, &ValidationError{Field: "daily_cap", Message: "must not be negative"}
	}

	c := Campaign{
		ID:        CampaignID(uuid.NewString()),
		BuyerID:   in.BuyerID,
		Name:      strings.TrimSpace(in.Name),
		Status:    in.Status,
		LeadTypes: leadTypes,
		States:    states,
		MaxPrice:  in.MaxPrice,
		DailyCap:  in.DailyCap,
	}
	if err := s.Catalog.SaveCampaign(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

func cleanSet(values []string, upper bool) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if upper {
			v = strings.ToUpper(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Statement is a buyer with its campaigns, purchases and ledger.
type Statement struct {
	Buyer     Buyer
	Campaigns []Campaign
	Purchases []LeadPurchase
	Ledger    []WalletTransaction
}

// BuyerStatement collects everything a seller sees on a buyer's page.
func (s *Service) BuyerStatement(ctx context.Context, id BuyerID) (*Statement, error) {
	buyer, err := s.Engine.Store.GetBuyer(ctx, id)
	if err != nil {
		return nil, err
	}
	campaigns, err := s.Catalog.ListCampaigns(ctx, id)
	if err != nil {
		return nil, err
	}
	purchases, err := s.Catalog.ListPurchases(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.Engine.Store.ListLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Statement{Buyer: *buyer, Campaigns: campaigns, Purchases: purchases, Ledger: entries}, nil
}

// PreviewMatches ranks the buyers a lead would go to, without selling it.
func (s *Service) PreviewMatches(ctx context.Context, id LeadID) (*Lead, []Candidate, error) {
	lead, err := s.Engine.Store.GetLead(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ranked, err := s.Engine.Matcher.Rank(ctx, lead)
	if err != nil {
		return nil, nil, err
	}
	return lead, ranked, nil
}

// ReconcileBuyer replays the buyer's ledger against its stored balance.
func (s *Service) ReconcileBuyer(ctx context.Context, id BuyerID) (Reconciliation, error) {
	return Reconcile(ctx, s.Engine.Store, id)
}
