/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the broker domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Responses carry money as fixed two-decimal strings ("49.99").
  Requests accept either a JSON number or a string.

VALIDATION:
  Validation is done by broker.Service, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - broker/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lead-exchange/broker"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateLeadRequest is the body of POST /api/leads.
type CreateLeadRequest struct {
	LeadType  string          `json:"lead_type"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	State     string          `json:"state"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source,omitempty"`
}

// AssignLeadRequest is the body of POST /api/leads/{id}/assign.
type AssignLeadRequest struct {
	BuyerID string `json:"buyer_id"`
}

// UpdateLeadRequest is the body of PATCH /api/leads/{id}. Omitted fields
// are left unchanged; assigned_buyer_id sells the lead to that buyer.
type UpdateLeadRequest struct {
	LeadType        *string          `json:"lead_type,omitempty"`
	FirstName       *string          `json:"first_name,omitempty"`
	LastName        *string          `json:"last_name,omitempty"`
	Email           *string          `json:"email,omitempty"`
	Phone           *string          `json:"phone,omitempty"`
	State           *string          `json:"state,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	AssignedBuyerID *string          `json:"assigned_buyer_id,omitempty"`
}

// CreateBuyerRequest is the body of POST /api/buyers.
type CreateBuyerRequest struct {
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone"`
	Status        string          `json:"status,omitempty"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
}

// UpdateBuyerStatusRequest is the body of PATCH /api/buyers/{id}/status.
type UpdateBuyerStatusRequest struct {
	Status string `json:"status"`
}

// UpdateBuyerRequest is the body of PATCH /api/buyers/{id}.
type UpdateBuyerRequest struct {
	Name   *string `json:"name,omitempty"`
	Email  *string `json:"email,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Status *string `json:"status,omitempty"`
}

// CreditBuyerRequest is the body of POST /api/buyers/{id}/credit.
type CreditBuyerRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

// CreateCampaignRequest is the body of POST /api/buyers/{id}/campaigns.
type CreateCampaignRequest struct {
	Name      string           `json:"name"`
	Status    string           `json:"status,omitempty"`
	LeadTypes []string         `json:"lead_types"`
	States    []string         `json:"states"`
	MaxPrice  *decimal.Decimal `json:"max_price,omitempty"`
	DailyCap  *int             `json:"daily_cap,omitempty"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ID string `json:"id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LeadDTO represents a lead in API responses.
type LeadDTO struct {
	ID              string  `json:"id"`
	SellerID        string  `json:"seller_id"`
	LeadType        string  `json:"lead_type"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email"`
	Phone           string  `json:"phone"`
	State           string  `json:"state"`
	Price           string  `json:"price"`
	Status          string  `json:"status"`
	AssignedBuyerID *string `json:"assigned_buyer_id"`
	Source          string  `json:"source,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// CreatedLeadDTO is the intake response. AssignmentError is set when the
// lead was stored but could not be auto-assigned.
type CreatedLeadDTO struct {
	LeadDTO
	AssignmentError string `json:"assignment_error,omitempty"`
}

// BuyerDTO represents a buyer in API responses.
type BuyerDTO struct {
	ID            string `json:"id"`
	SellerID      string `json:"seller_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Status        string `json:"status"`
	WalletBalance string `json:"wallet_balance"`
	CreatedAt     string `json:"created_at"`
}

// CampaignDTO represents a campaign in API responses.
type CampaignDTO struct {
	ID        string   `json:"id"`
	BuyerID   string   `json:"buyer_id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	LeadTypes []string `json:"lead_types"`
	States    []string `json:"states"`
	MaxPrice  *string  `json:"max_price"`
	DailyCap  *int     `json:"daily_cap"`
}

// PurchaseDTO represents a lead purchase.
type PurchaseDTO struct {
	ID          string `json:"id"`
	LeadID      string `json:"lead_id"`
	BuyerID     string `json:"buyer_id"`
	Price       string `json:"price"`
	PurchasedAt string `json:"purchased_at"`
}

// WalletTransactionDTO represents a ledger entry.
type WalletTransactionDTO struct {
	ID        string            `json:"id"`
	BuyerID   string            `json:"buyer_id"`
	Amount    string            `json:"amount"`
	Type      string            `json:"type"`
	Reason    string            `json:"reason"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// AssignmentDTO is the result of a manual assignment.
type AssignmentDTO struct {
	Lead     LeadDTO     `json:"lead"`
	Buyer    BuyerDTO    `json:"buyer"`
	Purchase PurchaseDTO `json:"purchase"`
	Replayed bool        `json:"replayed"`
}

// CandidateDTO is one ranked match in a dry run.
type CandidateDTO struct {
	Rank          int    `json:"rank"`
	BuyerID       string `json:"buyer_id"`
	BuyerName     string `json:"buyer_name"`
	CampaignID    string `json:"campaign_id"`
	CampaignName  string `json:"campaign_name"`
	WalletBalance string `json:"wallet_balance"`
}

// MatchPreviewDTO lists the buyers a lead would go to, best first.
type MatchPreviewDTO struct {
	LeadID     string         `json:"lead_id"`
	Candidates []CandidateDTO `json:"candidates"`
}

// StatementDTO is a buyer's detail page.
type StatementDTO struct {
	Buyer     BuyerDTO               `json:"buyer"`
	Campaigns []CampaignDTO          `json:"campaigns"`
	Purchases []PurchaseDTO          `json:"purchases"`
	Ledger    []WalletTransactionDTO `json:"ledger"`
}

// ReconciliationDTO compares stored balance and ledger replay.
type ReconciliationDTO struct {
	BuyerID       string `json:"buyer_id"`
	StoredBalance string `json:"stored_balance"`
	LedgerBalance string `json:"ledger_balance"`
	Entries       int    `json:"entries"`
	Consistent    bool   `json:"consistent"`
	Problem       string `json:"problem,omitempty"`
}

// DailyRevenueDTO is one point of the revenue chart.
type DailyRevenueDTO struct {
	Date    string `json:"date"`
	Revenue string `json:"revenue"`
}

// DashboardDTO is the seller dashboard.
type DashboardDTO struct {
	Revenue      string            `json:"revenue"`
	LeadsSold    int               `json:"leads_sold"`
	Unassigned   int               `json:"unassigned"`
	ActiveBuyers int               `json:"active_buyers"`
	RevenueByDay []DailyRevenueDTO `json:"revenue_by_day"`
	Recent       []PurchaseDTO     `json:"recent"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResultDTO is what a scenario load created.
type ScenarioResultDTO struct {
	ID     string     `json:"id"`
	Buyers []BuyerDTO `json:"buyers"`
	Leads  []LeadDTO  `json:"leads"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(broker.MoneyScale) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toLeadDTO(l broker.Lead) LeadDTO {
	dto := LeadDTO{
		ID:        string(l.ID),
		SellerID:  string(l.SellerID),
		LeadType:  l.LeadType,
		FirstName: l.FirstName,
		LastName:  l.LastName,
		Email:     l.Email,
		Phone:     l.Phone,
		State:     l.State,
		Price:     money(l.Price),
		Status:    string(l.Status),
		Source:    l.Source,
		CreatedAt: timestamp(l.CreatedAt),
	}
	if l.AssignedBuyerID != nil {
		id := string(*l.AssignedBuyerID)
		dto.AssignedBuyerID = &id
	}
	return dto
}

func toLeadDTOs(leads []broker.Lead) []LeadDTO {
	out := make([]LeadDTO, len(leads))
	for i, l := range leads {
		out[i] = toLeadDTO(l)
	}
	return out
}

func toBuyerDTO(b broker.Buyer) BuyerDTO {
	return BuyerDTO{
		ID:            string(b.ID),
		SellerID:      string(b.SellerID),
		Name:          b.Name,
		Email:         b.Email,
		Phone:         b.Phone,
		Status:        string(b.Status),
		WalletBalance: money(b.WalletBalance),
		CreatedAt:     timestamp(b.CreatedAt),
	}
}

func toCampaignDTO(c broker.Campaign) CampaignDTO {
	dto := CampaignDTO{
		ID:        string(c.ID),
		BuyerID:   string(c.BuyerID),
		Name:      c.Name,
		Status:    string(c.Status),
		LeadTypes: c.LeadTypes,
		States:    c.States,
		DailyCap:  c.DailyCap,
	}
	if c.MaxPrice != nil {
		p := money(*c.MaxPrice)
		dto.MaxPrice = &p
	}
	return dto
}

func toPurchaseDTO(p broker.LeadPurchase) PurchaseDTO {
	return PurchaseDTO{
		ID:          string(p.ID),
		LeadID:      string(p.LeadID),
		BuyerID:     string(p.BuyerID),
		Price:       money(p.Price),
		PurchasedAt: timestamp(p.PurchasedAt),
	}
}

func toPurchaseDTOs(ps []broker.LeadPurchase) []PurchaseDTO {
	out := make([]PurchaseDTO, len(ps))
	for i, p := range ps {
		out[i] = toPurchaseDTO(p)
	}
	return out
}

func toWalletTransactionDTO(tx broker.WalletTransaction) WalletTransactionDTO {
	return WalletTransactionDTO{
		ID:        string(tx.ID),
		BuyerID:   string(tx.BuyerID),
		Amount:    money(tx.Amount),
		Type:      string(tx.Type),
		Reason:    tx.Reason,
		Meta:      tx.Meta,
		CreatedAt: timestamp(tx.CreatedAt),
	}
}

func toStatementDTO(s *broker.Statement) StatementDTO {
	dto := StatementDTO{
		Buyer:     toBuyerDTO(s.Buyer),
		Campaigns: make([]CampaignDTO, len(s.Campaigns)),
		Purchases: toPurchaseDTOs(s.Purchases),
		Ledger:    make([]WalletTransactionDTO, len(s.Ledger)),
	}
	for i, c := range s.Campaigns {
		dto.Campaigns[i] = toCampaignDTO(c)
	}
	for i, tx := range s.Ledger {
		dto.Ledger[i] = toWalletTransactionDTO(tx)
	}
	return dto
}

func toReconciliationDTO(r broker.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		BuyerID:       string(r.BuyerID),
		StoredBalance: money(r.StoredBalance),
		LedgerBalance: money(r.LedgerBalance),
		Entries:       r.Entries,
		Consistent:    r.Consistent,
		Problem:       r.Problem,
	}
}

func toDashboardDTO(d *broker.Dashboard) DashboardDTO {
	dto := DashboardDTO{
		Revenue:      money(d.Revenue),
		LeadsSold:    d.LeadsSold,
		Unassigned:   d.Unassigned,
		ActiveBuyers: d.ActiveBuyers,
		RevenueByDay: make([]DailyRevenueDTO, len(d.RevenueByDay)),
		Recent:       toPurchaseDTOs(d.Recent),
	}
	for i, day := range d.RevenueByDay {
		dto.RevenueByDay[i] = DailyRevenueDTO{Date: day.Date, Revenue: money(day.Revenue)}
	}
	return dto
}
