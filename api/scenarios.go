/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the calling seller's account
	with realistic data for demos. Each scenario creates buyers, funds their
	wallets, configures campaigns and submits leads, all through
	broker.Service so the ledger stays consistent with wallet balances.

AVAILABLE SCENARIOS:

	demo:               Two insurance buyers, three leads, one manual sale
	insufficient-funds: A buyer whose wallet cannot cover the lead price

HOW SCENARIOS WORK:
 1. Create buyers with an opening balance (credited through the ledger)
 2. Add campaigns to each buyer
 3. Submit leads (each one is auto-assigned on intake)
 4. Optionally assign leads manually

USAGE VIA API:

	POST /api/scenarios/load
	X-Seller-ID: seller-1
	{"id": "demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, svc, seller)
 3. Register it in 'scenarioLoaders'

NOTE:

	Scenarios add to existing data; they never delete anything. Loading
	the same scenario twice creates a second set of buyers and leads.

SEE ALSO:
  - handlers.go: Router-facing handlers
  - broker/service.go: The operations scenarios are built from
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/lead-exchange/broker"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Insurance Demo",
		Description: "Alpha Insurance and Beta Coverage bidding on life insurance leads",
	},
	{
		ID:          "insufficient-funds",
		Name:        "Insufficient Funds",
		Description: "A 50.00 lead stays unassigned because the only buyer holds 30.00",
	},
}

// scenarioResult collects what a loader created.
type scenarioResult struct {
	buyers []broker.Buyer
	leads  []broker.Lead
}

type scenarioLoader func(ctx context.Context, svc *broker.Service, seller broker.SellerID) (*scenarioResult, error)

var scenarioLoaders = map[string]scenarioLoader{
	"demo":               loadDemoScenario,
	"insufficient-funds": loadInsufficientFundsScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario into the seller's account.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, found := scenarioLoaders[req.ID]
	if !found {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ID))
		return
	}

	res, err := load(r.Context(), h.Service, seller)
	if err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	out := ScenarioResultDTO{ID: req.ID, Buyers: make([]BuyerDTO, 0, len(res.buyers)), Leads: toLeadDTOs(res.leads)}
	for _, b := range res.buyers {
		// Balances moved while the leads were sold; report the current ones.
		if fresh, err := h.Service.Engine.Store.GetBuyer(r.Context(), b.ID); err == nil {
			b = *fresh
		}
		out.Buyers = append(out.Buyers, toBuyerDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// SCENARIO: DEMO
// =============================================================================

func loadDemoScenario(ctx context.Context, svc *broker.Service, seller broker.SellerID) (*scenarioResult, error) {
	res := &scenarioResult{}

	maxPrice := decimal.NewFromInt(75)
	dailyCap := 20

	buyers := []broker.NewBuyerInput{
		{Name: "Alpha Insurance", Email: "alpha@example.com", Phone: "555-0100", OpeningBalance: decimal.NewFromInt(500)},
		{Name: "Beta Coverage", Email: "beta@example.com", Phone: "555-0200", OpeningBalance: decimal.NewFromInt(150)},
	}
	for _, in := range buyers {
		in.SellerID = seller
		b, err := svc.CreateBuyer(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("create buyer %s: %w", in.Name, err)
		}
		if _, err := svc.SaveCampaign(ctx, broker.NewCampaignInput{
			BuyerID:   b.ID,
			Name:      "Default Campaign",
			LeadTypes: []string{"Term Life", "Final Expense"},
			States:    []string{"CA", "TX", "NY"},
			MaxPrice:  &maxPrice,
			DailyCap:  &dailyCap,
		}); err != nil {
			return nil, fmt.Errorf("create campaign for %s: %w", in.Name, err)
		}
		res.buyers = append(res.buyers, *b)
	}

	leads := []broker.NewLeadInput{
		{LeadType: "Term Life", FirstName: "John", LastName: "Doe", Email: "john@example.com", Phone: "555-1000", State: "CA", Price: decimal.NewFromInt(50), Source: "demo"},
		{LeadType: "Final Expense", FirstName: "Jane", LastName: "Smith", Email: "jane@example.com", Phone: "555-2000", State: "TX", Price: decimal.NewFromInt(35), Source: "demo"},
		{LeadType: "Medicare", FirstName: "Alice", LastName: "Lee", Email: "alice@example.com", Phone: "555-3000", State: "NY", Price: decimal.NewFromInt(60), Source: "demo"},
	}
	for _, in := range leads {
		in.SellerID = seller
		l, err := svc.CreateLead(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("create lead %s %s: %w", in.FirstName, in.LastName, err)
		}
		res.leads = append(res.leads, *l)
	}

	// No campaign takes Medicare; sell that one by hand.
	medicare := res.leads[2]
	if !medicare.IsSold() {
		a, err := svc.Engine.AssignLeadToBuyer(ctx, medicare.ID, res.buyers[0].ID)
		if err != nil {
			return nil, fmt.Errorf("assign lead %s: %w", medicare.ID, err)
		}
		res.leads[2] = a.Lead
	}
	return res, nil
}

// =============================================================================
// SCENARIO: INSUFFICIENT FUNDS
// =============================================================================

func loadInsufficientFundsScenario(ctx context.Context, svc *broker.Service, seller broker.SellerID) (*scenarioResult, error) {
	b, err := svc.CreateBuyer(ctx, broker.NewBuyerInput{
		SellerID:       seller,
		Name:           "Gamma Leads",
		Email:          "gamma@example.com",
		Phone:          "555-0300",
		OpeningBalance: decimal.NewFromInt(30),
	})
	if err != nil {
		return nil, fmt.Errorf("create buyer: %w", err)
	}
	if _, err := svc.SaveCampaign(ctx, broker.NewCampaignInput{
		BuyerID:   b.ID,
		Name:      "Auto CA",
		LeadTypes: []string{"Auto"},
		States:    []string{"CA"},
	}); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	l, err := svc.CreateLead(ctx, broker.NewLeadInput{
		SellerID:  seller,
		LeadType:  "Auto",
		FirstName: "Sam",
		LastName:  "Rivera",
		Email:     "sam@example.com",
		Phone:     "555-4000",
		State:     "CA",
		Price:     decimal.NewFromInt(50),
		Source:    "demo",
	})
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return &scenarioResult{buyers: []broker.Buyer{*b}, leads: []broker.Lead{*l}}, nil
}
