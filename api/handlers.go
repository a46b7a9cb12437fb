/*
handlers.go - HTTP API handlers for the lead exchange

PURPOSE:
  Exposes the broker service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the broker package.

ENDPOINTS:
  Leads:
    GET    /api/leads                  List the seller's leads (?status=, ?limit=)
    POST   /api/leads                  Create a lead and try to sell it
    GET    /api/leads/{id}             Get a lead
    PATCH  /api/leads/{id}             Edit a lead, optionally assigning it
    POST   /api/leads/{id}/assign      Sell a lead to a named buyer
    POST   /api/leads/{id}/auto-assign Sell a lead to the best eligible buyer
    GET    /api/leads/{id}/matches     Rank eligible buyers without selling

  Buyers:
    GET    /api/buyers                 List the seller's buyers
    POST   /api/buyers                 Create a buyer
    GET    /api/buyers/{id}            Buyer statement (campaigns, purchases, ledger)
    PATCH  /api/buyers/{id}            Edit name, email, phone or status
    PATCH  /api/buyers/{id}/status     Pause, disable or reactivate
    POST   /api/buyers/{id}/credit     Fund the wallet
    POST   /api/buyers/{id}/campaigns  Add a campaign
    GET    /api/buyers/{id}/reconcile  Replay the ledger against the balance

  Seller:
    GET    /api/dashboard              Revenue and counts for the last 30 days

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

SELLER IDENTITY:
  Every /api request carries X-Seller-ID. Authentication happens upstream;
  this layer only scopes reads and writes to that seller. Entities owned by
  another seller are reported as not found.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed body
  - 401: Missing seller identity
  - 404: Lead, buyer or campaign not found
  - 409: Lead already sold, concurrent modification
  - 422: Buyer inactive, insufficient funds
  - 503: Storage failure
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/lead-exchange/broker"
)

// SellerHeader carries the authenticated seller's ID.
const SellerHeader = "X-Seller-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *broker.Service

	// Ping reports datastore health for /healthz. Nil means always healthy.
	Ping func(ctx context.Context) error

	Logger *slog.Logger
}

// NewHandler creates a handler over the given service.
func NewHandler(svc *broker.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func sellerFrom(r *http.Request) (broker.SellerID, bool) {
	id := r.Header.Get(SellerHeader)
	return broker.SellerID(id), id != ""
}

// requireSeller writes 401 and returns false when the seller header is missing.
func requireSeller(w http.ResponseWriter, r *http.Request) (broker.SellerID, bool) {
	seller, ok := sellerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing seller identity", errors.New(SellerHeader+" header is required"))
	}
	return seller, ok
}

// ownLead loads a lead and checks it belongs to the seller.
func (h *Handler) ownLead(ctx context.Context, seller broker.SellerID, id broker.LeadID) (*broker.Lead, error) {
	lead, err := h.Service.Engine.Store.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if lead.SellerID != seller {
		return nil, broker.ErrLeadNotFound
	}
	return lead, nil
}

// ownBuyer loads a buyer and checks it belongs to the seller.
func (h *Handler) ownBuyer(ctx context.Context, seller broker.SellerID, id broker.BuyerID) (*broker.Buyer, error) {
	buyer, err := h.Service.Engine.Store.GetBuyer(ctx, id)
	if err != nil {
		return nil, err
	}
	if buyer.SellerID != seller {
		return nil, broker.ErrBuyerNotFound
	}
	return buyer, nil
}

// =============================================================================
// LEAD HANDLERS
// =============================================================================

// ListLeads returns the seller's leads, newest first.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	filter := broker.LeadFilter{SellerID: seller}
	switch status := broker.LeadStatus(r.URL.Query().Get("status")); status {
	case "":
	case broker.LeadUnassigned, broker.LeadSold:
		filter.Status = status
	default:
		writeError(w, http.StatusBadRequest, "Invalid status filter", errors.New("status must be unassigned or sold"))
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", errors.New("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	leads, err := h.Service.Catalog.ListLeads(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list leads", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTOs(leads))
}

// CreateLead stores a lead and attempts to sell it immediately.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req CreateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lead, err := h.Service.CreateLead(r.Context(), broker.NewLeadInput{
		SellerID:  seller,
		LeadType:  req.LeadType,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		State:     req.State,
		Price:     req.Price,
		Source:    req.Source,
	})
	var assignErr *broker.AutoAssignError
	if errors.As(err, &assignErr) {
		recordAssignment("auto", nil, false, assignErr.Err)
		h.logger().WarnContext(r.Context(), "lead stored without assignment",
			"module", "api",
			"lead_id", assignErr.Lead.ID,
			"error", assignErr.Err,
		)
		writeJSON(w, http.StatusCreated, CreatedLeadDTO{
			LeadDTO:         toLeadDTO(*assignErr.Lead),
			AssignmentError: assignErr.Err.Error(),
		})
		return
	}
	if err != nil {
		h.fail(w, r, "Failed to create lead", err)
		return
	}
	recordAssignment("auto", lead, false, nil)
	writeJSON(w, http.StatusCreated, CreatedLeadDTO{LeadDTO: toLeadDTO(*lead)})
}

// GetLead returns one of the seller's leads.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}
	lead, err := h.ownLead(r.Context(), seller, broker.LeadID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(*lead))
}

// UpdateLead edits a lead. A buyer in assigned_buyer_id goes through the
// same sale path as AssignLead.
func (h *Handler) UpdateLead(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req UpdateLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	leadID := broker.LeadID(chi.URLParam(r, "id"))
	prior, err := h.ownLead(ctx, seller, leadID)
	if err != nil {
		h.fail(w, r, "Failed to update lead", err)
		return
	}
	update := broker.LeadUpdate{
		LeadType:  req.LeadType,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		State:     req.State,
		Price:     req.Price,
	}
	if req.AssignedBuyerID != nil {
		buyerID := broker.BuyerID(*req.AssignedBuyerID)
		if _, err := h.ownBuyer(ctx, seller, buyerID); err != nil {
			h.fail(w, r, "Failed to update lead", err)
			return
		}
		update.AssignedBuyerID = &buyerID
	}

	lead, err := h.Service.UpdateLead(ctx, leadID, update)
	if update.AssignedBuyerID != nil {
		recordAssignment("manual", lead, prior.SoldTo(*update.AssignedBuyerID), err)
	}
	if err != nil {
		h.fail(w, r, "Failed to update lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(*lead))
}

// AssignLead sells a lead to the buyer named in the body.
func (h *Handler) AssignLead(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req AssignLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required", nil)
		return
	}

	ctx := r.Context()
	leadID := broker.LeadID(chi.URLParam(r, "id"))
	if _, err := h.ownLead(ctx, seller, leadID); err != nil {
		h.fail(w, r, "Failed to assign lead", err)
		return
	}
	if _, err := h.ownBuyer(ctx, seller, broker.BuyerID(req.BuyerID)); err != nil {
		h.fail(w, r, "Failed to assign lead", err)
		return
	}

	result, err := h.Service.Engine.AssignLeadToBuyer(ctx, leadID, broker.BuyerID(req.BuyerID))
	if err != nil {
		recordAssignment("manual", nil, false, err)
		h.fail(w, r, "Failed to assign lead", err)
		return
	}
	recordAssignment("manual", &result.Lead, result.Replayed, nil)

	writeJSON(w, http.StatusOK, AssignmentDTO{
		Lead:     toLeadDTO(result.Lead),
		Buyer:    toBuyerDTO(result.Buyer),
		Purchase: toPurchaseDTO(result.Purchase),
		Replayed: result.Replayed,
	})
}

// AutoAssignLead sells a lead to the best eligible buyer. A lead with no
// eligible buyer comes back unchanged with 200.
func (h *Handler) AutoAssignLead(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	leadID := broker.LeadID(chi.URLParam(r, "id"))
	if _, err := h.ownLead(ctx, seller, leadID); err != nil {
		h.fail(w, r, "Failed to auto-assign lead", err)
		return
	}

	lead, err := h.Service.Engine.AutoAssign(ctx, leadID)
	recordAssignment("auto", lead, false, err)
	if err != nil {
		h.fail(w, r, "Failed to auto-assign lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(*lead))
}

// GetMatches ranks the buyers the lead would go to, best first.
func (h *Handler) GetMatches(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	leadID := broker.LeadID(chi.URLParam(r, "id"))
	if _, err := h.ownLead(ctx, seller, leadID); err != nil {
		h.fail(w, r, "Failed to match lead", err)
		return
	}

	lead, ranked, err := h.Service.PreviewMatches(ctx, leadID)
	if err != nil {
		h.fail(w, r, "Failed to match lead", err)
		return
	}

	dto := MatchPreviewDTO{LeadID: string(lead.ID), Candidates: make([]CandidateDTO, len(ranked))}
	for i, c := range ranked {
		dto.Candidates[i] = CandidateDTO{
			Rank:          i + 1,
			BuyerID:       string(c.Buyer.ID),
			BuyerName:     c.Buyer.Name,
			CampaignID:    string(c.Campaign.ID),
			CampaignName:  c.Campaign.Name,
			WalletBalance: money(c.Buyer.WalletBalance),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// BUYER HANDLERS
// =============================================================================

// ListBuyers returns the seller's buyers.
func (h *Handler) ListBuyers(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}
	buyers, err := h.Service.Catalog.ListBuyers(r.Context(), seller)
	if err != nil {
		h.fail(w, r, "Failed to list buyers", err)
		return
	}
	dtos := make([]BuyerDTO, len(buyers))
	for i, b := range buyers {
		dtos[i] = toBuyerDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBuyer creates a buyer, funding the wallet through the ledger when
// wallet_balance is given.
func (h *Handler) CreateBuyer(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req CreateBuyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	buyer, err := h.Service.CreateBuyer(r.Context(), broker.NewBuyerInput{
		SellerID:       seller,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Status:         broker.BuyerStatus(req.Status),
		OpeningBalance: req.WalletBalance,
	})
	if err != nil {
		h.fail(w, r, "Failed to create buyer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBuyerDTO(*buyer))
}

// GetBuyer returns the buyer statement.
func (h *Handler) GetBuyer(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	id := broker.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.ownBuyer(ctx, seller, id); err != nil {
		h.fail(w, r, "Failed to get buyer", err)
		return
	}
	stmt, err := h.Service.BuyerStatement(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(stmt))
}

// UpdateBuyer edits a buyer's profile and, optionally, its status.
func (h *Handler) UpdateBuyer(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req UpdateBuyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	id := broker.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.ownBuyer(ctx, seller, id); err != nil {
		h.fail(w, r, "Failed to update buyer", err)
		return
	}
	update := broker.BuyerUpdate{Name: req.Name, Email: req.Email, Phone: req.Phone}
	if req.Status != nil {
		status := broker.BuyerStatus(*req.Status)
		update.Status = &status
	}
	buyer, err := h.Service.UpdateBuyer(ctx, id, update)
	if err != nil {
		h.fail(w, r, "Failed to update buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, toBuyerDTO(*buyer))
}

// UpdateBuyerStatus pauses, disables or reactivates a buyer.
func (h *Handler) UpdateBuyerStatus(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req UpdateBuyerStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	id := broker.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.ownBuyer(ctx, seller, id); err != nil {
		h.fail(w, r, "Failed to update buyer", err)
		return
	}
	if err := h.Service.SetBuyerStatus(ctx, id, broker.BuyerStatus(req.Status)); err != nil {
		h.fail(w, r, "Failed to update buyer", err)
		return
	}
	buyer, err := h.Service.Engine.Store.GetBuyer(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to update buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, toBuyerDTO(*buyer))
}

// CreditBuyer adds funds to a buyer's wallet.
func (h *Handler) CreditBuyer(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req CreditBuyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	id := broker.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.ownBuyer(ctx, seller, id); err != nil {
		h.fail(w, r, "Failed to credit buyer", err)
		return
	}

	buyer, err := h.Service.Engine.CreditBuyer(ctx, id, req.Amount, req.Reason)
	recordCredit(req.Amount, err)
	if err != nil {
		h.fail(w, r, "Failed to credit buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, toBuyerDTO(*buyer))
}

// CreateCampaign adds a campaign to a buyer.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	id := broker.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.ownBuyer(ctx, seller, id); err != nil {
		h.fail(w, r, "Failed to create campaign", err)
		return
	}

	c, err := h.Service.SaveCampaign(ctx, broker.NewCampaignInput{
		BuyerID:   id,
		Name:      req.Name,
		Status:    broker.CampaignStatus(req.Status),
		LeadTypes: req.LeadTypes,
		States:    req.States,
		MaxPrice:  req.MaxPrice,
		DailyCap:  req.DailyCap,
	})
	if err != nil {
		h.fail(w, r, "Failed to create campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCampaignDTO(*c))
}

// ReconcileBuyer replays the buyer's ledger against the stored balance.
func (h *Handler) ReconcileBuyer(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	id := broker.BuyerID(chi.URLParam(r, "id"))
	if _, err := h.ownBuyer(ctx, seller, id); err != nil {
		h.fail(w, r, "Failed to reconcile buyer", err)
		return
	}
	rec, err := h.Service.ReconcileBuyer(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to reconcile buyer", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// SELLER HANDLERS
// =============================================================================

// GetDashboard returns the seller's 30-day summary.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	seller, ok := requireSeller(w, r)
	if !ok {
		return
	}
	d, err := h.Service.Dashboard(r.Context(), seller, time.Now().UTC())
	if err != nil {
		h.fail(w, r, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// Healthz reports whether the datastore answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Datastore unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps broker errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, broker.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrAlreadySold), errors.Is(err, broker.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, broker.ErrBuyerInactive), errors.Is(err, broker.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, broker.ErrStorage):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes the mapped error response and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger().ErrorContext(r.Context(), message,
			"module", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, message, err)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
