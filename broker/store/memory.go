// Package store provides an in-memory broker.Repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/lead-exchange/broker"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every entity in maps behind one lock. WithTx holds the write
// lock for the whole closure, so transactions are fully serialized.
type Memory struct {
	mu        sync.RWMutex
	leads     map[broker.LeadID]broker.Lead
	buyers    map[broker.BuyerID]broker.Buyer
	campaigns map[broker.CampaignID]broker.Campaign
	purchases map[broker.LeadID]broker.LeadPurchase
	ledger    []broker.WalletTransaction
}

func NewMemory() *Memory {
	return &Memory{
		leads:     make(map[broker.LeadID]broker.Lead),
		buyers:    make(map[broker.BuyerID]broker.Buyer),
		campaigns: make(map[broker.CampaignID]broker.Campaign),
		purchases: make(map[broker.LeadID]broker.LeadPurchase),
	}
}

var _ broker.Repository = (*Memory)(nil)

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetLead(_ context.Context, id broker.LeadID) (*broker.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLeadLocked(id)
}

func (m *Memory) GetBuyer(_ context.Context, id broker.BuyerID) (*broker.Buyer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBuyerLocked(id)
}

func (m *Memory) GetPurchaseByLead(_ context.Context, leadID broker.LeadID) (*broker.LeadPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPurchaseLocked(leadID)
}

func (m *Memory) ListCandidates(_ context.Context, sellerID broker.SellerID) ([]broker.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.candidatesLocked(sellerID), nil
}

func (m *Memory) ListLedger(_ context.Context, buyerID broker.BuyerID) ([]broker.WalletTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerLocked(buyerID), nil
}

func (m *Memory) getLeadLocked(id broker.LeadID) (*broker.Lead, error) {
	l, ok := m.leads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", broker.ErrLeadNotFound, id)
	}
	return cloneLead(l), nil
}

func (m *Memory) getBuyerLocked(id broker.BuyerID) (*broker.Buyer, error) {
	b, ok := m.buyers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, id)
	}
	return &b, nil
}

func (m *Memory) getPurchaseLocked(leadID broker.LeadID) (*broker.LeadPurchase, error) {
	p, ok := m.purchases[leadID]
	if !ok {
		return nil, fmt.Errorf("purchase for lead %s: %w", leadID, broker.ErrNotFound)
	}
	return &p, nil
}

func (m *Memory) candidatesLocked(sellerID broker.SellerID) []broker.Candidate {
	var out []broker.Candidate
	for _, c := range m.campaigns {
		b, ok := m.buyers[c.BuyerID]
		if !ok || b.SellerID != sellerID {
			continue
		}
		out = append(out, broker.Candidate{Campaign: cloneCampaign(c), Buyer: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Campaign.ID < out[j].Campaign.ID })
	return out
}

func (m *Memory) ledgerLocked(buyerID broker.BuyerID) []broker.WalletTransaction {
	var out []broker.WalletTransaction
	for _, e := range m.ledger {
		if e.BuyerID == buyerID {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn under the write lock. On error or cancelled context
// the state is restored from a snapshot taken before fn ran.
func (m *Memory) WithTx(ctx context.Context, fn func(broker.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	leads     map[broker.LeadID]broker.Lead
	buyers    map[broker.BuyerID]broker.Buyer
	purchases map[broker.LeadID]broker.LeadPurchase
	ledgerLen int
}

// snapshot copies what a transaction may write. Campaigns are read-only here.
func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		leads:     make(map[broker.LeadID]broker.Lead, len(m.leads)),
		buyers:    make(map[broker.BuyerID]broker.Buyer, len(m.buyers)),
		purchases: make(map[broker.LeadID]broker.LeadPurchase, len(m.purchases)),
		ledgerLen: len(m.ledger),
	}
	for k, v := range m.leads {
		s.leads[k] = v
	}
	for k, v := range m.buyers {
		s.buyers[k] = v
	}
	for k, v := range m.purchases {
		s.purchases[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.leads = s.leads
	m.buyers = s.buyers
	m.purchases = s.purchases
	m.ledger = m.ledger[:s.ledgerLen]
}

// txView is the broker.Store handed to WithTx closures. The parent's write
// lock is already held.
type txView struct {
	m *Memory
}

func (tv *txView) GetLead(_ context.Context, id broker.LeadID) (*broker.Lead, error) {
	return tv.m.getLeadLocked(id)
}

func (tv *txView) GetBuyer(_ context.Context, id broker.BuyerID) (*broker.Buyer, error) {
	return tv.m.getBuyerLocked(id)
}

func (tv *txView) GetPurchaseByLead(_ context.Context, leadID broker.LeadID) (*broker.LeadPurchase, error) {
	return tv.m.getPurchaseLocked(leadID)
}

func (tv *txView) ListCandidates(_ context.Context, sellerID broker.SellerID) ([]broker.Candidate, error) {
	return tv.m.candidatesLocked(sellerID), nil
}

func (tv *txView) ListLedger(_ context.Context, buyerID broker.BuyerID) ([]broker.WalletTransaction, error) {
	return tv.m.ledgerLocked(buyerID), nil
}

func (tv *txView) ClaimLead(_ context.Context, leadID broker.LeadID, buyerID broker.BuyerID) (bool, error) {
	l, ok := tv.m.leads[leadID]
	if !ok || l.Status != broker.LeadUnassigned {
		return false, nil
	}
	l.Status = broker.LeadSold
	id := buyerID
	l.AssignedBuyerID = &id
	tv.m.leads[leadID] = l
	return true, nil
}

func (tv *txView) DebitWallet(_ context.Context, buyerID broker.BuyerID, amount decimal.Decimal) (bool, error) {
	b, ok := tv.m.buyers[buyerID]
	if !ok || b.Status != broker.BuyerActive || b.WalletBalance.LessThan(amount) {
		return false, nil
	}
	b.WalletBalance = b.WalletBalance.Sub(amount)
	tv.m.buyers[buyerID] = b
	return true, nil
}

func (tv *txView) CreditWallet(_ context.Context, buyerID broker.BuyerID, amount decimal.Decimal) (bool, error) {
	b, ok := tv.m.buyers[buyerID]
	if !ok {
		return false, nil
	}
	b.WalletBalance = b.WalletBalance.Add(amount)
	tv.m.buyers[buyerID] = b
	return true, nil
}

func (tv *txView) InsertPurchase(_ context.Context, p broker.LeadPurchase) error {
	if _, exists := tv.m.purchases[p.LeadID]; exists {
		return fmt.Errorf("purchase for lead %s: %w", p.LeadID, broker.ErrAlreadySold)
	}
	tv.m.purchases[p.LeadID] = p
	return nil
}

func (tv *txView) AppendLedger(_ context.Context, tx broker.WalletTransaction) error {
	tv.m.ledger = append(tv.m.ledger, cloneEntry(tx))
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) CreateLead(_ context.Context, lead broker.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.leads[lead.ID]; exists {
		return fmt.Errorf("lead %s already exists: %w", lead.ID, broker.ErrInvalidArgument)
	}
	lead.Status = broker.LeadUnassigned
	lead.AssignedBuyerID = nil
	m.leads[lead.ID] = lead
	return nil
}

func (m *Memory) UpdateLead(_ context.Context, lead broker.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leads[lead.ID]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrLeadNotFound, lead.ID)
	}
	if cur.Status != broker.LeadUnassigned && !cur.Price.Equal(lead.Price) {
		return fmt.Errorf("lead %s is sold, its price is fixed: %w", lead.ID, broker.ErrConflict)
	}
	cur.LeadType = lead.LeadType
	cur.FirstName = lead.FirstName
	cur.LastName = lead.LastName
	cur.Email = lead.Email
	cur.Phone = lead.Phone
	cur.State = lead.State
	cur.Price = lead.Price
	m.leads[lead.ID] = cur
	return nil
}

func (m *Memory) ListLeads(_ context.Context, f broker.LeadFilter) ([]broker.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Lead
	for _, l := range m.leads {
		if f.SellerID != "" && l.SellerID != f.SellerID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, *cloneLead(l))
	}
	// Newest first, like the SQL stores.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CreateBuyer(_ context.Context, b broker.Buyer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.buyers[b.ID]; exists {
		return fmt.Errorf("buyer %s already exists: %w", b.ID, broker.ErrInvalidArgument)
	}
	b.WalletBalance = decimal.Zero
	m.buyers[b.ID] = b
	return nil
}

func (m *Memory) ListBuyers(_ context.Context, sellerID broker.SellerID) ([]broker.Buyer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Buyer
	for _, b := range m.buyers {
		if sellerID == "" || b.SellerID == sellerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateBuyer(_ context.Context, b broker.Buyer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.buyers[b.ID]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, b.ID)
	}
	cur.Name = b.Name
	cur.Email = b.Email
	cur.Phone = b.Phone
	m.buyers[b.ID] = cur
	return nil
}

func (m *Memory) SetBuyerStatus(_ context.Context, id broker.BuyerID, status broker.BuyerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[id]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, id)
	}
	b.Status = status
	m.buyers[id] = b
	return nil
}

func (m *Memory) SaveCampaign(_ context.Context, c broker.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buyers[c.BuyerID]; !ok {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, c.BuyerID)
	}
	m.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (m *Memory) ListCampaigns(_ context.Context, buyerID broker.BuyerID) ([]broker.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Campaign
	for _, c := range m.campaigns {
		if c.BuyerID == buyerID {
			out = append(out, cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListPurchases(_ context.Context, buyerID broker.BuyerID) ([]broker.LeadPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.LeadPurchase
	for _, p := range m.purchases {
		if p.BuyerID == buyerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneLead(l broker.Lead) *broker.Lead {
	if l.AssignedBuyerID != nil {
		id := *l.AssignedBuyerID
		l.AssignedBuyerID = &id
	}
	return &l
}

func cloneEntry(e broker.WalletTransaction) broker.WalletTransaction {
	if e.Meta != nil {
		meta := make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			meta[k] = v
		}
		e.Meta = meta
	}
	return e
}

func cloneCampaign(c broker.Campaign) broker.Campaign {
	c.LeadTypes = append([]string(nil), c.LeadTypes...)
	c.States = append([]string(nil), c.States...)
	if c.MaxPrice != nil {
		p := *c.MaxPrice
		c.MaxPrice = &p
	}
	if c.DailyCap != nil {
		d := *c.DailyCap
		c.DailyCap = &d
	}
	return c
}
