package broker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-exchange/broker"
	"github.com/warp/lead-exchange/broker/store"
	"github.com/warp/lead-exchange/store/gormdb"
	"github.com/warp/lead-exchange/store/sqlite"
)

const seller broker.SellerID = "seller-1"

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// backends lists the repositories the engine tests run against.
func backends(t *testing.T) map[string]func(t *testing.T) broker.Repository {
	return map[string]func(t *testing.T) broker.Repository{
		"memory": func(t *testing.T) broker.Repository { return store.NewMemory() },
		"sqlite": func(t *testing.T) broker.Repository {
			s, err := sqlite.New(filepath.Join(t.TempDir(), "leads.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"gorm": func(t *testing.T) broker.Repository {
			s, err := gormdb.Open(filepath.Join(t.TempDir(), "leads.db"), quietLogger())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	repo   broker.Repository
	svc    *broker.Service
	events *recordingPublisher
	seq    int
}

func newFixture(t *testing.T, repo broker.Repository) *fixture {
	t.Helper()
	svc := broker.NewService(repo)
	events := &recordingPublisher{}
	svc.Engine.Events = events
	svc.Engine.Logger = quietLogger()
	svc.Engine.Retry = broker.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return &fixture{t: t, ctx: context.Background(), repo: repo, svc: svc, events: events}
}

func (f *fixture) engine() *broker.Engine { return f.svc.Engine }

// buyer creates an active buyer funded through the ledger.
func (f *fixture) buyer(name, balance string) *broker.Buyer {
	f.t.Helper()
	b, err := f.svc.CreateBuyer(f.ctx, broker.NewBuyerInput{
		SellerID:       seller,
		Name:           name,
		Email:          "buyer@example.com",
		OpeningBalance: dec(balance),
	})
	require.NoError(f.t, err)
	return b
}

func (f *fixture) campaign(buyerID broker.BuyerID, leadTypes, states []string) *broker.Campaign {
	f.t.Helper()
	c, err := f.svc.SaveCampaign(f.ctx, broker.NewCampaignInput{
		BuyerID:   buyerID,
		Name:      "Default",
		LeadTypes: leadTypes,
		States:    states,
	})
	require.NoError(f.t, err)
	return c
}

func (f *fixture) cappedCampaign(buyerID broker.BuyerID, leadTypes, states []string, maxPrice string) *broker.Campaign {
	f.t.Helper()
	limit := dec(maxPrice)
	c, err := f.svc.SaveCampaign(f.ctx, broker.NewCampaignInput{
		BuyerID:   buyerID,
		Name:      "Capped",
		LeadTypes: leadTypes,
		States:    states,
		MaxPrice:  &limit,
	})
	require.NoError(f.t, err)
	return c
}

// lead stores an unassigned lead without triggering auto-assignment.
func (f *fixture) lead(leadType, state, price string) broker.Lead {
	f.t.Helper()
	f.seq++
	l := broker.Lead{
		ID:        broker.LeadID(fmt.Sprintf("lead-%02d", f.seq)),
		SellerID:  seller,
		LeadType:  leadType,
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
		Phone:     "555-1000",
		State:     state,
		Price:     dec(price),
		Status:    broker.LeadUnassigned,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(f.t, f.repo.CreateLead(f.ctx, l))
	return l
}

func (f *fixture) balance(id broker.BuyerID) string {
	f.t.Helper()
	b, err := f.repo.GetBuyer(f.ctx, id)
	require.NoError(f.t, err)
	return b.WalletBalance.StringFixed(broker.MoneyScale)
}

func (f *fixture) requireConsistent(id broker.BuyerID) {
	f.t.Helper()
	rec, err := broker.Reconcile(f.ctx, f.repo, id)
	require.NoError(f.t, err)
	require.True(f.t, rec.Consistent, rec.Problem)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu       sync.Mutex
	sold     []broker.LeadSoldEvent
	credited []broker.WalletCreditedEvent
	err      error
}

func (p *recordingPublisher) PublishLeadSold(_ context.Context, ev broker.LeadSoldEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sold = append(p.sold, ev)
	return p.err
}

func (p *recordingPublisher) PublishWalletCredited(_ context.Context, ev broker.WalletCreditedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credited = append(p.credited, ev)
	return p.err
}

func (p *recordingPublisher) soldCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sold)
}

// conflictingStore fails the first n transactions with ErrConflict
// without running them.
type conflictingStore struct {
	broker.TxStore
	mu        sync.Mutex
	remaining int
	attempts  int
}

func (s *conflictingStore) WithTx(ctx context.Context, fn func(broker.Store) error) error {
	s.mu.Lock()
	s.attempts++
	fail := s.remaining > 0
	if fail {
		s.remaining--
	}
	s.mu.Unlock()
	if fail {
		return broker.ErrConflict
	}
	return s.TxStore.WithTx(ctx, fn)
}

// staleStore serves a lead or buyer snapshot to the first transactional
// read of it, then reads through. It reproduces a row changing between
// the engine's checks and its conditional writes.
type staleStore struct {
	broker.Repository
	mu    sync.Mutex
	lead  *broker.Lead
	buyer *broker.Buyer
	txs   int
}

func (s *staleStore) WithTx(ctx context.Context, fn func(broker.Store) error) error {
	s.mu.Lock()
	s.txs++
	s.mu.Unlock()
	return s.Repository.WithTx(ctx, func(tx broker.Store) error {
		return fn(staleTx{Store: tx, src: s})
	})
}

func (s *staleStore) takeLead(id broker.LeadID) *broker.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lead == nil || s.lead.ID != id {
		return nil
	}
	l := *s.lead
	s.lead = nil
	return &l
}

func (s *staleStore) takeBuyer(id broker.BuyerID) *broker.Buyer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buyer == nil || s.buyer.ID != id {
		return nil
	}
	b := *s.buyer
	s.buyer = nil
	return &b
}

func (s *staleStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

type staleTx struct {
	broker.Store
	src *staleStore
}

func (t staleTx) GetLead(ctx context.Context, id broker.LeadID) (*broker.Lead, error) {
	if l := t.src.takeLead(id); l != nil {
		return l, nil
	}
	return t.Store.GetLead(ctx, id)
}

func (t staleTx) GetBuyer(ctx context.Context, id broker.BuyerID) (*broker.Buyer, error) {
	if b := t.src.takeBuyer(id); b != nil {
		return b, nil
	}
	return t.Store.GetBuyer(ctx, id)
}

// brokenLedgerStore fails transactional ledger reads for one buyer.
type brokenLedgerStore struct {
	broker.Repository
	buyer broker.BuyerID
}

func (s *brokenLedgerStore) WithTx(ctx context.Context, fn func(broker.Store) error) error {
	return s.Repository.WithTx(ctx, func(tx broker.Store) error {
		return fn(brokenLedgerTx{Store: tx, buyer: s.buyer})
	})
}

type brokenLedgerTx struct {
	broker.Store
	buyer broker.BuyerID
}

func (t brokenLedgerTx) ListLedger(ctx context.Context, id broker.BuyerID) ([]broker.WalletTransaction, error) {
	if id == t.buyer {
		return nil, &broker.StorageError{Op: "list ledger", Err: errors.New("disk I/O error")}
	}
	return t.Store.ListLedger(ctx, id)
}

// candidateOutage fails every candidate listing.
type candidateOutage struct {
	broker.Repository
}

func (candidateOutage) ListCandidates(context.Context, broker.SellerID) ([]broker.Candidate, error) {
	return nil, &broker.StorageError{Op: "list candidates", Err: errors.New("connection reset")}
}
