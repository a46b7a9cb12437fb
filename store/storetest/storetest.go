// Package storetest holds the behaviour every broker.Repository backend
// must share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-exchange/broker"
)

// Opener returns a fresh, empty repository for one subtest.
type Opener func(t *testing.T) broker.Repository

// Run exercises the conditional writes, transactions and catalog of the
// repository returned by open.
func Run(t *testing.T, open Opener) {
	t.Run("ClaimLeadIsConditional", func(t *testing.T) { testClaimLead(t, open(t)) })
	t.Run("DebitWalletGuards", func(t *testing.T) { testDebitWallet(t, open(t)) })
	t.Run("CreditUnknownBuyer", func(t *testing.T) { testCreditUnknownBuyer(t, open(t)) })
	t.Run("DuplicatePurchaseIsAlreadySold", func(t *testing.T) { testDuplicatePurchase(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("CancelledContextCommitsNothing", func(t *testing.T) { testCancelled(t, open(t)) })
	t.Run("LedgerOrderAndMeta", func(t *testing.T) { testLedger(t, open(t)) })
	t.Run("MissingRowsAreNotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("Leads", func(t *testing.T) { testLeads(t, open(t)) })
	t.Run("BuyersAndCampaigns", func(t *testing.T) { testBuyersAndCampaigns(t, open(t)) })
	t.Run("Purchases", func(t *testing.T) { testPurchases(t, open(t)) })
	t.Run("LeadEdits", func(t *testing.T) { testLeadEdits(t, open(t)) })
	t.Run("BuyerEdits", func(t *testing.T) { testBuyerEdits(t, open(t)) })
	t.Run("SubSecondOrdering", func(t *testing.T) { testSubSecondOrdering(t, open(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seedBuyer(t *testing.T, repo broker.Repository, id broker.BuyerID, seller broker.SellerID) {
	t.Helper()
	require.NoError(t, repo.CreateBuyer(context.Background(), broker.Buyer{
		ID:        id,
		SellerID:  seller,
		Name:      "Buyer " + string(id),
		Email:     string(id) + "@example.com",
		Status:    broker.BuyerActive,
		CreatedAt: base,
	}))
}

func seedLead(t *testing.T, repo broker.Repository, id broker.LeadID, seller broker.SellerID, price string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.CreateLead(context.Background(), broker.Lead{
		ID:        id,
		SellerID:  seller,
		LeadType:  "Auto",
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
		Phone:     "555-1000",
		State:     "CA",
		Price:     dec(price),
		Status:    broker.LeadUnassigned,
		CreatedAt: at,
	}))
}

func fund(t *testing.T, repo broker.Repository, id broker.BuyerID, amount string) {
	t.Helper()
	err := repo.WithTx(context.Background(), func(s broker.Store) error {
		ok, err := s.CreditWallet(context.Background(), id, dec(amount))
		if err != nil {
			return err
		}
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func balance(t *testing.T, repo broker.Repository, id broker.BuyerID) string {
	t.Helper()
	b, err := repo.GetBuyer(context.Background(), id)
	require.NoError(t, err)
	return b.WalletBalance.StringFixed(broker.MoneyScale)
}

func testClaimLead(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	seedBuyer(t, repo, "b2", "s1")
	seedLead(t, repo, "l1", "s1", "40", base)

	var first, second bool
	require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
		var err error
		first, err = s.ClaimLead(ctx, "l1", "b1")
		if err != nil {
			return err
		}
		second, err = s.ClaimLead(ctx, "l1", "b2")
		return err
	}))

	assert.True(t, first)
	assert.False(t, second, "a sold lead cannot be claimed again")

	got, err := repo.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, broker.LeadSold, got.Status)
	assert.True(t, got.SoldTo("b1"))
}

func testDebitWallet(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	fund(t, repo, "b1", "100")

	debit := func(amount string) bool {
		var ok bool
		require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
			var err error
			ok, err = s.DebitWallet(ctx, "b1", dec(amount))
			return err
		}))
		return ok
	}

	assert.False(t, debit("100.01"), "more than the balance")
	assert.True(t, debit("40"))
	assert.True(t, debit("60"), "exactly the balance")
	assert.Equal(t, "0.00", balance(t, repo, "b1"))

	fund(t, repo, "b1", "10")
	require.NoError(t, repo.SetBuyerStatus(ctx, "b1", broker.BuyerPaused))
	assert.False(t, debit("1"), "paused buyers are not charged")
	assert.Equal(t, "10.00", balance(t, repo, "b1"))
}

func testCreditUnknownBuyer(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	var ok bool
	require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
		var err error
		ok, err = s.CreditWallet(ctx, "missing", dec("10"))
		return err
	}))
	assert.False(t, ok)
}

func testDuplicatePurchase(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	seedLead(t, repo, "l1", "s1", "40", base)

	insert := func(id broker.PurchaseID) error {
		return repo.WithTx(ctx, func(s broker.Store) error {
			return s.InsertPurchase(ctx, broker.LeadPurchase{
				ID: id, LeadID: "l1", BuyerID: "b1", Price: dec("40"), PurchasedAt: base,
			})
		})
	}

	require.NoError(t, insert("p1"))
	err := insert("p2")
	assert.ErrorIs(t, err, broker.ErrAlreadySold)

	p, err := repo.GetPurchaseByLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, broker.PurchaseID("p1"), p.ID)
	assert.True(t, p.Price.Equal(dec("40")))
}

func testRollback(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	seedLead(t, repo, "l1", "s1", "40", base)
	fund(t, repo, "b1", "100")

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(s broker.Store) error {
		if _, err := s.ClaimLead(ctx, "l1", "b1"); err != nil {
			return err
		}
		if _, err := s.DebitWallet(ctx, "b1", dec("40")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, broker.LeadUnassigned, got.Status)
	assert.Nil(t, got.AssignedBuyerID)
	assert.Equal(t, "100.00", balance(t, repo, "b1"))
}

func testCancelled(t *testing.T, repo broker.Repository) {
	seedBuyer(t, repo, "b1", "s1")
	fund(t, repo, "b1", "100")

	ctx, cancel := context.WithCancel(context.Background())
	err := repo.WithTx(ctx, func(s broker.Store) error {
		if _, err := s.DebitWallet(ctx, "b1", dec("40")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "100.00", balance(t, repo, "b1"))
}

func testLedger(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")

	entries := []broker.WalletTransaction{
		{ID: "t1", BuyerID: "b1", Amount: dec("100"), Type: broker.WalletCredit, Reason: broker.ReasonManualCredit, CreatedAt: base},
		{ID: "t2", BuyerID: "b1", Amount: dec("-40"), Type: broker.WalletDebit, Reason: broker.ReasonLeadPurchase,
			Meta: map[string]string{"leadId": "l1"}, CreatedAt: base},
		{ID: "t3", BuyerID: "b1", Amount: dec("5.25"), Type: broker.WalletCredit, Reason: "top_up", CreatedAt: base},
	}
	require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
		for _, e := range entries {
			if err := s.AppendLedger(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := repo.ListLedger(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range entries {
		assert.Equal(t, e.ID, got[i].ID, "insertion order is replay order")
		assert.True(t, e.Amount.Equal(got[i].Amount))
		assert.Equal(t, e.Type, got[i].Type)
		assert.Equal(t, e.Reason, got[i].Reason)
	}
	assert.Equal(t, "l1", got[1].Meta["leadId"])

	sum, err := broker.Replay(got)
	require.NoError(t, err)
	assert.Equal(t, "65.25", sum.StringFixed(2))

	empty, err := repo.ListLedger(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testNotFound(t *testing.T, repo broker.Repository) {
	ctx := context.Background()

	_, err := repo.GetLead(ctx, "missing")
	assert.ErrorIs(t, err, broker.ErrLeadNotFound)
	assert.True(t, broker.IsNotFound(err))

	_, err = repo.GetBuyer(ctx, "missing")
	assert.ErrorIs(t, err, broker.ErrBuyerNotFound)

	_, err = repo.GetPurchaseByLead(ctx, "missing")
	assert.ErrorIs(t, err, broker.ErrNotFound)

	assert.ErrorIs(t, repo.SetBuyerStatus(ctx, "missing", broker.BuyerPaused), broker.ErrBuyerNotFound)
}

func testLeads(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	seedLead(t, repo, "l1", "s1", "10", base)
	seedLead(t, repo, "l2", "s1", "20.50", base.Add(time.Minute))
	seedLead(t, repo, "l3", "s1", "30", base.Add(2*time.Minute))
	seedLead(t, repo, "x1", "s2", "10", base.Add(3*time.Minute))

	err := repo.CreateLead(ctx, broker.Lead{
		ID: "l1", SellerID: "s1", LeadType: "Auto", FirstName: "A", LastName: "B",
		Email: "a@example.com", Phone: "1", State: "CA", Price: dec("1"), CreatedAt: base,
	})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument, "duplicate id")

	require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
		_, err := s.ClaimLead(ctx, "l2", "b1")
		return err
	}))

	all, err := repo.ListLeads(ctx, broker.LeadFilter{SellerID: "s1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, broker.LeadID("l3"), all[0].ID, "newest first")
	assert.Equal(t, broker.LeadID("l1"), all[2].ID)
	assert.True(t, all[1].Price.Equal(dec("20.50")))

	open, err := repo.ListLeads(ctx, broker.LeadFilter{SellerID: "s1", Status: broker.LeadUnassigned})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	limited, err := repo.ListLeads(ctx, broker.LeadFilter{SellerID: "s1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, broker.LeadID("l3"), limited[0].ID)

	everyone, err := repo.ListLeads(ctx, broker.LeadFilter{Status: broker.LeadUnassigned})
	require.NoError(t, err)
	assert.Len(t, everyone, 3, "an empty seller matches every seller")
}

func testBuyersAndCampaigns(t *testing.T, repo broker.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.CreateBuyer(ctx, broker.Buyer{
		ID: "b1", SellerID: "s1", Name: "Alpha", Email: "a@example.com",
		Status: broker.BuyerActive, WalletBalance: dec("999"), CreatedAt: base,
	}))
	seedBuyer(t, repo, "b2", "s1")
	seedBuyer(t, repo, "b3", "s2")
	assert.Equal(t, "0.00", balance(t, repo, "b1"), "wallets start empty")

	buyers, err := repo.ListBuyers(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, buyers, 2)
	assert.Equal(t, broker.BuyerID("b1"), buyers[0].ID)

	maxPrice := dec("75.50")
	capDay := 20
	require.NoError(t, repo.SaveCampaign(ctx, broker.Campaign{
		ID: "c1", BuyerID: "b1", Name: "Life", Status: broker.CampaignActive,
		LeadTypes: []string{"Term Life", "Final Expense"}, States: []string{"CA", "TX"},
		MaxPrice: &maxPrice, DailyCap: &capDay,
	}))
	require.NoError(t, repo.SaveCampaign(ctx, broker.Campaign{
		ID: "c2", BuyerID: "b3", Name: "Other", Status: broker.CampaignActive,
		LeadTypes: []string{"Auto"}, States: []string{"CA"},
	}))
	err = repo.SaveCampaign(ctx, broker.Campaign{
		ID: "c3", BuyerID: "missing", Status: broker.CampaignActive,
		LeadTypes: []string{"Auto"}, States: []string{"CA"},
	})
	assert.ErrorIs(t, err, broker.ErrBuyerNotFound)

	campaigns, err := repo.ListCampaigns(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	c := campaigns[0]
	assert.Equal(t, []string{"Term Life", "Final Expense"}, c.LeadTypes)
	assert.Equal(t, []string{"CA", "TX"}, c.States)
	require.NotNil(t, c.MaxPrice)
	assert.Equal(t, "75.50", c.MaxPrice.StringFixed(2))
	require.NotNil(t, c.DailyCap)
	assert.Equal(t, 20, *c.DailyCap)

	fund(t, repo, "b1", "12.34")
	candidates, err := repo.ListCandidates(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, candidates, 1, "only campaigns of the seller's buyers")
	assert.Equal(t, broker.CampaignID("c1"), candidates[0].Campaign.ID)
	assert.Equal(t, "12.34", candidates[0].Buyer.WalletBalance.StringFixed(2))
	assert.Equal(t, broker.SellerID("s1"), candidates[0].Buyer.SellerID)
}

func testPurchases(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	seedLead(t, repo, "l1", "s1", "10", base)
	seedLead(t, repo, "l2", "s1", "20", base)

	require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
		if err := s.InsertPurchase(ctx, broker.LeadPurchase{ID: "p1", LeadID: "l1", BuyerID: "b1", Price: dec("10"), PurchasedAt: base}); err != nil {
			return err
		}
		return s.InsertPurchase(ctx, broker.LeadPurchase{ID: "p2", LeadID: "l2", BuyerID: "b1", Price: dec("20"), PurchasedAt: base.Add(time.Hour)})
	}))

	got, err := repo.ListPurchases(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, broker.PurchaseID("p2"), got[0].ID, "most recent first")
	assert.True(t, got[0].PurchasedAt.Equal(base.Add(time.Hour)))

	none, err := repo.ListPurchases(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLeadEdits(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	seedLead(t, repo, "l1", "s1", "40", base)
	seedLead(t, repo, "l2", "s1", "25", base)

	// GIVEN an unassigned lead
	// WHEN every editable field changes, with a status smuggled in
	edit := broker.Lead{
		ID: "l1", LeadType: "Medicare", FirstName: "Jane", LastName: "Roe",
		Email: "jane@example.com", Phone: "555-2000", State: "TX", Price: dec("45.50"),
		Status: broker.LeadSold, AssignedBuyerID: ptr(broker.BuyerID("b1")),
	}
	require.NoError(t, repo.UpdateLead(ctx, edit))

	// THEN the fields change but status and buyer stay as they were
	got, err := repo.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Medicare", got.LeadType)
	assert.Equal(t, "Jane", got.FirstName)
	assert.Equal(t, "Roe", got.LastName)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "555-2000", got.Phone)
	assert.Equal(t, "TX", got.State)
	assert.Equal(t, "45.50", got.Price.StringFixed(2))
	assert.Equal(t, broker.LeadUnassigned, got.Status)
	assert.Nil(t, got.AssignedBuyerID)
	assert.Equal(t, broker.SellerID("s1"), got.SellerID)

	// GIVEN a sold lead
	require.NoError(t, repo.WithTx(ctx, func(s broker.Store) error {
		_, err := s.ClaimLead(ctx, "l2", "b1")
		return err
	}))

	// WHEN its contact fields change at the same price
	require.NoError(t, repo.UpdateLead(ctx, broker.Lead{
		ID: "l2", LeadType: "Auto", FirstName: "John", LastName: "Doe",
		Email: "john.doe@example.com", Phone: "555-1000", State: "CA", Price: dec("25.00"),
	}))

	// THEN it stays sold to the same buyer
	sold, err := repo.GetLead(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, "john.doe@example.com", sold.Email)
	assert.True(t, sold.SoldTo("b1"))

	// WHEN its price changes
	err = repo.UpdateLead(ctx, broker.Lead{
		ID: "l2", LeadType: "Auto", FirstName: "John", LastName: "Doe",
		Email: "john.doe@example.com", Phone: "555-1000", State: "CA", Price: dec("30"),
	})

	// THEN the write is refused and nothing changes
	assert.ErrorIs(t, err, broker.ErrConflict)
	sold, err = repo.GetLead(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, "25.00", sold.Price.StringFixed(2))

	assert.ErrorIs(t, repo.UpdateLead(ctx, broker.Lead{ID: "missing", Price: dec("1")}), broker.ErrLeadNotFound)
}

func testBuyerEdits(t *testing.T, repo broker.Repository) {
	ctx := context.Background()
	seedBuyer(t, repo, "b1", "s1")
	fund(t, repo, "b1", "80")

	// GIVEN a funded buyer
	// WHEN the profile changes along with a smuggled status and balance
	require.NoError(t, repo.UpdateBuyer(ctx, broker.Buyer{
		ID: "b1", Name: "Alpha Prime", Email: "prime@example.com", Phone: "555-3000",
		Status: broker.BuyerDisabled, WalletBalance: dec("1000"),
	}))

	// THEN only name, email and phone change
	got, err := repo.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", got.Name)
	assert.Equal(t, "prime@example.com", got.Email)
	assert.Equal(t, "555-3000", got.Phone)
	assert.Equal(t, broker.BuyerActive, got.Status)
	assert.Equal(t, "80.00", got.WalletBalance.StringFixed(2))
	assert.Equal(t, broker.SellerID("s1"), got.SellerID)

	assert.ErrorIs(t, repo.UpdateBuyer(ctx, broker.Buyer{ID: "missing", Name: "X"}), broker.ErrBuyerNotFound)
}

func testSubSecondOrdering(t *testing.T, repo broker.Repository) {
	ctx := context.Background()

	// GIVEN two leads created within the same second, the earlier on
	// the whole second
	seedLead(t, repo, "early", "s1", "10", base.Add(5*time.Second))
	seedLead(t, repo, "late", "s1", "10", base.Add(5*time.Second+500*time.Millisecond))

	// WHEN listing newest first
	leads, err := repo.ListLeads(ctx, broker.LeadFilter{SellerID: "s1"})

	// THEN the fractional second orders them
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, broker.LeadID("late"), leads[0].ID)
	assert.Equal(t, broker.LeadID("early"), leads[1].ID)
	assert.True(t, leads[0].CreatedAt.Equal(base.Add(5*time.Second+500*time.Millisecond)))
}

func ptr[T any](v T) *T { return &v }
