package broker_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-exchange/broker"
	"github.com/warp/lead-exchange/broker/store"
)

// =============================================================================
// ASSIGN LEAD TO BUYER
// =============================================================================

func TestAssignLeadToBuyer_Success(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: An active buyer with 100.00 and a 40.00 lead
			f := newFixture(t, open(t))
			b := f.buyer("Alpha Insurance", "100")
			l := f.lead("Auto", "CA", "40")

			// WHEN: The lead is sold to the buyer
			a, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

			// THEN: Lead, wallet, purchase and ledger all agree
			require.NoError(t, err)
			assert.False(t, a.Replayed)
			assert.True(t, a.Lead.SoldTo(b.ID))
			assert.Equal(t, "60.00", a.Buyer.WalletBalance.StringFixed(2))
			assert.Equal(t, l.ID, a.Purchase.LeadID)
			assert.True(t, a.Purchase.Price.Equal(dec("40")))

			stored, err := f.repo.GetLead(f.ctx, l.ID)
			require.NoError(t, err)
			assert.True(t, stored.SoldTo(b.ID))
			assert.Equal(t, "60.00", f.balance(b.ID))

			entries, err := f.repo.ListLedger(f.ctx, b.ID)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			last := entries[1]
			assert.Equal(t, broker.WalletDebit, last.Type)
			assert.Equal(t, broker.ReasonLeadPurchase, last.Reason)
			assert.True(t, last.Amount.Equal(dec("-40")))
			assert.Equal(t, string(l.ID), last.Meta["leadId"])
			f.requireConsistent(b.ID)

			require.Len(t, f.events.sold, 1)
			assert.Equal(t, "40.00", f.events.sold[0].Price)
			assert.Equal(t, "60.00", f.events.sold[0].BalanceLeft)
		})
	}
}

func TestAssignLeadToBuyer_IdempotentReplay(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A lead already sold to buyer A
			f := newFixture(t, open(t))
			b := f.buyer("Alpha Insurance", "100")
			l := f.lead("Auto", "CA", "40")
			first, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)
			require.NoError(t, err)

			// WHEN: The same assignment is requested again
			again, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

			// THEN: Current state comes back and nothing is written twice
			require.NoError(t, err)
			assert.True(t, again.Replayed)
			assert.Equal(t, first.Purchase.ID, again.Purchase.ID)
			assert.Equal(t, "60.00", f.balance(b.ID))

			entries, err := f.repo.ListLedger(f.ctx, b.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 2)
			assert.Equal(t, 1, f.events.soldCount(), "replays publish nothing")
		})
	}
}

func TestAssignLeadToBuyer_BusinessErrors(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, open(t))
			rich := f.buyer("Rich Buyer", "100")
			poor := f.buyer("Poor Buyer", "30")
			paused := f.buyer("Paused Buyer", "100")
			require.NoError(t, f.svc.SetBuyerStatus(f.ctx, paused.ID, broker.BuyerPaused))

			l := f.lead("Auto", "CA", "50")

			// Insufficient funds: 30 < 50
			_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, poor.ID)
			var funds *broker.InsufficientFundsError
			require.ErrorAs(t, err, &funds)
			assert.Equal(t, "20.00", funds.Shortfall().StringFixed(2))

			// Paused buyer
			_, err = f.engine().AssignLeadToBuyer(f.ctx, l.ID, paused.ID)
			assert.ErrorIs(t, err, broker.ErrBuyerInactive)

			// Unknown lead and buyer
			_, err = f.engine().AssignLeadToBuyer(f.ctx, "missing", rich.ID)
			assert.ErrorIs(t, err, broker.ErrLeadNotFound)
			_, err = f.engine().AssignLeadToBuyer(f.ctx, l.ID, "missing")
			assert.ErrorIs(t, err, broker.ErrBuyerNotFound)

			// Nothing moved
			assert.Equal(t, "30.00", f.balance(poor.ID))
			assert.Equal(t, "100.00", f.balance(paused.ID))
			stored, err := f.repo.GetLead(f.ctx, l.ID)
			require.NoError(t, err)
			assert.Equal(t, broker.LeadUnassigned, stored.Status)

			// Sold to rich, then requested for poor
			_, err = f.engine().AssignLeadToBuyer(f.ctx, l.ID, rich.ID)
			require.NoError(t, err)
			_, err = f.engine().AssignLeadToBuyer(f.ctx, l.ID, poor.ID)
			var sold *broker.AlreadySoldError
			require.ErrorAs(t, err, &sold)
			assert.Equal(t, rich.ID, sold.SoldTo)
			assert.Equal(t, poor.ID, sold.Requested)
			assert.Equal(t, "50.00", f.balance(rich.ID))
		})
	}
}

func TestAssignLeadToBuyer_RetriesConflicts(t *testing.T) {
	// GIVEN: A store whose first two transactions conflict
	repo := store.NewMemory()
	f := newFixture(t, repo)
	b := f.buyer("Alpha Insurance", "100")
	l := f.lead("Auto", "CA", "40")

	flaky := &conflictingStore{TxStore: repo, remaining: 2}
	f.engine().Store = flaky

	// WHEN: Assigning
	a, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

	// THEN: The third attempt commits exactly once
	require.NoError(t, err)
	assert.False(t, a.Replayed)
	assert.Equal(t, 3, flaky.attempts)
	assert.Equal(t, "60.00", f.balance(b.ID))
}

func TestAssignLeadToBuyer_ConflictsExhaustRetries(t *testing.T) {
	repo := store.NewMemory()
	f := newFixture(t, repo)
	b := f.buyer("Alpha Insurance", "100")
	l := f.lead("Auto", "CA", "40")

	flaky := &conflictingStore{TxStore: repo, remaining: 100}
	f.engine().Store = flaky

	_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

	assert.ErrorIs(t, err, broker.ErrConflict)
	assert.Equal(t, f.engine().Retry.MaxAttempts, flaky.attempts)
	assert.Equal(t, "100.00", f.balance(b.ID))
}

func TestAssignLeadToBuyer_PublishFailureKeepsSale(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	f.events.err = errors.New("broker unreachable")
	b := f.buyer("Alpha Insurance", "100")
	l := f.lead("Auto", "CA", "40")

	a, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

	require.NoError(t, err)
	assert.True(t, a.Lead.SoldTo(b.ID))
	assert.Equal(t, "60.00", f.balance(b.ID))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAssignLeadToBuyer_ConcurrentBuyersOneLead(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: Eight funded buyers racing for one lead
			f := newFixture(t, open(t))
			l := f.lead("Auto", "CA", "25")
			var buyers []*broker.Buyer
			for i := 0; i < 8; i++ {
				buyers = append(buyers, f.buyer("Racing Buyer", "100"))
			}

			// WHEN: All try to buy it at once
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners []broker.BuyerID
				errs    []error
			)
			for _, b := range buyers {
				wg.Add(1)
				go func(id broker.BuyerID) {
					defer wg.Done()
					_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, id)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						winners = append(winners, id)
						return
					}
					errs = append(errs, err)
				}(b.ID)
			}
			wg.Wait()

			// THEN: Exactly one wins, the rest see the lead as sold
			require.Len(t, winners, 1)
			for _, err := range errs {
				assert.ErrorIs(t, err, broker.ErrAlreadySold)
			}

			purchases := 0
			for _, b := range buyers {
				ps, err := f.repo.ListPurchases(f.ctx, b.ID)
				require.NoError(t, err)
				purchases += len(ps)
				if b.ID == winners[0] {
					assert.Equal(t, "75.00", f.balance(b.ID))
				} else {
					assert.Equal(t, "100.00", f.balance(b.ID))
				}
				f.requireConsistent(b.ID)
			}
			assert.Equal(t, 1, purchases)
		})
	}
}

func TestAssignLeadToBuyer_ConcurrentLeadsOneWallet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A buyer with 100.00 and ten 30.00 leads
			f := newFixture(t, open(t))
			b := f.buyer("Alpha Insurance", "100")
			var leads []broker.Lead
			for i := 0; i < 10; i++ {
				leads = append(leads, f.lead("Auto", "CA", "30"))
			}

			// WHEN: All leads are sold to the buyer concurrently
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				sold int
			)
			for _, l := range leads {
				wg.Add(1)
				go func(id broker.LeadID) {
					defer wg.Done()
					_, err := f.engine().AssignLeadToBuyer(f.ctx, id, b.ID)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						sold++
						return
					}
					assert.ErrorIs(t, err, broker.ErrInsufficientFunds)
				}(l.ID)
			}
			wg.Wait()

			// THEN: Only three fit, the wallet never went negative and the
			// ledger matches
			assert.Equal(t, 3, sold)
			assert.Equal(t, "10.00", f.balance(b.ID))
			f.requireConsistent(b.ID)

			ps, err := f.repo.ListPurchases(f.ctx, b.ID)
			require.NoError(t, err)
			assert.Len(t, ps, 3)
		})
	}
}

// =============================================================================
// CONDITIONAL WRITES BEHIND A STALE READ
// =============================================================================

func TestAssignLeadToBuyer_DebitGuardCatchesSpentBalance(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A buyer holding 30.00 whose in-transaction read still shows 1000.00
			repo := &staleStore{Repository: open(t)}
			f := newFixture(t, repo)
			b := f.buyer("Alpha Insurance", "30")
			l := f.lead("Auto", "CA", "40")
			stale := *b
			stale.WalletBalance = dec("1000")
			repo.buyer = &stale
			before := repo.transactions()

			// WHEN: The lead is sold to the buyer
			_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

			// THEN: The guarded debit refuses with the real balance
			var insufficient *broker.InsufficientFundsError
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, "30.00", insufficient.Available.StringFixed(2))
			assert.Equal(t, "40.00", insufficient.Requested.StringFixed(2))
			assert.Equal(t, 1, repo.transactions()-before, "funds errors are not retried")

			// AND: The claim made before the debit is rolled back
			stored, err := f.repo.GetLead(f.ctx, l.ID)
			require.NoError(t, err)
			assert.Equal(t, broker.LeadUnassigned, stored.Status)
			assert.Nil(t, stored.AssignedBuyerID)
			_, err = f.repo.GetPurchaseByLead(f.ctx, l.ID)
			assert.ErrorIs(t, err, broker.ErrNotFound)
			assert.Equal(t, "30.00", f.balance(b.ID))
			entries, err := f.repo.ListLedger(f.ctx, b.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 1)
			f.requireConsistent(b.ID)
			assert.Zero(t, f.events.soldCount())
		})
	}
}

func TestAssignLeadToBuyer_DebitGuardCatchesPausedBuyer(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A paused buyer whose in-transaction read still shows it active
			repo := &staleStore{Repository: open(t)}
			f := newFixture(t, repo)
			b := f.buyer("Alpha Insurance", "100")
			l := f.lead("Auto", "CA", "40")
			stale := *b
			require.NoError(t, f.svc.SetBuyerStatus(f.ctx, b.ID, broker.BuyerPaused))
			repo.buyer = &stale

			// WHEN: The lead is sold to the buyer
			_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)

			// THEN: The buyer is reported inactive and nothing is written
			assert.ErrorIs(t, err, broker.ErrBuyerInactive)
			stored, err := f.repo.GetLead(f.ctx, l.ID)
			require.NoError(t, err)
			assert.Equal(t, broker.LeadUnassigned, stored.Status)
			assert.Equal(t, "100.00", f.balance(b.ID))
			f.requireConsistent(b.ID)
		})
	}
}

func TestAssignLeadToBuyer_ClaimGuardCatchesSoldLead(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A lead sold to Alpha, read as unassigned by Beta's first attempt
			repo := &staleStore{Repository: open(t)}
			f := newFixture(t, repo)
			alpha := f.buyer("Alpha Insurance", "100")
			beta := f.buyer("Beta Coverage", "100")
			l := f.lead("Auto", "CA", "40")
			_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, alpha.ID)
			require.NoError(t, err)
			stale := l
			repo.lead = &stale
			before := repo.transactions()

			// WHEN: Beta tries to buy it
			_, err = f.engine().AssignLeadToBuyer(f.ctx, l.ID, beta.ID)

			// THEN: The failed claim is retried as a conflict and the retry sees the sale
			var sold *broker.AlreadySoldError
			require.ErrorAs(t, err, &sold)
			assert.Equal(t, alpha.ID, sold.SoldTo)
			assert.Equal(t, 2, repo.transactions()-before)

			// AND: Neither wallet moves
			stored, err := f.repo.GetLead(f.ctx, l.ID)
			require.NoError(t, err)
			assert.True(t, stored.SoldTo(alpha.ID))
			assert.Equal(t, "60.00", f.balance(alpha.ID))
			assert.Equal(t, "100.00", f.balance(beta.ID))
			f.requireConsistent(alpha.ID)
			f.requireConsistent(beta.ID)
			assert.Equal(t, 1, f.events.soldCount())
		})
	}
}
