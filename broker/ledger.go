/*
ledger.go - Append-only wallet ledger

PURPOSE:
  Every change to a buyer's wallet is recorded as a WalletTransaction.
  The stored WalletBalance is a running total; the ledger is the proof.
  Replaying a buyer's entries must give back the stored balance.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. SIGNED: credit entries are positive, debit entries are negative
  3. REPLAYABLE: sum(entries.Amount) == Buyer.WalletBalance

EXAMPLE FLOW:
  CreditBuyer 100     -> [+100]        balance 100
  Assign lead at 40   -> [+100, -40]   balance 60
*/
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger builds and audits wallet entries.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// DebitEntry builds the entry that backs a lead purchase.
func (l *Ledger) DebitEntry(buyerID BuyerID, price decimal.Decimal, leadID LeadID) WalletTransaction {
	return WalletTransaction{
		ID:        TransactionID(uuid.NewString()),
		BuyerID:   buyerID,
		Amount:    price.Neg(),
		Type:      WalletDebit,
		Reason:    ReasonLeadPurchase,
		Meta:      map[string]string{"leadId": string(leadID)},
		CreatedAt: l.now(),
	}
}

// CreditEntry builds the entry that backs a manual credit.
func (l *Ledger) CreditEntry(buyerID BuyerID, amount decimal.Decimal, reason string) WalletTransaction {
	return WalletTransaction{
		ID:        TransactionID(uuid.NewString()),
		BuyerID:   buyerID,
		Amount:    amount,
		Type:      WalletCredit,
		Reason:    reason,
		CreatedAt: l.now(),
	}
}

// Replay sums entries in order and fails if the running total ever drops
// below zero or an entry's sign disagrees with its type.
func Replay(entries []WalletTransaction) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range entries {
		switch {
		case e.Type == WalletCredit && !e.Amount.IsPositive(),
			e.Type == WalletDebit && !e.Amount.IsNegative():
			return balance, fmt.Errorf("ledger entry %s: amount %s does not match type %s", e.ID, e.Amount, e.Type)
		}
		balance = balance.Add(e.Amount)
		if balance.IsNegative() {
			return balance, fmt.Errorf("ledger entry %s drives balance negative (%s)", e.ID, balance)
		}
	}
	return balance, nil
}

// Reconciliation compares a buyer's stored balance with its ledger replay.
type Reconciliation struct {
	BuyerID       BuyerID
	StoredBalance decimal.Decimal
	LedgerBalance decimal.Decimal
	Entries       int
	Consistent    bool
	Problem       string
}

// Reconcile reads the buyer and its ledger in one transaction and compares them.
func Reconcile(ctx context.Context, store TxStore, buyerID BuyerID) (Reconciliation, error) {
	var out Reconciliation
	err := store.WithTx(ctx, func(s Store) error {
		buyer, err := s.GetBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		entries, err := s.ListLedger(ctx, buyerID)
		if err != nil {
			return err
		}

		out = Reconciliation{BuyerID: buyerID, StoredBalance: buyer.WalletBalance, Entries: len(entries)}
		sum, replayErr := Replay(entries)
		out.LedgerBalance = sum
		switch {
		case replayErr != nil:
			out.Problem = replayErr.Error()
		case !sum.Equal(buyer.WalletBalance):
			out.Problem = fmt.Sprintf("stored balance %s != ledger sum %s", buyer.WalletBalance, sum)
		default:
			out.Consistent = true
		}
		return nil
	})
	return out, err
}
