/*
assignment.go - The atomic sale of a lead to a buyer

PURPOSE:
  AssignLeadToBuyer moves lead.Price from the buyer's wallet into a purchase
  record and marks the lead sold. Four writes, one transaction:

    1. ClaimLead      lead -> sold           (guard: status = unassigned)
    2. DebitWallet    balance -= price       (guard: active AND balance >= price)
    3. InsertPurchase one row per lead       (unique lead id)
    4. AppendLedger   -price, debit, "lead_purchase", {leadId}

PRECONDITIONS (checked inside the transaction, in this order):
  1. lead exists                              else ErrLeadNotFound
  2. sold to this buyer already               -> return existing state, no writes
  3. sold to another buyer                    else ErrAlreadySold
  4. buyer exists                             else ErrBuyerNotFound
  5. buyer active                             else ErrBuyerInactive
  6. balance >= price                         else ErrInsufficientFunds

CONCURRENCY:
  The precondition reads give precise errors; the guards in the writes give
  correctness. If another transaction sold the lead first, ClaimLead matches
  zero rows and the attempt fails with ErrConflict (a retry then reports
  ErrAlreadySold or the idempotent replay). If the wallet was drained, the
  debit matches zero rows and the attempt fails with ErrInsufficientFunds
  even though the pre-check passed.

  The lead row is always locked before the buyer row, so two sales never
  wait on each other in opposite order.
*/
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AssignLeadToBuyer sells a lead to a specific buyer. Retryable failures are
// retried under e.Retry; repeats after success are idempotent.
func (e *Engine) AssignLeadToBuyer(ctx context.Context, leadID LeadID, buyerID BuyerID) (*Assignment, error) {
	var result *Assignment
	err := e.Retry.Do(ctx, IsRetryable, func() error {
		var err error
		result, err = e.assignOnce(ctx, leadID, buyerID)
		return err
	})
	if err != nil {
		e.logger().WarnContext(ctx, "lead assignment failed",
			"module", "broker.assignment",
			"operation", "assign_lead_to_buyer",
			"outcome", "failure",
			"lead_id", leadID,
			"buyer_id", buyerID,
			"error", err,
		)
		return nil, err
	}

	if result.Replayed {
		return result, nil
	}
	e.logger().InfoContext(ctx, "lead sold",
		"module", "broker.assignment",
		"operation", "assign_lead_to_buyer",
		"outcome", "success",
		"lead_id", leadID,
		"buyer_id", buyerID,
		"price", result.Purchase.Price.StringFixed(MoneyScale),
	)
	e.publishLeadSold(ctx, result)
	return result, nil
}

func (e *Engine) assignOnce(ctx context.Context, leadID LeadID, buyerID BuyerID) (*Assignment, error) {
	var out *Assignment
	err := e.Store.WithTx(ctx, func(s Store) error {
		lead, err := s.GetLead(ctx, leadID)
		if err != nil {
			return err
		}

		if lead.SoldTo(buyerID) {
			out, err = currentAssignment(ctx, s, lead, buyerID)
			return err
		}
		if lead.IsSold() {
			soldTo := BuyerID("")
			if lead.AssignedBuyerID != nil {
				soldTo = *lead.AssignedBuyerID
			}
			return &AlreadySoldError{LeadID: leadID, SoldTo: soldTo, Requested: buyerID}
		}
		if !lead.Price.IsPositive() {
			return &ValidationError{Field: "price", Message: fmt.Sprintf("lead %s has non-positive price %s", leadID, lead.Price)}
		}

		buyer, err := s.GetBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		if buyer.Status != BuyerActive {
			return fmt.Errorf("buyer %s is %s: %w", buyerID, buyer.Status, ErrBuyerInactive)
		}
		if buyer.WalletBalance.LessThan(lead.Price) {
			return &InsufficientFundsError{BuyerID: buyerID, Available: buyer.WalletBalance, Requested: lead.Price}
		}

		claimed, err := s.ClaimLead(ctx, leadID, buyerID)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("lead %s changed during assignment: %w", leadID, ErrConflict)
		}

		debited, err := s.DebitWallet(ctx, buyerID, lead.Price)
		if err != nil {
			return err
		}
		if !debited {
			return debitRejection(ctx, s, buyerID, lead)
		}

		purchase := LeadPurchase{
			ID:          PurchaseID(uuid.NewString()),
			LeadID:      leadID,
			BuyerID:     buyerID,
			Price:       lead.Price,
			PurchasedAt: e.now(),
		}
		if err := s.InsertPurchase(ctx, purchase); err != nil {
			return err
		}
		if err := s.AppendLedger(ctx, e.Ledger.DebitEntry(buyerID, lead.Price, leadID)); err != nil {
			return err
		}

		updated, err := s.GetBuyer(ctx, buyerID)
		if err != nil {
			return err
		}
		lead.Status = LeadSold
		lead.AssignedBuyerID = &buyerID
		out = &Assignment{Lead: *lead, Buyer: *updated, Purchase: purchase}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// currentAssignment loads the state of a lead already sold to buyerID.
func currentAssignment(ctx context.Context, s Store, lead *Lead, buyerID BuyerID) (*Assignment, error) {
	buyer, err := s.GetBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	purchase, err := s.GetPurchaseByLead(ctx, lead.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("lead %s is sold without a purchase record: %w", lead.ID, ErrConflict)
		}
		return nil, err
	}
	return &Assignment{Lead: *lead, Buyer: *buyer, Purchase: *purchase, Replayed: true}, nil
}

// debitRejection explains why the guarded debit matched no row.
func debitRejection(ctx context.Context, s Store, buyerID BuyerID, lead *Lead) error {
	buyer, err := s.GetBuyer(ctx, buyerID)
	if err != nil {
		return err
	}
	if buyer.Status != BuyerActive {
		return fmt.Errorf("buyer %s is %s: %w", buyerID, buyer.Status, ErrBuyerInactive)
	}
	return &InsufficientFundsError{BuyerID: buyerID, Available: buyer.WalletBalance, Requested: lead.Price}
}

func (e *Engine) publishLeadSold(ctx context.Context, a *Assignment) {
	ev := LeadSoldEvent{
		LeadID:      a.Lead.ID,
		SellerID:    a.Lead.SellerID,
		BuyerID:     a.Buyer.ID,
		PurchaseID:  a.Purchase.ID,
		Price:       a.Purchase.Price.StringFixed(MoneyScale),
		BalanceLeft: a.Buyer.WalletBalance.StringFixed(MoneyScale),
		PurchasedAt: a.Purchase.PurchasedAt,
	}
	if err := e.events().PublishLeadSold(ctx, ev); err != nil {
		e.logger().ErrorContext(ctx, "failed to publish lead sold event",
			"module", "broker.assignment",
			"operation", "publish_lead_sold",
			"outcome", "failure",
			"lead_id", a.Lead.ID,
			"error", err,
		)
	}
}
