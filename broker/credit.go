package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CreditBuyer adds amount to a buyer's wallet and appends the matching
// credit entry, atomically. Paused and disabled buyers can be credited.
// Ownership of the buyer is checked by the caller.
//
// Only ErrConflict is retried: a conflict guarantees the attempt rolled
// back, while a storage error at commit time might hide a committed credit.
func (e *Engine) CreditBuyer(ctx context.Context, buyerID BuyerID, amount decimal.Decimal, reason string) (*Buyer, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return nil, &ValidationError{Field: "amount", Message: "at most two decimal places"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonManualCredit
	}

	var (
		buyer *Buyer
		entry WalletTransaction
	)
	err := e.Retry.Do(ctx, isConflict, func() error {
		entry = e.Ledger.CreditEntry(buyerID, amount, reason)
		return e.Store.WithTx(ctx, func(s Store) error {
			ok, err := s.CreditWallet(ctx, buyerID, amount)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("buyer %s: %w", buyerID, ErrBuyerNotFound)
			}
			if err := s.AppendLedger(ctx, entry); err != nil {
				return err
			}
			buyer, err = s.GetBuyer(ctx, buyerID)
			return err
		})
	})
	if err != nil {
		e.logger().WarnContext(ctx, "wallet credit failed",
			"module", "broker.credit",
			"operation", "credit_buyer",
			"outcome", "failure",
			"buyer_id", buyerID,
			"error", err,
		)
		return nil, err
	}

	e.logger().InfoContext(ctx, "wallet credited",
		"module", "broker.credit",
		"operation", "credit_buyer",
		"outcome", "success",
		"buyer_id", buyerID,
		"amount", amount.StringFixed(MoneyScale),
		"reason", reason,
	)
	if err := e.events().PublishWalletCredited(ctx, WalletCreditedEvent{
		BuyerID:       buyerID,
		TransactionID: entry.ID,
		Amount:        amount.StringFixed(MoneyScale),
		Reason:        reason,
		Balance:       buyer.WalletBalance.StringFixed(MoneyScale),
		CreatedAt:     entry.CreatedAt,
	}); err != nil {
		e.logger().ErrorContext(ctx, "failed to publish wallet credited event",
			"module", "broker.credit",
			"operation", "publish_wallet_credited",
			"outcome", "failure",
			"buyer_id", buyerID,
			"error", err,
		)
	}
	return buyer, nil
}

func isConflict(err error) bool { return errors.Is(err, ErrConflict) }
