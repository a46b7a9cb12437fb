package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Entries(t *testing.T) {
	l := NewLedger()

	debit := l.DebitEntry("buyer-a", money("50"), "lead-1")
	assert.Equal(t, WalletDebit, debit.Type)
	assert.True(t, debit.Amount.Equal(money("-50")))
	assert.Equal(t, ReasonLeadPurchase, debit.Reason)
	assert.Equal(t, "lead-1", debit.Meta["leadId"])
	assert.NotEmpty(t, debit.ID)

	credit := l.CreditEntry("buyer-a", money("100"), "top_up")
	assert.Equal(t, WalletCredit, credit.Type)
	assert.True(t, credit.Amount.Equal(money("100")))
	assert.Equal(t, "top_up", credit.Reason)
	assert.NotEqual(t, debit.ID, credit.ID)
}

func TestReplay(t *testing.T) {
	l := NewLedger()

	t.Run("credit then debit", func(t *testing.T) {
		// GIVEN: +100 then -40
		entries := []WalletTransaction{
			l.CreditEntry("buyer-a", money("100"), ReasonManualCredit),
			l.DebitEntry("buyer-a", money("40"), "lead-1"),
		}

		// THEN: The balance replays to 60
		got, err := Replay(entries)
		require.NoError(t, err)
		assert.Equal(t, "60.00", got.StringFixed(MoneyScale))
	})

	t.Run("empty ledger", func(t *testing.T) {
		got, err := Replay(nil)
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("debit before credit goes negative", func(t *testing.T) {
		entries := []WalletTransaction{
			l.DebitEntry("buyer-a", money("40"), "lead-1"),
			l.CreditEntry("buyer-a", money("100"), ReasonManualCredit),
		}
		_, err := Replay(entries)
		assert.Error(t, err)
	})

	t.Run("sign disagrees with type", func(t *testing.T) {
		bad := l.CreditEntry("buyer-a", money("100"), ReasonManualCredit)
		bad.Amount = bad.Amount.Neg()
		_, err := Replay([]WalletTransaction{bad})
		assert.Error(t, err)
	})
}

func TestMoneyHelpers(t *testing.T) {
	assert.Equal(t, int64(4999), ToCents(money("49.99")))
	assert.Equal(t, "49.99", FromCents(4999).StringFixed(MoneyScale))
	assert.Equal(t, "0.10", NewMoney(0.1).StringFixed(MoneyScale))

	d, err := ParseMoney(" 12.5 ")
	require.NoError(t, err)
	assert.Equal(t, "12.50", d.StringFixed(MoneyScale))

	_, err = ParseMoney("1.005")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseMoney("abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestErrorTaxonomy(t *testing.T) {
	insufficient := &InsufficientFundsError{BuyerID: "buyer-a", Available: money("30"), Requested: money("50")}
	assert.ErrorIs(t, insufficient, ErrInsufficientFunds)
	assert.Equal(t, "20.00", insufficient.Shortfall().StringFixed(MoneyScale))
	assert.True(t, IsBusinessRule(insufficient))
	assert.False(t, IsRetryable(insufficient))

	sold := &AlreadySoldError{LeadID: "lead-1", SoldTo: "buyer-a", Requested: "buyer-b"}
	assert.ErrorIs(t, sold, ErrAlreadySold)
	assert.True(t, IsBusinessRule(sold))

	assert.True(t, IsNotFound(ErrLeadNotFound))
	assert.True(t, IsNotFound(ErrBuyerNotFound))
	assert.True(t, IsRetryable(ErrConflict))

	storage := &StorageError{Op: "debit wallet", Err: assert.AnError}
	assert.ErrorIs(t, storage, ErrStorage)
	assert.ErrorIs(t, storage, assert.AnError)
	assert.True(t, IsRetryable(storage))
	assert.False(t, IsBusinessRule(storage))
}
