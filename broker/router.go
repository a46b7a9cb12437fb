/*
router.go - Auto-assign orchestration

PURPOSE:
  Composes the matcher and the assignment transaction:

    lead not unassigned  -> return it as is
    no eligible buyer    -> return it unchanged (steady state, not an error)
    buyer selected       -> AssignLeadToBuyer, propagate result or error

RE-MATCHING:
  The matcher reads a snapshot. If the selected buyer lost eligibility by
  the time the transaction ran (wallet drained, buyer paused), the lead is
  matched again against fresh state, up to Retry.MaxAttempts rounds. Other
  business errors are returned to the caller unchanged.
*/
package broker

import (
	"context"
	"errors"
)

// AutoAssign sells a lead to the best eligible buyer, if any.
func (e *Engine) AutoAssign(ctx context.Context, leadID LeadID) (*Lead, error) {
	rounds := e.Retry.MaxAttempts
	if rounds < 1 {
		rounds = 1
	}

	var lastErr error
	for i := 0; i < rounds; i++ {
		lead, err := e.Store.GetLead(ctx, leadID)
		if err != nil {
			return nil, err
		}
		if lead.Status != LeadUnassigned {
			return lead, nil
		}

		sel, err := e.Matcher.SelectBuyer(ctx, lead)
		if err != nil {
			return nil, err
		}
		if !sel.Found {
			e.logger().InfoContext(ctx, "no eligible buyer for lead",
				"module", "broker.router",
				"operation", "auto_assign",
				"outcome", "unmatched",
				"lead_id", leadID,
			)
			return lead, nil
		}

		result, err := e.AssignLeadToBuyer(ctx, leadID, sel.BuyerID)
		if err == nil {
			return &result.Lead, nil
		}
		if !lostEligibility(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// lostEligibility reports errors caused by a stale matcher snapshot.
func lostEligibility(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrBuyerInactive)
}
