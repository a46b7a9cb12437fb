/*
matcher.go - Campaign matching

PURPOSE:
  Given an unassigned lead, pick the buyer campaign that should receive it.
  Matching is a pure read: it decides, the Assigner acts. The snapshot it
  reads is not binding; the assignment re-validates inside its transaction.

ELIGIBILITY (all must hold):
  - campaign is active
  - lead.LeadType is one of campaign.LeadTypes
  - lead.State is one of campaign.States
  - campaign.MaxPrice is absent or >= lead.Price
  - buyer belongs to the lead's seller
  - buyer is active and WalletBalance >= lead.Price

TIE-BREAK:
  Highest WalletBalance wins. Equal balances fall back to buyer ID, then
  campaign ID, both ascending, so a fixed snapshot always gives the same pick.

NOT ENFORCED:
  Campaign.DailyCap. It is stored but no rule reads it.
*/
package broker

import (
	"context"
	"sort"
)

// Rejection reasons returned by Eligible.
const (
	RejectLeadNotUnassigned = "lead_not_unassigned"
	RejectCampaignInactive  = "campaign_inactive"
	RejectLeadType          = "lead_type_not_wanted"
	RejectState             = "state_not_wanted"
	RejectOverMaxPrice      = "price_above_max"
	RejectOtherSeller       = "buyer_of_other_seller"
	RejectBuyerInactive     = "buyer_inactive"
	RejectLowBalance        = "balance_below_price"
)

// Selection is the matcher's decision.
type Selection struct {
	Found      bool
	BuyerID    BuyerID
	CampaignID CampaignID
}

// Eligible is the standalone matching predicate. When the candidate is
// rejected, reason names the first rule that failed.
func Eligible(lead *Lead, c Candidate) (ok bool, reason string) {
	switch {
	case lead.Status != LeadUnassigned:
		return false, RejectLeadNotUnassigned
	case c.Campaign.Status != CampaignActive:
		return false, RejectCampaignInactive
	case !c.Campaign.acceptsLeadType(lead.LeadType):
		return false, RejectLeadType
	case !c.Campaign.acceptsState(lead.State):
		return false, RejectState
	case c.Campaign.MaxPrice != nil && c.Campaign.MaxPrice.LessThan(lead.Price):
		return false, RejectOverMaxPrice
	case c.Buyer.SellerID != lead.SellerID:
		return false, RejectOtherSeller
	case c.Buyer.Status != BuyerActive:
		return false, RejectBuyerInactive
	case c.Buyer.WalletBalance.LessThan(lead.Price):
		return false, RejectLowBalance
	}
	return true, ""
}

// SortCandidates orders candidates by selection preference.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if cmp := a.Buyer.WalletBalance.Cmp(b.Buyer.WalletBalance); cmp != 0 {
			return cmp > 0
		}
		if a.Buyer.ID != b.Buyer.ID {
			return a.Buyer.ID < b.Buyer.ID
		}
		return a.Campaign.ID < b.Campaign.ID
	})
}

// Matcher selects buyers for leads.
type Matcher struct {
	reader Reader
}

func NewMatcher(reader Reader) *Matcher {
	return &Matcher{reader: reader}
}

// Rank returns every eligible candidate in selection order. It is the
// dry-run view of SelectBuyer.
func (m *Matcher) Rank(ctx context.Context, lead *Lead) ([]Candidate, error) {
	if lead.Status != LeadUnassigned {
		return nil, nil
	}
	all, err := m.reader.ListCandidates(ctx, lead.SellerID)
	if err != nil {
		return nil, err
	}
	eligible := all[:0:0]
	for _, c := range all {
		if ok, _ := Eligible(lead, c); ok {
			eligible = append(eligible, c)
		}
	}
	SortCandidates(eligible)
	return eligible, nil
}

// SelectBuyer returns the preferred eligible buyer, or a Selection with
// Found=false when there is none. A lead that is not unassigned is a no-op.
func (m *Matcher) SelectBuyer(ctx context.Context, lead *Lead) (Selection, error) {
	ranked, err := m.Rank(ctx, lead)
	if err != nil || len(ranked) == 0 {
		return Selection{}, err
	}
	top := ranked[0]
	return Selection{Found: true, BuyerID: top.Buyer.ID, CampaignID: top.Campaign.ID}, nil
}
