package broker

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DashboardWindow is the look-back period of the seller dashboard.
const DashboardWindow = 30 * 24 * time.Hour

// DailyRevenue is the revenue of one UTC day.
type DailyRevenue struct {
	Date    string // YYYY-MM-DD
	Revenue decimal.Decimal
}

// Dashboard summarizes a seller's recent sales.
type Dashboard struct {
	Revenue      decimal.Decimal
	LeadsSold    int
	Unassigned   int
	ActiveBuyers int
	RevenueByDay []DailyRevenue
	Recent       []LeadPurchase
}

// Dashboard aggregates the seller's last 30 days of purchases as of now.
func (s *Service) Dashboard(ctx context.Context, sellerID SellerID, now time.Time) (*Dashboard, error) {
	buyers, err := s.Catalog.ListBuyers(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	unassigned, err := s.Catalog.ListLeads(ctx, LeadFilter{SellerID: sellerID, Status: LeadUnassigned})
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Revenue: decimal.Zero, Unassigned: len(unassigned)}
	since := now.Add(-DashboardWindow)
	byDay := make(map[string]decimal.Decimal)
	var all []LeadPurchase

	for _, b := range buyers {
		if b.Status == BuyerActive {
			d.ActiveBuyers++
		}
		purchases, err := s.Catalog.ListPurchases(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, purchases...)
		for _, p := range purchases {
			if p.PurchasedAt.Before(since) {
				continue
			}
			d.LeadsSold++
			d.Revenue = d.Revenue.Add(p.Price)
			day := p.PurchasedAt.UTC().Format("2006-01-02")
			byDay[day] = byDay[day].Add(p.Price)
		}
	}

	for day, rev := range byDay {
		d.RevenueByDay = append(d.RevenueByDay, DailyRevenue{Date: day, Revenue: rev})
	}
	sort.Slice(d.RevenueByDay, func(i, j int) bool { return d.RevenueByDay[i].Date < d.RevenueByDay[j].Date })

	sort.Slice(all, func(i, j int) bool { return all[i].PurchasedAt.After(all[j].PurchasedAt) })
	if len(all) > 10 {
		all = all[:10]
	}
	d.Recent = all
	return d, nil
}

// =============================================================================
// SWEEP
// =============================================================================

// SweepReport counts what one sweep pass did.
type SweepReport struct {
	Examined        int
	Assigned        int
	Failed          int
	Reconciled      int
	ReconcileFailed int
	Inconsistent    []BuyerID
}

// Sweep retries auto-assignment of every unassigned lead, then reconciles
// every buyer's ledger. Per-item failures, assignment or reconcile, are
// logged and counted; only a failure to list leads or buyers, or a
// cancelled context, aborts the pass.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	log := s.Engine.logger()

	leads, err := s.Catalog.ListLeads(ctx, LeadFilter{Status: LeadUnassigned})
	if err != nil {
		return report, err
	}
	for _, l := range leads {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Examined++
		got, err := s.Engine.AutoAssign(ctx, l.ID)
		switch {
		case err != nil:
			report.Failed++
			log.WarnContext(ctx, "sweep auto-assign failed",
				"module", "broker.sweep",
				"operation", "sweep",
				"outcome", "failure",
				"lead_id", l.ID,
				"error", err,
			)
		case got.Status == LeadSold:
			report.Assigned++
		}
	}

	buyers, err := s.Catalog.ListBuyers(ctx, "")
	if err != nil {
		return report, err
	}
	for _, b := range buyers {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		rec, err := Reconcile(ctx, s.Engine.Store, b.ID)
		if err != nil {
			report.ReconcileFailed++
			log.WarnContext(ctx, "sweep reconcile failed",
				"module", "broker.sweep",
				"operation", "reconcile",
				"outcome", "failure",
				"buyer_id", b.ID,
				"error", err,
			)
			continue
		}
		report.Reconciled++
		if !rec.Consistent {
			report.Inconsistent = append(report.Inconsistent, b.ID)
			log.ErrorContext(ctx, "wallet ledger does not reconcile",
				"module", "broker.sweep",
				"operation", "reconcile",
				"outcome", "inconsistent",
				"buyer_id", b.ID,
				"stored_balance", rec.StoredBalance.StringFixed(MoneyScale),
				"ledger_balance", rec.LedgerBalance.StringFixed(MoneyScale),
				"problem", rec.Problem,
			)
		}
	}
	return report, nil
}
