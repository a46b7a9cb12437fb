package broker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-exchange/broker"
	"github.com/warp/lead-exchange/broker/store"
)

func validLead() broker.NewLeadInput {
	return broker.NewLeadInput{
		SellerID:  seller,
		LeadType:  "Term Life",
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
		Phone:     "555-1000",
		State:     " ca ",
		Price:     dec("50"),
	}
}

func TestService_CreateLead_AutoAssigns(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	a := f.buyer("Alpha Insurance", "500")
	f.campaign(a.ID, []string{"Term Life"}, []string{"CA"})

	got, err := f.svc.CreateLead(f.ctx, validLead())

	require.NoError(t, err)
	assert.Equal(t, "CA", got.State)
	assert.True(t, got.SoldTo(a.ID))
	assert.Equal(t, "450.00", f.balance(a.ID))
}

func TestService_CreateLead_KeepsLeadWhenNobodyBuys(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	got, err := f.svc.CreateLead(f.ctx, validLead())

	require.NoError(t, err)
	assert.Equal(t, broker.LeadUnassigned, got.Status)
	stored, err := f.repo.GetLead(f.ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.LeadUnassigned, stored.Status)
}

func TestService_CreateLead_ReportsAssignmentFailure(t *testing.T) {
	// GIVEN: A store whose candidate listing is down
	repo := store.NewMemory()
	f := newFixture(t, candidateOutage{Repository: repo})

	// WHEN: A lead is submitted
	got, err := f.svc.CreateLead(f.ctx, validLead())

	// THEN: The failure surfaces as a storage error, not as "no buyer"
	var assignErr *broker.AutoAssignError
	require.ErrorAs(t, err, &assignErr)
	assert.ErrorIs(t, err, broker.ErrStorage)
	assert.True(t, broker.IsRetryable(err))

	// AND: The lead is returned and kept, still unassigned
	require.NotNil(t, got)
	assert.Equal(t, got.ID, assignErr.Lead.ID)
	assert.Equal(t, broker.LeadUnassigned, got.Status)
	stored, err := repo.GetLead(f.ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.LeadUnassigned, stored.Status)
	assert.Equal(t, "CA", stored.State)
}

func TestService_CreateLead_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *broker.NewLeadInput)
		field  string
	}{
		{"missing seller", func(in *broker.NewLeadInput) { in.SellerID = "" }, "seller_id"},
		{"missing type", func(in *broker.NewLeadInput) { in.LeadType = "  " }, "lead_type"},
		{"missing state", func(in *broker.NewLeadInput) { in.State = "" }, "state"},
		{"bad email", func(in *broker.NewLeadInput) { in.Email = "john" }, "email"},
		{"zero price", func(in *broker.NewLeadInput) { in.Price = dec("0") }, "price"},
		{"negative price", func(in *broker.NewLeadInput) { in.Price = dec("-1") }, "price"},
		{"sub-cent price", func(in *broker.NewLeadInput) { in.Price = dec("1.001") }, "price"},
	}

	f := newFixture(t, store.NewMemory())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validLead()
			tt.mutate(&in)
			_, err := f.svc.CreateLead(f.ctx, in)
			var ve *broker.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestService_CreateBuyer(t *testing.T) {
	f := newFixture(t, store.NewMemory())

	b, err := f.svc.CreateBuyer(f.ctx, broker.NewBuyerInput{
		SellerID:       seller,
		Name:           "Alpha Insurance",
		Email:          "alpha@example.com",
		OpeningBalance: dec("500"),
	})
	require.NoError(t, err)
	assert.Equal(t, broker.BuyerActive, b.Status)
	assert.Equal(t, "500.00", b.WalletBalance.StringFixed(2))

	entries, err := f.repo.ListLedger(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "opening_balance", entries[0].Reason)
	f.requireConsistent(b.ID)

	_, err = f.svc.CreateBuyer(f.ctx, broker.NewBuyerInput{SellerID: seller, Name: "A", Email: "a@example.com"})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
	_, err = f.svc.CreateBuyer(f.ctx, broker.NewBuyerInput{SellerID: seller, Name: "Alpha", Email: "a@example.com", Status: "gone"})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
	_, err = f.svc.CreateBuyer(f.ctx, broker.NewBuyerInput{SellerID: seller, Name: "Alpha", Email: "a@example.com", OpeningBalance: dec("-1")})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
}

func TestService_SetBuyerStatus(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	b := f.buyer("Alpha Insurance", "0")

	require.NoError(t, f.svc.SetBuyerStatus(f.ctx, b.ID, broker.BuyerDisabled))
	got, err := f.repo.GetBuyer(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.BuyerDisabled, got.Status)

	assert.ErrorIs(t, f.svc.SetBuyerStatus(f.ctx, b.ID, "retired"), broker.ErrInvalidArgument)
	assert.ErrorIs(t, f.svc.SetBuyerStatus(f.ctx, "missing", broker.BuyerActive), broker.ErrBuyerNotFound)
}

func TestService_SaveCampaign(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	b := f.buyer("Alpha Insurance", "0")
	maxPrice := dec("75")
	capDay := 20

	c, err := f.svc.SaveCampaign(f.ctx, broker.NewCampaignInput{
		BuyerID:   b.ID,
		Name:      " Default ",
		LeadTypes: []string{"Term Life", "Term Life", ""},
		States:    []string{"ca", "TX"},
		MaxPrice:  &maxPrice,
		DailyCap:  &capDay,
	})
	require.NoError(t, err)
	assert.Equal(t, "Default", c.Name)
	assert.Equal(t, broker.CampaignActive, c.Status)
	assert.Equal(t, []string{"Term Life"}, c.LeadTypes)
	assert.Equal(t, []string{"CA", "TX"}, c.States)

	listed, err := f.repo.ListCampaigns(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, c.ID, listed[0].ID)

	_, err = f.svc.SaveCampaign(f.ctx, broker.NewCampaignInput{BuyerID: "missing", LeadTypes: []string{"Auto"}, States: []string{"CA"}})
	assert.ErrorIs(t, err, broker.ErrBuyerNotFound)
	_, err = f.svc.SaveCampaign(f.ctx, broker.NewCampaignInput{BuyerID: b.ID, States: []string{"CA"}})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
	zero := dec("0")
	_, err = f.svc.SaveCampaign(f.ctx, broker.NewCampaignInput{BuyerID: b.ID, LeadTypes: []string{"Auto"}, States: []string{"CA"}, MaxPrice: &zero})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
}

func TestService_BuyerStatementAndPreview(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	a := f.buyer("Alpha Insurance", "40")
	b := f.buyer("Beta Coverage", "45")
	f.campaign(a.ID, []string{"Auto"}, []string{"CA"})
	f.campaign(b.ID, []string{"Auto"}, []string{"CA"})
	l := f.lead("Auto", "CA", "42")

	_, ranked, err := f.svc.PreviewMatches(f.ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, b.ID, ranked[0].Buyer.ID)

	_, err = f.engine().AssignLeadToBuyer(f.ctx, l.ID, b.ID)
	require.NoError(t, err)

	stmt, err := f.svc.BuyerStatement(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "3.00", stmt.Buyer.WalletBalance.StringFixed(2))
	assert.Len(t, stmt.Campaigns, 1)
	assert.Len(t, stmt.Purchases, 1)
	assert.Len(t, stmt.Ledger, 2)

	rec, err := f.svc.ReconcileBuyer(f.ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 2, rec.Entries)

	_, err = f.svc.BuyerStatement(f.ctx, "missing")
	assert.ErrorIs(t, err, broker.ErrBuyerNotFound)
}

func TestService_Dashboard(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	a := f.buyer("Alpha Insurance", "100")
	paused := f.buyer("Paused Buyer", "0")
	require.NoError(t, f.svc.SetBuyerStatus(f.ctx, paused.ID, broker.BuyerPaused))

	for _, price := range []string{"10", "20.50"} {
		l := f.lead("Auto", "CA", price)
		_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, a.ID)
		require.NoError(t, err)
	}
	f.lead("Auto", "CA", "5")

	d, err := f.svc.Dashboard(f.ctx, seller, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "30.50", d.Revenue.StringFixed(2))
	assert.Equal(t, 2, d.LeadsSold)
	assert.Equal(t, 1, d.Unassigned)
	assert.Equal(t, 1, d.ActiveBuyers)
	require.Len(t, d.RevenueByDay, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), d.RevenueByDay[0].Date)
	assert.Len(t, d.Recent, 2)

	// Sales older than the window drop out of the totals but stay recent.
	later, err := f.svc.Dashboard(f.ctx, seller, time.Now().UTC().Add(broker.DashboardWindow+time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.LeadsSold)
	assert.True(t, later.Revenue.IsZero())
	assert.Len(t, later.Recent, 2)
}

func TestService_Sweep(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	a := f.buyer("Alpha Insurance", "0")
	f.campaign(a.ID, []string{"Auto"}, []string{"CA"})
	l1 := f.lead("Auto", "CA", "10")
	l2 := f.lead("Home", "CA", "10")

	_, err := f.engine().CreditBuyer(f.ctx, a.ID, dec("15"), "")
	require.NoError(t, err)

	report, err := f.svc.Sweep(f.ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Assigned)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.Reconciled)
	assert.Empty(t, report.Inconsistent)

	got1, err := f.repo.GetLead(f.ctx, l1.ID)
	require.NoError(t, err)
	assert.True(t, got1.SoldTo(a.ID))
	got2, err := f.repo.GetLead(f.ctx, l2.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.LeadUnassigned, got2.Status)
}

func TestService_Sweep_CountsReconcileFailures(t *testing.T) {
	// GIVEN: Two buyers, one of whose ledger cannot be read
	repo := &brokenLedgerStore{Repository: store.NewMemory()}
	f := newFixture(t, repo)
	a := f.buyer("Alpha Insurance", "10")
	f.buyer("Beta Coverage", "20")
	repo.buyer = a.ID

	// WHEN: The sweep runs
	report, err := f.svc.Sweep(f.ctx)

	// THEN: The pass completes, counting the failure and reconciling the rest
	require.NoError(t, err)
	assert.Equal(t, 1, report.ReconcileFailed)
	assert.Equal(t, 1, report.Reconciled)
	assert.Empty(t, report.Inconsistent)
}

func TestService_UpdateLead(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	l := f.lead("Auto", "CA", "40")

	// GIVEN: An unassigned lead
	// WHEN: Contact fields, state and price change
	email := " jane@example.com "
	state := "tx"
	price := dec("45.50")
	got, err := f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{Email: &email, State: &state, Price: &price})

	// THEN: The edits are normalized and stored, the rest is untouched
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "TX", got.State)
	assert.Equal(t, "45.50", got.Price.StringFixed(2))
	assert.Equal(t, "John", got.FirstName)
	stored, err := f.repo.GetLead(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "TX", stored.State)
	assert.Equal(t, broker.LeadUnassigned, stored.Status)

	bad := "john"
	_, err = f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{Email: &bad})
	var ve *broker.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Field)

	_, err = f.svc.UpdateLead(f.ctx, "missing", broker.LeadUpdate{Email: &email})
	assert.ErrorIs(t, err, broker.ErrLeadNotFound)
}

func TestService_UpdateLead_AssignsAtEditedPrice(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	b := f.buyer("Alpha Insurance", "100")
	l := f.lead("Auto", "CA", "40")

	// GIVEN: A lead whose price is lowered in the same edit that assigns it
	price := dec("25")

	// WHEN: The edit names a buyer
	got, err := f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{Price: &price, AssignedBuyerID: &b.ID})

	// THEN: The sale goes through the engine at the new price
	require.NoError(t, err)
	assert.True(t, got.SoldTo(b.ID))
	assert.Equal(t, "75.00", f.balance(b.ID))
	purchase, err := f.repo.GetPurchaseByLead(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", purchase.Price.StringFixed(2))
	f.requireConsistent(b.ID)
	assert.Equal(t, 1, f.events.soldCount())

	// AND: Repeating the assignment is a replay
	again, err := f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{AssignedBuyerID: &b.ID})
	require.NoError(t, err)
	assert.True(t, again.SoldTo(b.ID))
	assert.Equal(t, "75.00", f.balance(b.ID))
}

func TestService_UpdateLead_SoldPriceIsFixed(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	a := f.buyer("Alpha Insurance", "100")
	other := f.buyer("Beta Coverage", "100")
	l := f.lead("Auto", "CA", "40")
	_, err := f.engine().AssignLeadToBuyer(f.ctx, l.ID, a.ID)
	require.NoError(t, err)

	// GIVEN: A sold lead
	// WHEN: Its price changes
	price := dec("10")
	_, err = f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{Price: &price})

	// THEN: The edit is rejected
	var ve *broker.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "price", ve.Field)

	// AND: Contact edits still apply and the sale is untouched
	phone := "555-9999"
	got, err := f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "555-9999", got.Phone)
	assert.True(t, got.SoldTo(a.ID))

	// AND: Reassigning to another buyer is refused
	_, err = f.svc.UpdateLead(f.ctx, l.ID, broker.LeadUpdate{AssignedBuyerID: &other.ID})
	assert.ErrorIs(t, err, broker.ErrAlreadySold)
	assert.Equal(t, "60.00", f.balance(a.ID))
	assert.Equal(t, "100.00", f.balance(other.ID))
}

func TestService_UpdateBuyer(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	b := f.buyer("Alpha Insurance", "50")

	// GIVEN: A funded buyer
	// WHEN: Name, phone and status change
	name := " Alpha Prime "
	phone := "555-3000"
	paused := broker.BuyerPaused
	got, err := f.svc.UpdateBuyer(f.ctx, b.ID, broker.BuyerUpdate{Name: &name, Phone: &phone, Status: &paused})

	// THEN: The profile and status change, the wallet does not
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", got.Name)
	assert.Equal(t, "buyer@example.com", got.Email)
	assert.Equal(t, broker.BuyerPaused, got.Status)
	stored, err := f.repo.GetBuyer(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", stored.Name)
	assert.Equal(t, "555-3000", stored.Phone)
	assert.Equal(t, broker.BuyerPaused, stored.Status)
	assert.Equal(t, "50.00", stored.WalletBalance.StringFixed(2))

	short := "A"
	_, err = f.svc.UpdateBuyer(f.ctx, b.ID, broker.BuyerUpdate{Name: &short})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
	retired := broker.BuyerStatus("retired")
	_, err = f.svc.UpdateBuyer(f.ctx, b.ID, broker.BuyerUpdate{Status: &retired})
	assert.ErrorIs(t, err, broker.ErrInvalidArgument)
	_, err = f.svc.UpdateBuyer(f.ctx, "missing", broker.BuyerUpdate{Name: &name})
	assert.ErrorIs(t, err, broker.ErrBuyerNotFound)
}
