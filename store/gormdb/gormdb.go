/*
Package gormdb provides a GORM-backed implementation of broker.Repository.

PURPOSE:
  The production backend. Connect picks the PostgreSQL dialector for
  postgres:// DSNs and the SQLite dialector otherwise, so the same code
  runs against a local file during development and in tests.

CONCURRENCY:
  Inside WithTx the lead and buyer rows are read with SELECT ... FOR UPDATE
  (a no-op on SQLite), always lead first. The guarded writes are plain
  conditional UPDATEs whose RowsAffected tells whether the guard held:

    UPDATE leads  SET status = 'sold' ...          WHERE id = ? AND status = 'unassigned'
    UPDATE buyers SET wallet_cents = wallet_cents - ? WHERE id = ? AND status = 'active' AND wallet_cents >= ?

ERRORS:
  SQLSTATE 40001 (serialization), 40P01 (deadlock), 55P03 (lock not available)
  and SQLite BUSY/LOCKED map to broker.ErrConflict. Duplicate keys on
  lead_purchases.lead_id map to broker.ErrAlreadySold.

SEE ALSO:
  - store/sqlite: database/sql implementation of the same contract
  - broker/store.go: Interface definitions
*/
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/warp/lead-exchange/broker"
)

// IsPostgresDSN reports whether dsn selects the PostgreSQL dialector.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Connect opens a GORM handle for dsn. Driver errors are translated into
// gorm.ErrDuplicatedKey and friends where the dialector knows how.
func Connect(dsn string, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}

	if IsPostgresDSN(dsn) {
		log.Info("connecting to PostgreSQL", "module", "store.gormdb", "operation", "connect")
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	log.Info("using SQLite through GORM", "module", "store.gormdb", "operation", "connect", "dsn", dsn)
	db, err := gorm.Open(gormsqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection keeps transactions
	// from tripping over each other's locks.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Store implements broker.Repository on top of GORM.
type Store struct {
	reader
	db *gorm.DB
}

var _ broker.Repository = (*Store)(nil)

// New migrates the schema and returns a store over db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{reader: reader{db: db}, db: db}, nil
}

// Open is Connect followed by New.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	db, err := Connect(dsn, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// READS (broker.Reader)
// =============================================================================

// reader implements broker.Reader against the root handle or a transaction.
// forUpdate locks the lead and buyer rows it reads.
type reader struct {
	db        *gorm.DB
	forUpdate bool
}

func (r reader) query(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r reader) GetLead(ctx context.Context, id broker.LeadID) (*broker.Lead, error) {
	var m leadModel
	if err := r.query(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", broker.ErrLeadNotFound, id)
		}
		return nil, translate("get lead", err)
	}
	return toDomainLead(m), nil
}

func (r reader) GetBuyer(ctx context.Context, id broker.BuyerID) (*broker.Buyer, error) {
	var m buyerModel
	if err := r.query(ctx).Where("id = ?", string(id)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, id)
		}
		return nil, translate("get buyer", err)
	}
	return toDomainBuyer(m), nil
}

func (r reader) GetPurchaseByLead(ctx context.Context, leadID broker.LeadID) (*broker.LeadPurchase, error) {
	var m purchaseModel
	if err := r.db.WithContext(ctx).Where("lead_id = ?", string(leadID)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("purchase for lead %s: %w", leadID, broker.ErrNotFound)
		}
		return nil, translate("get purchase", err)
	}
	return toDomainPurchase(m), nil
}

func (r reader) ListCandidates(ctx context.Context, sellerID broker.SellerID) ([]broker.Candidate, error) {
	var buyers []buyerModel
	if err := r.db.WithContext(ctx).Where("seller_id = ?", string(sellerID)).Find(&buyers).Error; err != nil {
		return nil, translate("list candidate buyers", err)
	}
	if len(buyers) == 0 {
		return nil, nil
	}

	byID := make(map[string]buyerModel, len(buyers))
	ids := make([]string, 0, len(buyers))
	for _, b := range buyers {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	var campaigns []campaignModel
	if err := r.db.WithContext(ctx).Where("buyer_id IN ?", ids).Order("id").Find(&campaigns).Error; err != nil {
		return nil, translate("list candidate campaigns", err)
	}

	out := make([]broker.Candidate, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, broker.Candidate{
			Campaign: toDomainCampaign(c),
			Buyer:    *toDomainBuyer(byID[c.BuyerID]),
		})
	}
	return out, nil
}

func (r reader) ListLedger(ctx context.Context, buyerID broker.BuyerID) ([]broker.WalletTransaction, error) {
	var rows []walletTxModel
	if err := r.db.WithContext(ctx).Where("buyer_id = ?", string(buyerID)).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, translate("list ledger", err)
	}
	out := make([]broker.WalletTransaction, 0, len(rows))
	for _, m := range rows {
		out = append(out, toDomainWalletTx(m))
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL STORE (broker.TxStore interface)
// =============================================================================

// WithTx runs fn inside a GORM transaction. Errors returned by fn pass
// through untouched; begin and commit failures are translated.
func (s *Store) WithTx(ctx context.Context, fn func(broker.Store) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&txStore{reader: reader{db: tx, forUpdate: true}})
		if fnErr != nil {
			return fnErr
		}
		return ctx.Err()
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return translate("commit", err)
	}
	return nil
}

type txStore struct {
	reader
}

func (ts *txStore) ClaimLead(ctx context.Context, leadID broker.LeadID, buyerID broker.BuyerID) (bool, error) {
	res := ts.db.WithContext(ctx).Model(&leadModel{}).
		Where("id = ? AND status = ?", string(leadID), string(broker.LeadUnassigned)).
		Updates(map[string]any{
			"status":            string(broker.LeadSold),
			"assigned_buyer_id": string(buyerID),
		})
	if res.Error != nil {
		return false, translate("claim lead", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (ts *txStore) DebitWallet(ctx context.Context, buyerID broker.BuyerID, amount decimal.Decimal) (bool, error) {
	cents := broker.ToCents(amount)
	res := ts.db.WithContext(ctx).Model(&buyerModel{}).
		Where("id = ? AND status = ? AND wallet_cents >= ?", string(buyerID), string(broker.BuyerActive), cents).
		Update("wallet_cents", gorm.Expr("wallet_cents - ?", cents))
	if res.Error != nil {
		return false, translate("debit wallet", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (ts *txStore) CreditWallet(ctx context.Context, buyerID broker.BuyerID, amount decimal.Decimal) (bool, error) {
	res := ts.db.WithContext(ctx).Model(&buyerModel{}).
		Where("id = ?", string(buyerID)).
		Update("wallet_cents", gorm.Expr("wallet_cents + ?", broker.ToCents(amount)))
	if res.Error != nil {
		return false, translate("credit wallet", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (ts *txStore) InsertPurchase(ctx context.Context, p broker.LeadPurchase) error {
	m := purchaseModel{
		ID:          string(p.ID),
		LeadID:      string(p.LeadID),
		BuyerID:     string(p.BuyerID),
		PriceCents:  broker.ToCents(p.Price),
		PurchasedAt: p.PurchasedAt,
	}
	if err := ts.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("purchase for lead %s: %w", p.LeadID, broker.ErrAlreadySold)
		}
		return translate("insert purchase", err)
	}
	return nil
}

func (ts *txStore) AppendLedger(ctx context.Context, tx broker.WalletTransaction) error {
	m := walletTxModel{
		ID:          string(tx.ID),
		BuyerID:     string(tx.BuyerID),
		AmountCents: broker.ToCents(tx.Amount),
		Type:        string(tx.Type),
		Reason:      tx.Reason,
		Meta:        tx.Meta,
		CreatedAt:   tx.CreatedAt,
	}
	return translate("append ledger", ts.db.WithContext(ctx).Create(&m).Error)
}

// =============================================================================
// CATALOG (broker.Catalog interface)
// =============================================================================

func (s *Store) CreateLead(ctx context.Context, lead broker.Lead) error {
	m := toLeadModel(lead)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("lead %s already exists: %w", lead.ID, broker.ErrInvalidArgument)
		}
		return translate("create lead", err)
	}
	return nil
}

func (s *Store) UpdateLead(ctx context.Context, lead broker.Lead) error {
	cents := broker.ToCents(lead.Price)
	res := s.db.WithContext(ctx).Model(&leadModel{}).
		Where("id = ? AND (status = ? OR price_cents = ?)", string(lead.ID), string(broker.LeadUnassigned), cents).
		Updates(map[string]any{
			"lead_type":   lead.LeadType,
			"first_name":  lead.FirstName,
			"last_name":   lead.LastName,
			"email":       lead.Email,
			"phone":       lead.Phone,
			"state":       lead.State,
			"price_cents": cents,
		})
	if res.Error != nil {
		return translate("update lead", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetLead(ctx, lead.ID); err != nil {
		return err
	}
	return fmt.Errorf("lead %s is sold, its price is fixed: %w", lead.ID, broker.ErrConflict)
}

func (s *Store) ListLeads(ctx context.Context, f broker.LeadFilter) ([]broker.Lead, error) {
	q := s.db.WithContext(ctx).Model(&leadModel{})
	if f.SellerID != "" {
		q = q.Where("seller_id = ?", string(f.SellerID))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []leadModel
	if err := q.Order("created_at desc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, translate("list leads", err)
	}
	out := make([]broker.Lead, 0, len(rows))
	for _, m := range rows {
		out = append(out, *toDomainLead(m))
	}
	return out, nil
}

func (s *Store) CreateBuyer(ctx context.Context, b broker.Buyer) error {
	m := toBuyerModel(b)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("buyer %s already exists: %w", b.ID, broker.ErrInvalidArgument)
		}
		return translate("create buyer", err)
	}
	return nil
}

func (s *Store) ListBuyers(ctx context.Context, sellerID broker.SellerID) ([]broker.Buyer, error) {
	q := s.db.WithContext(ctx).Model(&buyerModel{})
	if sellerID != "" {
		q = q.Where("seller_id = ?", string(sellerID))
	}
	var rows []buyerModel
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, translate("list buyers", err)
	}
	out := make([]broker.Buyer, 0, len(rows))
	for _, m := range rows {
		out = append(out, *toDomainBuyer(m))
	}
	return out, nil
}

func (s *Store) UpdateBuyer(ctx context.Context, b broker.Buyer) error {
	res := s.db.WithContext(ctx).Model(&buyerModel{}).Where("id = ?", string(b.ID)).
		Updates(map[string]any{"name": b.Name, "email": b.Email, "phone": b.Phone})
	if res.Error != nil {
		return translate("update buyer", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, b.ID)
	}
	return nil
}

func (s *Store) SetBuyerStatus(ctx context.Context, id broker.BuyerID, status broker.BuyerStatus) error {
	res := s.db.WithContext(ctx).Model(&buyerModel{}).Where("id = ?", string(id)).Update("status", string(status))
	if res.Error != nil {
		return translate("set buyer status", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, id)
	}
	return nil
}

func (s *Store) SaveCampaign(ctx context.Context, c broker.Campaign) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&buyerModel{}).Where("id = ?", string(c.BuyerID)).Count(&count).Error; err != nil {
		return translate("save campaign", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, c.BuyerID)
	}
	m := toCampaignModel(c)
	return translate("save campaign", s.db.WithContext(ctx).Save(&m).Error)
}

func (s *Store) ListCampaigns(ctx context.Context, buyerID broker.BuyerID) ([]broker.Campaign, error) {
	var rows []campaignModel
	if err := s.db.WithContext(ctx).Where("buyer_id = ?", string(buyerID)).Order("id").Find(&rows).Error; err != nil {
		return nil, translate("list campaigns", err)
	}
	out := make([]broker.Campaign, 0, len(rows))
	for _, m := range rows {
		out = append(out, toDomainCampaign(m))
	}
	return out, nil
}

func (s *Store) ListPurchases(ctx context.Context, buyerID broker.BuyerID) ([]broker.LeadPurchase, error) {
	var rows []purchaseModel
	if err := s.db.WithContext(ctx).Where("buyer_id = ?", string(buyerID)).Order("purchased_at desc").Find(&rows).Error; err != nil {
		return nil, translate("list purchases", err)
	}
	out := make([]broker.LeadPurchase, 0, len(rows))
	for _, m := range rows {
		out = append(out, *toDomainPurchase(m))
	}
	return out, nil
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// Postgres SQLSTATEs that mean "another transaction got there first".
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && conflictCodes[pgErr.Code] {
		return fmt.Errorf("%s: %w", op, broker.ErrConflict)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w", op, broker.ErrConflict)
	}
	return &broker.StorageError{Op: op, Err: err}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	return errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
