/*
Package sqlite provides a SQLite-backed implementation of broker.Repository.

PURPOSE:
  Persists leads, buyers, campaigns, purchases and the wallet ledger in one
  SQLite database. The assignment engine only sees broker.TxStore; the HTTP
  layer also uses the broker.Catalog methods.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on wallet_transactions
  - No UPDATE or DELETE statements on lead_purchases
  - lead_purchases.lead_id is UNIQUE: a second sale is a constraint error

KEY TABLES:
  leads:               status + assigned_buyer_id, flipped by ClaimLead only
  buyers:              wallet_cents INTEGER CHECK (wallet_cents >= 0)
  campaigns:           lead_types/states as JSON arrays
  lead_purchases:      one row per sold lead
  wallet_transactions: signed amount_cents, seq gives replay order

MONEY:
  Stored as integer cents so SQL arithmetic is exact. Converted with
  broker.ToCents / broker.FromCents at the boundary.

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate), so the
  write lock is taken before the first read and two sales never interleave.
  Writers wait up to _busy_timeout; past that SQLITE_BUSY surfaces as
  broker.ErrConflict and the engine retries.

  ":memory:" databases are private to a connection, so the pool is pinned
  to a single connection. Every read inside WithTx goes through the sql.Tx
  rather than the pool, otherwise it would wait on itself.

USAGE:
  store, err := sqlite.New("./data/leads.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := broker.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - broker/store.go: Interface definitions
  - broker/store/memory.go: In-memory implementation for testing
  - store/gormdb: GORM implementation for PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lead-exchange/broker"
)

// Fixed-width so text order is time order; RFC3339Nano trims trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements broker.Repository using SQLite.
type Store struct {
	reader
	db *sql.DB
}

var _ broker.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	inMemory := dbPath == ":memory:"
	dsn := dbPath + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	store := &Store{reader: reader{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS buyers (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('active', 'paused', 'disabled')),
		wallet_cents INTEGER NOT NULL DEFAULT 0 CHECK (wallet_cents >= 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_buyers_seller ON buyers(seller_id);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		lead_type TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL,
		state TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents > 0),
		status TEXT NOT NULL CHECK (status IN ('unassigned', 'sold')),
		assigned_buyer_id TEXT REFERENCES buyers(id),
		source TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Intake listing per seller, newest first
	CREATE INDEX IF NOT EXISTS idx_leads_seller_status
		ON leads(seller_id, status, created_at DESC);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL REFERENCES buyers(id),
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('active', 'paused')),
		lead_types_json TEXT NOT NULL,
		states_json TEXT NOT NULL,
		max_price_cents INTEGER,
		daily_cap INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_campaigns_buyer ON campaigns(buyer_id);

	-- CRITICAL: one purchase per lead
	CREATE TABLE IF NOT EXISTS lead_purchases (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL UNIQUE REFERENCES leads(id),
		buyer_id TEXT NOT NULL REFERENCES buyers(id),
		price_cents INTEGER NOT NULL,
		purchased_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_buyer ON lead_purchases(buyer_id);

	-- Wallet ledger (append-only)
	CREATE TABLE IF NOT EXISTS wallet_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		buyer_id TEXT NOT NULL REFERENCES buyers(id),
		amount_cents INTEGER NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('credit', 'debit')),
		reason TEXT NOT NULL,
		meta_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_transactions_buyer
		ON wallet_transactions(buyer_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READS (broker.Reader)
// =============================================================================

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// reader implements broker.Reader against the pool or an open transaction.
type reader struct {
	q queryer
}

const leadColumns = `id, seller_id, lead_type, first_name, last_name, email, phone, state,
	price_cents, status, assigned_buyer_id, source, created_at`

const buyerColumns = `id, seller_id, name, email, phone, status, wallet_cents, created_at`

func (r reader) GetLead(ctx context.Context, id broker.LeadID) (*broker.Lead, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	lead, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", broker.ErrLeadNotFound, id)
	}
	if err != nil {
		return nil, translate("get lead", err)
	}
	return lead, nil
}

func (r reader) GetBuyer(ctx context.Context, id broker.BuyerID) (*broker.Buyer, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+buyerColumns+` FROM buyers WHERE id = ?`, id)
	buyer, err := scanBuyer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, id)
	}
	if err != nil {
		return nil, translate("get buyer", err)
	}
	return buyer, nil
}

func (r reader) GetPurchaseByLead(ctx context.Context, leadID broker.LeadID) (*broker.LeadPurchase, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, lead_id, buyer_id, price_cents, purchased_at
		FROM lead_purchases WHERE lead_id = ?`, leadID)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("purchase for lead %s: %w", leadID, broker.ErrNotFound)
	}
	if err != nil {
		return nil, translate("get purchase", err)
	}
	return p, nil
}

func (r reader) ListCandidates(ctx context.Context, sellerID broker.SellerID) ([]broker.Candidate, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT c.id, c.buyer_id, c.name, c.status, c.lead_types_json, c.states_json,
		       c.max_price_cents, c.daily_cap,
		       b.id, b.seller_id, b.name, b.email, b.phone, b.status, b.wallet_cents, b.created_at
		FROM campaigns c
		JOIN buyers b ON b.id = c.buyer_id
		WHERE b.seller_id = ?
		ORDER BY c.id`, sellerID)
	if err != nil {
		return nil, translate("list candidates", err)
	}
	defer rows.Close()

	var out []broker.Candidate
	for rows.Next() {
		var (
			c       broker.Campaign
			b       broker.Buyer
			typesJS string
			statsJS string
			maxCent sql.NullInt64
			capDay  sql.NullInt64
			cents   int64
			created string
		)
		if err := rows.Scan(
			&c.ID, &c.BuyerID, &c.Name, &c.Status, &typesJS, &statsJS, &maxCent, &capDay,
			&b.ID, &b.SellerID, &b.Name, &b.Email, &b.Phone, &b.Status, &cents, &created,
		); err != nil {
			return nil, translate("scan candidate", err)
		}
		if err := decodeCampaign(&c, typesJS, statsJS, maxCent, capDay); err != nil {
			return nil, translate("decode campaign", err)
		}
		b.WalletBalance = broker.FromCents(cents)
		b.CreatedAt = parseTime(created)
		out = append(out, broker.Candidate{Campaign: c, Buyer: b})
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list candidates", err)
	}
	return out, nil
}

func (r reader) ListLedger(ctx context.Context, buyerID broker.BuyerID) ([]broker.WalletTransaction, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, buyer_id, amount_cents, tx_type, reason, meta_json, created_at
		FROM wallet_transactions
		WHERE buyer_id = ?
		ORDER BY seq ASC`, buyerID)
	if err != nil {
		return nil, translate("list ledger", err)
	}
	defer rows.Close()

	var out []broker.WalletTransaction
	for rows.Next() {
		var (
			tx      broker.WalletTransaction
			cents   int64
			meta    sql.NullString
			created string
		)
		if err := rows.Scan(&tx.ID, &tx.BuyerID, &cents, &tx.Type, &tx.Reason, &meta, &created); err != nil {
			return nil, translate("scan ledger entry", err)
		}
		tx.Amount = broker.FromCents(cents)
		tx.CreatedAt = parseTime(created)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &tx.Meta); err != nil {
				return nil, translate("decode ledger meta", err)
			}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list ledger", err)
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL STORE (broker.TxStore interface)
// =============================================================================

// WithTx executes fn within a BEGIN IMMEDIATE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(broker.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return translate("commit", err)
	}
	return nil
}

// txStore is the broker.Store view of an open transaction.
type txStore struct {
	reader
}

func (ts *txStore) ClaimLead(ctx context.Context, leadID broker.LeadID, buyerID broker.BuyerID) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE leads SET status = 'sold', assigned_buyer_id = ?
		WHERE id = ? AND status = 'unassigned'`, buyerID, leadID)
	return affectedOne("claim lead", res, err)
}

func (ts *txStore) DebitWallet(ctx context.Context, buyerID broker.BuyerID, amount decimal.Decimal) (bool, error) {
	cents := broker.ToCents(amount)
	res, err := ts.q.ExecContext(ctx, `
		UPDATE buyers SET wallet_cents = wallet_cents - ?
		WHERE id = ? AND status = 'active' AND wallet_cents >= ?`, cents, buyerID, cents)
	return affectedOne("debit wallet", res, err)
}

func (ts *txStore) CreditWallet(ctx context.Context, buyerID broker.BuyerID, amount decimal.Decimal) (bool, error) {
	res, err := ts.q.ExecContext(ctx, `
		UPDATE buyers SET wallet_cents = wallet_cents + ? WHERE id = ?`,
		broker.ToCents(amount), buyerID)
	return affectedOne("credit wallet", res, err)
}

func (ts *txStore) InsertPurchase(ctx context.Context, p broker.LeadPurchase) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO lead_purchases (id, lead_id, buyer_id, price_cents, purchased_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.LeadID, p.BuyerID, broker.ToCents(p.Price), p.PurchasedAt.UTC().Format(timeLayout))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("purchase for lead %s: %w", p.LeadID, broker.ErrAlreadySold)
	}
	return translate("insert purchase", err)
}

func (ts *txStore) AppendLedger(ctx context.Context, tx broker.WalletTransaction) error {
	var meta sql.NullString
	if len(tx.Meta) > 0 {
		raw, err := json.Marshal(tx.Meta)
		if err != nil {
			return translate("encode ledger meta", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, buyer_id, amount_cents, tx_type, reason, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.BuyerID, broker.ToCents(tx.Amount), tx.Type, tx.Reason, meta,
		tx.CreatedAt.UTC().Format(timeLayout))
	return translate("append ledger", err)
}

func affectedOne(op string, res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, translate(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(op, err)
	}
	return n == 1, nil
}

// =============================================================================
// CATALOG (broker.Catalog interface)
// =============================================================================

func (s *Store) CreateLead(ctx context.Context, lead broker.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		lead.ID, lead.SellerID, lead.LeadType, lead.FirstName, lead.LastName,
		lead.Email, lead.Phone, lead.State, broker.ToCents(lead.Price),
		broker.LeadUnassigned, lead.Source, lead.CreatedAt.UTC().Format(timeLayout))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("lead %s already exists: %w", lead.ID, broker.ErrInvalidArgument)
	}
	return translate("create lead", err)
}

func (s *Store) UpdateLead(ctx context.Context, lead broker.Lead) error {
	cents := broker.ToCents(lead.Price)
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET lead_type = ?, first_name = ?, last_name = ?, email = ?, phone = ?,
			state = ?, price_cents = ?
		WHERE id = ? AND (status = 'unassigned' OR price_cents = ?)`,
		lead.LeadType, lead.FirstName, lead.LastName, lead.Email, lead.Phone,
		lead.State, cents, lead.ID, cents)
	ok, err := affectedOne("update lead", res, err)
	if err != nil || ok {
		return err
	}
	if _, err := s.GetLead(ctx, lead.ID); err != nil {
		return err
	}
	return fmt.Errorf("lead %s is sold, its price is fixed: %w", lead.ID, broker.ErrConflict)
}

func (s *Store) ListLeads(ctx context.Context, f broker.LeadFilter) ([]broker.Lead, error) {
	var (
		where []string
		args  []any
	)
	if f.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, f.SellerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("list leads", err)
	}
	defer rows.Close()

	var out []broker.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, translate("scan lead", err)
		}
		out = append(out, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list leads", err)
	}
	return out, nil
}

func (s *Store) CreateBuyer(ctx context.Context, b broker.Buyer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buyers (`+buyerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		b.ID, b.SellerID, b.Name, b.Email, b.Phone, b.Status, b.CreatedAt.UTC().Format(timeLayout))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("buyer %s already exists: %w", b.ID, broker.ErrInvalidArgument)
	}
	return translate("create buyer", err)
}

func (s *Store) ListBuyers(ctx context.Context, sellerID broker.SellerID) ([]broker.Buyer, error) {
	query := `SELECT ` + buyerColumns + ` FROM buyers`
	var args []any
	if sellerID != "" {
		query += ` WHERE seller_id = ?`
		args = append(args, sellerID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("list buyers", err)
	}
	defer rows.Close()

	var out []broker.Buyer
	for rows.Next() {
		b, err := scanBuyer(rows)
		if err != nil {
			return nil, translate("scan buyer", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list buyers", err)
	}
	return out, nil
}

func (s *Store) UpdateBuyer(ctx context.Context, b broker.Buyer) error {
	res, err := s.db.ExecContext(ctx, `UPDATE buyers SET name = ?, email = ?, phone = ? WHERE id = ?`,
		b.Name, b.Email, b.Phone, b.ID)
	ok, err := affectedOne("update buyer", res, err)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, b.ID)
	}
	return nil
}

func (s *Store) SetBuyerStatus(ctx context.Context, id broker.BuyerID, status broker.BuyerStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE buyers SET status = ? WHERE id = ?`, status, id)
	ok, err := affectedOne("set buyer status", res, err)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, id)
	}
	return nil
}

func (s *Store) SaveCampaign(ctx context.Context, c broker.Campaign) error {
	typesJS, err := json.Marshal(c.LeadTypes)
	if err != nil {
		return translate("encode campaign", err)
	}
	statesJS, err := json.Marshal(c.States)
	if err != nil {
		return translate("encode campaign", err)
	}
	var maxPrice, dailyCap sql.NullInt64
	if c.MaxPrice != nil {
		maxPrice = sql.NullInt64{Int64: broker.ToCents(*c.MaxPrice), Valid: true}
	}
	if c.DailyCap != nil {
		dailyCap = sql.NullInt64{Int64: int64(*c.DailyCap), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, buyer_id, name, status, lead_types_json, states_json, max_price_cents, daily_cap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			lead_types_json = excluded.lead_types_json,
			states_json = excluded.states_json,
			max_price_cents = excluded.max_price_cents,
			daily_cap = excluded.daily_cap`,
		c.ID, c.BuyerID, c.Name, c.Status, string(typesJS), string(statesJS), maxPrice, dailyCap)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", broker.ErrBuyerNotFound, c.BuyerID)
	}
	return translate("save campaign", err)
}

func (s *Store) ListCampaigns(ctx context.Context, buyerID broker.BuyerID) ([]broker.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_id, name, status, lead_types_json, states_json, max_price_cents, daily_cap
		FROM campaigns WHERE buyer_id = ? ORDER BY id`, buyerID)
	if err != nil {
		return nil, translate("list campaigns", err)
	}
	defer rows.Close()

	var out []broker.Campaign
	for rows.Next() {
		var (
			c        broker.Campaign
			typesJS  string
			statesJS string
			maxCent  sql.NullInt64
			capDay   sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.BuyerID, &c.Name, &c.Status, &typesJS, &statesJS, &maxCent, &capDay); err != nil {
			return nil, translate("scan campaign", err)
		}
		if err := decodeCampaign(&c, typesJS, statesJS, maxCent, capDay); err != nil {
			return nil, translate("decode campaign", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list campaigns", err)
	}
	return out, nil
}

func (s *Store) ListPurchases(ctx context.Context, buyerID broker.BuyerID) ([]broker.LeadPurchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, buyer_id, price_cents, purchased_at
		FROM lead_purchases WHERE buyer_id = ?
		ORDER BY purchased_at DESC`, buyerID)
	if err != nil {
		return nil, translate("list purchases", err)
	}
	defer rows.Close()

	var out []broker.LeadPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, translate("scan purchase", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list purchases", err)
	}
	return out, nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanLead(row scanner) (*broker.Lead, error) {
	var (
		l        broker.Lead
		cents    int64
		assigned sql.NullString
		created  string
	)
	err := row.Scan(&l.ID, &l.SellerID, &l.LeadType, &l.FirstName, &l.LastName, &l.Email,
		&l.Phone, &l.State, &cents, &l.Status, &assigned, &l.Source, &created)
	if err != nil {
		return nil, err
	}
	l.Price = broker.FromCents(cents)
	if assigned.Valid {
		id := broker.BuyerID(assigned.String)
		l.AssignedBuyerID = &id
	}
	l.CreatedAt = parseTime(created)
	return &l, nil
}

func scanBuyer(row scanner) (*broker.Buyer, error) {
	var (
		b       broker.Buyer
		cents   int64
		created string
	)
	if err := row.Scan(&b.ID, &b.SellerID, &b.Name, &b.Email, &b.Phone, &b.Status, &cents, &created); err != nil {
		return nil, err
	}
	b.WalletBalance = broker.FromCents(cents)
	b.CreatedAt = parseTime(created)
	return &b, nil
}

func scanPurchase(row scanner) (*broker.LeadPurchase, error) {
	var (
		p     broker.LeadPurchase
		cents int64
		at    string
	)
	if err := row.Scan(&p.ID, &p.LeadID, &p.BuyerID, &cents, &at); err != nil {
		return nil, err
	}
	p.Price = broker.FromCents(cents)
	p.PurchasedAt = parseTime(at)
	return &p, nil
}

func decodeCampaign(c *broker.Campaign, typesJS, statesJS string, maxCents, dailyCap sql.NullInt64) error {
	if err := json.Unmarshal([]byte(typesJS), &c.LeadTypes); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(statesJS), &c.States); err != nil {
		return err
	}
	if maxCents.Valid {
		p := broker.FromCents(maxCents.Int64)
		c.MaxPrice = &p
	}
	if dailyCap.Valid {
		n := int(dailyCap.Int64)
		c.DailyCap = &n
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written before the fixed-width layout.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// translate maps driver errors onto the broker taxonomy. Busy and locked
// databases mean another writer holds the lock: a conflict, not an outage.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s: %w", op, broker.ErrConflict)
	}
	return &broker.StorageError{Op: op, Err: err}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
