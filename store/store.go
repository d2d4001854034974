// Package store persists local state for the storefront: the signing wallet
// configuration, a short-lived catalog cache, and an append-only purchase
// log. Everything lives in a single SQLite database keyed by account owner.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/shop"
	"github.com/lotuslabs/yogapay/wallet"
)

// CatalogTTL is how long cached catalog data stays fresh.
const CatalogTTL = 15 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS wallet_config (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	owner       TEXT NOT NULL UNIQUE,
	private_key TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_classes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner      TEXT NOT NULL UNIQUE,
	classes    TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_products (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner      TEXT NOT NULL UNIQUE,
	products   TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS purchases (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	owner        TEXT NOT NULL,
	class_id     TEXT NOT NULL,
	class_title  TEXT NOT NULL,
	price        TEXT NOT NULL,
	content_url  TEXT NOT NULL,
	tx_hash      TEXT,
	x_payment    TEXT NOT NULL,
	purchased_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_purchases_owner ON purchases (owner);
`

// WalletStatus is the displayable view of a stored wallet. The private key
// never leaves the store unmasked through this type.
type WalletStatus struct {
	Configured bool      `json:"configured"`
	MaskedKey  string    `json:"masked_key,omitempty"`
	Address    string    `json:"address,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Purchase is one row of the purchase log.
type Purchase struct {
	ID          int64     `db:"id" json:"id"`
	Owner       string    `db:"owner" json:"-"`
	ClassID     string    `db:"class_id" json:"class_id"`
	ClassTitle  string    `db:"class_title" json:"class_title"`
	Price       string    `db:"price" json:"price"`
	ContentURL  string    `db:"content_url" json:"content_url"`
	TxHash      string    `db:"tx_hash" json:"tx_hash,omitempty"`
	XPayment    string    `db:"x_payment" json:"-"`
	PurchasedAt time.Time `db:"-" json:"purchased_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- wallet_config ----------------------------------------------------------

// SaveWallet stores the signing credential for owner, replacing any previous
// one. The key must already be normalized by the wallet package.
func (s *Store) SaveWallet(ctx context.Context, owner, normalizedKey string) error {
	if _, err := wallet.ParseKey(normalizedKey); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_config (owner, private_key, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET
			private_key = excluded.private_key,
			updated_at = excluded.updated_at
	`, owner, normalizedKey, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

// DeleteWallet removes the stored credential for owner.
func (s *Store) DeleteWallet(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wallet_config WHERE owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	return nil
}

// Wallet returns the displayable wallet status for owner. The key comes back
// masked; callers that need to sign use Credential instead.
func (s *Store) Wallet(ctx context.Context, owner string) (WalletStatus, error) {
	var row struct {
		PrivateKey string `db:"private_key"`
		UpdatedAt  int64  `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT private_key, updated_at FROM wallet_config WHERE owner = ?
	`, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return WalletStatus{}, nil
	}
	if err != nil {
		return WalletStatus{}, fmt.Errorf("failed to read wallet: %w", err)
	}

	status := WalletStatus{
		Configured: true,
		MaskedKey:  wallet.Mask(row.PrivateKey),
		UpdatedAt:  time.Unix(row.UpdatedAt, 0).UTC(),
	}
	if addr, err := wallet.Address(row.PrivateKey); err == nil {
		status.Address = addr.Hex()
	}
	return status, nil
}

// Credential returns the raw signing credential for owner. Callers must not
// log or display the returned value.
func (s *Store) Credential(ctx context.Context, owner string) (string, error) {
	var key string
	err := s.db.GetContext(ctx, &key, `
		SELECT private_key FROM wallet_config WHERE owner = ?
	`, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", yogapay.ErrWalletNotConfigured
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return key, nil
}

// --- catalog cache ----------------------------------------------------------

// CachedClasses returns the cached class catalog for owner, and whether a
// fresh entry existed. Stale or missing entries report ok=false.
func (s *Store) CachedClasses(ctx context.Context, owner string) ([]shop.Class, bool, error) {
	raw, ok, err := s.cachedCatalog(ctx, "cached_classes", "classes", owner)
	if err != nil || !ok {
		return nil, false, err
	}

	var classes []shop.Class
	if err := json.Unmarshal(raw, &classes); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached classes: %w", err)
	}
	return classes, true, nil
}

// PutCachedClasses replaces the cached class catalog for owner.
func (s *Store) PutCachedClasses(ctx context.Context, owner string, classes []shop.Class) error {
	raw, err := json.Marshal(classes)
	if err != nil {
		return fmt.Errorf("failed to encode classes: %w", err)
	}
	return s.putCatalog(ctx, "cached_classes", "classes", owner, raw)
}

// CachedProducts returns the cached product catalog for owner, and whether a
// fresh entry existed.
func (s *Store) CachedProducts(ctx context.Context, owner string) ([]shop.Product, bool, error) {
	raw, ok, err := s.cachedCatalog(ctx, "cached_products", "products", owner)
	if err != nil || !ok {
		return nil, false, err
	}

	var products []shop.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached products: %w", err)
	}
	return products, true, nil
}

// PutCachedProducts replaces the cached product catalog for owner.
func (s *Store) PutCachedProducts(ctx context.Context, owner string, products []shop.Product) error {
	raw, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to encode products: %w", err)
	}
	return s.putCatalog(ctx, "cached_products", "products", owner, raw)
}

func (s *Store) cachedCatalog(ctx context.Context, table, column, owner string) ([]byte, bool, error) {
	var row struct {
		Payload   []byte `db:"payload"`
		FetchedAt int64  `db:"fetched_at"`
	}
	query := fmt.Sprintf(`SELECT %s AS payload, fetched_at FROM %s WHERE owner = ?`, column, table)
	err := s.db.GetContext(ctx, &row, query, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read catalog cache: %w", err)
	}

	if s.now().Sub(time.Unix(row.FetchedAt, 0)) > CatalogTTL {
		return nil, false, nil
	}
	return row.Payload, true, nil
}

func (s *Store) putCatalog(ctx context.Context, table, column, owner string, payload []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (owner, %s, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET
			%s = excluded.%s,
			fetched_at = excluded.fetched_at
	`, table, column, column, column)
	if _, err := s.db.ExecContext(ctx, query, owner, payload, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to write catalog cache: %w", err)
	}
	return nil
}

// --- purchases --------------------------------------------------------------

// RecordPurchase appends a purchase to the log. Rows are never updated or
// deleted.
func (s *Store) RecordPurchase(ctx context.Context, p Purchase) (Purchase, error) {
	p.PurchasedAt = s.now().UTC().Truncate(time.Second)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (owner, class_id, class_title, price, content_url, tx_hash, x_payment, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Owner, p.ClassID, p.ClassTitle, p.Price, p.ContentURL, p.TxHash, p.XPayment, p.PurchasedAt.Unix())
	if err != nil {
		return Purchase{}, fmt.Errorf("failed to record purchase: %w", err)
	}

	p.ID, err = result.LastInsertId()
	if err != nil {
		return Purchase{}, fmt.Errorf("failed to read purchase id: %w", err)
	}
	return p, nil
}

// Purchases lists all purchases for owner, newest first.
func (s *Store) Purchases(ctx context.Context, owner string) ([]Purchase, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, owner, class_id, class_title, price, content_url,
			COALESCE(tx_hash, '') AS tx_hash, x_payment, purchased_at
		FROM purchases
		WHERE owner = ?
		ORDER BY purchased_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// Purchase returns the most recent purchase of classID by owner, or
// ErrNotPurchased.
func (s *Store) Purchase(ctx context.Context, owner, classID string) (Purchase, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, owner, class_id, class_title, price, content_url,
			COALESCE(tx_hash, '') AS tx_hash, x_payment, purchased_at
		FROM purchases
		WHERE owner = ? AND class_id = ?
		ORDER BY purchased_at DESC, id DESC
		LIMIT 1
	`, owner, classID)
	if err != nil {
		return Purchase{}, fmt.Errorf("failed to read purchase: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Purchase{}, err
		}
		return Purchase{}, yogapay.ErrNotPurchased
	}
	return scanPurchase(rows)
}

// HasPurchase reports whether owner already unlocked classID.
func (s *Store) HasPurchase(ctx context.Context, owner, classID string) (bool, error) {
	_, err := s.Purchase(ctx, owner, classID)
	if errors.Is(err, yogapay.ErrNotPurchased) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanPurchase(rows *sqlx.Rows) (Purchase, error) {
	var (
		p           Purchase
		purchasedAt int64
	)
	err := rows.Scan(&p.ID, &p.Owner, &p.ClassID, &p.ClassTitle, &p.Price,
		&p.ContentURL, &p.TxHash, &p.XPayment, &purchasedAt)
	if err != nil {
		return Purchase{}, fmt.Errorf("failed to scan purchase: %w", err)
	}
	p.PurchasedAt = time.Unix(purchasedAt, 0).UTC()
	return p, nil
}
