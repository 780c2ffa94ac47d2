// Package store is the source-of-truth product store: product rows with
// ranking features, per-user category affinities, and the persisted
// full-text index used by lexical retrieval.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/kailas-cloud/prodsearch/internal/domain"
)

// DriverName is the database/sql driver used for the product store.
const DriverName = "sqlite"

// Store wraps the product database.
type Store struct {
	db *sql.DB
}

// Open opens the product database and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL improves read concurrency; sqlite prefers a single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			popularity_score REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_popularity
			ON products (popularity_score DESC)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS product_fts
			USING fts5(product_id UNINDEXED, title, description)`,
		`CREATE TABLE IF NOT EXISTS user_category_affinity (
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			score REAL NOT NULL,
			PRIMARY KEY (user_id, category)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// ProductRow is one product record.
type ProductRow struct {
	ID          string
	Title       string
	Description string
	Category    string
	Popularity  float64 // [0,1], maintained by the offline popularity job
	CreatedAt   time.Time
}

// UpsertProduct writes a product row and refreshes its full-text index entry.
func (s *Store) UpsertProduct(ctx context.Context, p ProductRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, title, description, category, popularity_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			popularity_score = excluded.popularity_score,
			created_at = excluded.created_at`,
		p.ID, p.Title, p.Description, p.Category, p.Popularity, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM product_fts WHERE product_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear fts entry: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO product_fts (product_id, title, description) VALUES (?, ?, ?)`,
		p.ID, p.Title, p.Description); err != nil {
		return fmt.Errorf("index product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetProduct reads one product row. Returns domain.ErrNotFound for unknown ids.
func (s *Store) GetProduct(ctx context.Context, id string) (ProductRow, error) {
	var p ProductRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, category, popularity_score, created_at
		FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.Popularity, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return ProductRow{}, domain.ErrNotFound
	}
	if err != nil {
		return ProductRow{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// FeatureRow carries the per-product signals the ranker consumes.
type FeatureRow struct {
	ProductID  string
	Category   string
	Popularity float64
	CreatedAt  time.Time
}

// ProductFeatures batch-reads feature rows for the given product ids.
// Unknown ids are simply absent from the result map.
func (s *Store) ProductFeatures(ctx context.Context, ids []string) (map[string]FeatureRow, error) {
	if len(ids) == 0 {
		return map[string]FeatureRow{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, category, popularity_score, created_at
		FROM products WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query product features: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]FeatureRow, len(ids))
	for rows.Next() {
		var r FeatureRow
		if err := rows.Scan(&r.ProductID, &r.Category, &r.Popularity, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		out[r.ProductID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}
	return out, nil
}

// CategoryAffinity looks up a user's affinity for a category.
// Returns domain.ErrNotFound when no affinity is recorded.
func (s *Store) CategoryAffinity(ctx context.Context, userID, category string) (float64, error) {
	var score float64
	err := s.db.QueryRowContext(ctx, `
		SELECT score FROM user_category_affinity
		WHERE user_id = ? AND category = ?`, userID, category).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query category affinity: %w", err)
	}
	return score, nil
}

// SetCategoryAffinity writes a user-category affinity score.
func (s *Store) SetCategoryAffinity(ctx context.Context, userID, category string, score float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_category_affinity (user_id, category, score)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET score = excluded.score`,
		userID, category, score)
	if err != nil {
		return fmt.Errorf("set category affinity: %w", err)
	}
	return nil
}

// PopularProducts returns the top products by popularity, optionally scoped
// to a category. Used for cold-start recommendations.
func (s *Store) PopularProducts(ctx context.Context, category string, limit int) ([]domain.ScoredID, error) {
	query := `SELECT id, popularity_score FROM products`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY popularity_score DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query popular products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ScoredID
	for rows.Next() {
		var r domain.ScoredID
		if err := rows.Scan(&r.ProductID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan popular product: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate popular products: %w", err)
	}
	return out, nil
}
