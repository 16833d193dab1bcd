package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// SQLiteStore implements Store on an embedded SQLite database, one table
// per entity type plus cursor and schema metadata.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

var tableByType = map[models.ObjectType]string{
	models.TypeItem:         "catalog_items",
	models.TypeVariation:    "catalog_variations",
	models.TypeCategory:     "catalog_categories",
	models.TypeTax:          "catalog_taxes",
	models.TypeModifierList: "catalog_modifier_lists",
	models.TypeLocation:     "locations",
}

// NewSQLiteStore opens (and if needed creates) the catalog database.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_fk=ON")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "catalog_store"),
	}

	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	var schema strings.Builder
	for _, table := range tableByType {
		fmt.Fprintf(&schema, `
    CREATE TABLE IF NOT EXISTS %s (
        id TEXT PRIMARY KEY,
        version INTEGER NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        name_norm TEXT NOT NULL DEFAULT '',
        sku TEXT NOT NULL DEFAULT '',
        barcode TEXT NOT NULL DEFAULT '',
        price_amount INTEGER NOT NULL DEFAULT 0,
        currency TEXT NOT NULL DEFAULT '',
        category_id TEXT NOT NULL DEFAULT '',
        item_id TEXT NOT NULL DEFAULT '',
        percentage TEXT NOT NULL DEFAULT '',
        active INTEGER NOT NULL DEFAULT 1,
        updated_at TIMESTAMP,
        last_synced_at TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_%s_name_norm ON %s(name_norm);
    `, table, table, table)
	}

	schema.WriteString(`
    CREATE TABLE IF NOT EXISTS sync_cursor (
        scope TEXT PRIMARY KEY,
        token TEXT NOT NULL DEFAULT '',
        last_sync_time TIMESTAMP,
        walk_started_at TIMESTAMP,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );
    `)

	if _, err := s.db.Exec(schema.String()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_info (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// ApplyPage commits one page and its cursor atomically. The version gate
// lives in the upsert's conflict clause, so re-applying a page is a no-op.
func (s *SQLiteStore) ApplyPage(ctx context.Context, batch []models.Object, cursor models.Cursor) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	applied, skipped := 0, 0

	for i := range batch {
		obj := &batch[i]
		if !obj.Valid() {
			skipped++
			continue
		}
		table, ok := tableByType[obj.Type]
		if !ok {
			skipped++
			continue
		}

		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
        INSERT INTO %s (id, version, name, name_norm, sku, barcode, price_amount,
                        currency, category_id, item_id, percentage, active,
                        updated_at, last_synced_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            version = excluded.version,
            name = excluded.name,
            name_norm = excluded.name_norm,
            sku = excluded.sku,
            barcode = excluded.barcode,
            price_amount = excluded.price_amount,
            currency = excluded.currency,
            category_id = excluded.category_id,
            item_id = excluded.item_id,
            percentage = excluded.percentage,
            active = excluded.active,
            updated_at = excluded.updated_at,
            last_synced_at = excluded.last_synced_at
        WHERE excluded.version > %s.version
    `, table, table),
			obj.ID, obj.Version, obj.Name, NormalizeSearch(obj.Name), obj.SKU,
			obj.Barcode, obj.PriceAmount, obj.Currency, obj.CategoryID,
			obj.ItemID, obj.Percentage, obj.Active, obj.UpdatedAt, now)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert %s %s: %w", obj.Type, obj.ID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			applied++
		} else {
			skipped++
		}
	}

	if cursor.Scope != "" {
		if err := upsertCursor(ctx, tx, cursor); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit page: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"applied": applied,
		"skipped": skipped,
		"scope":   cursor.Scope,
	}).Debug("Applied catalog page")

	return applied, skipped, nil
}

func upsertCursor(ctx context.Context, tx *sql.Tx, cursor models.Cursor) error {
	var walkStarted sql.NullTime
	if !cursor.WalkStartedAt.IsZero() {
		walkStarted = sql.NullTime{Time: cursor.WalkStartedAt, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
        INSERT INTO sync_cursor (scope, token, last_sync_time, walk_started_at, updated_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(scope) DO UPDATE SET
            token = excluded.token,
            last_sync_time = excluded.last_sync_time,
            walk_started_at = excluded.walk_started_at,
            updated_at = CURRENT_TIMESTAMP
    `, cursor.Scope, cursor.Token, cursor.LastSyncTime, walkStarted)
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", cursor.Scope, err)
	}
	return nil
}

// LoadCursor returns the cursor for a scope.
func (s *SQLiteStore) LoadCursor(ctx context.Context, scope string) (*models.Cursor, error) {
	var cur models.Cursor
	var lastSync, walkStarted sql.NullTime

	err := s.db.QueryRowContext(ctx, `
        SELECT scope, token, last_sync_time, walk_started_at FROM sync_cursor WHERE scope = ?
    `, scope).Scan(&cur.Scope, &cur.Token, &lastSync, &walkStarted)
	if err == sql.ErrNoRows {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cursor: %w", err)
	}

	if lastSync.Valid {
		cur.LastSyncTime = lastSync.Time
	}
	if walkStarted.Valid {
		cur.WalkStartedAt = walkStarted.Time
	}
	return &cur, nil
}

// WipeAll clears catalog tables and cursors together. A partial reset would
// leave the cursor pointing past data that no longer exists.
func (s *SQLiteStore) WipeAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range tableByType {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_cursor"); err != nil {
		return fmt.Errorf("wipe cursors: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wipe: %w", err)
	}

	s.logger.Info("Catalog database wiped")
	return nil
}

const objectColumns = `id, version, name, sku, barcode, price_amount, currency,
    category_id, item_id, percentage, active, updated_at`

// GetObject fetches a single entity by type and id.
func (s *SQLiteStore) GetObject(ctx context.Context, typ models.ObjectType, id string) (*models.Object, error) {
	table, ok := tableByType[typ]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", typ)
	}

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", objectColumns, table), id)

	obj, err := scanObject(row, typ)
	if err == sql.ErrNoRows {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query object: %w", err)
	}
	return obj, nil
}

// ListObjects returns a bounded sample of rows for a type, newest first.
func (s *SQLiteStore) ListObjects(ctx context.Context, typ models.ObjectType, limit int) ([]models.Object, error) {
	table, ok := tableByType[typ]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", typ)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY updated_at DESC LIMIT ?", objectColumns, table), limit)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	return collectObjects(rows, typ)
}

// Search matches normalized names across item, variation and category
// tables. Missing references are the consumer's concern; dangling
// category ids read as uncategorized.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]models.Object, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := "%" + NormalizeSearch(query) + "%"

	var out []models.Object
	for _, typ := range []models.ObjectType{models.TypeItem, models.TypeVariation, models.TypeCategory} {
		table := tableByType[typ]
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE name_norm LIKE ? AND active = 1
                ORDER BY name_norm LIMIT ?`, objectColumns, table),
			needle, limit-len(out))
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", table, err)
		}

		objs, err := collectObjects(rows, typ)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Counts reports row counts per entity type for diagnostics.
func (s *SQLiteStore) Counts(ctx context.Context) (map[models.ObjectType]int, error) {
	counts := make(map[models.ObjectType]int, len(tableByType))
	for typ, table := range tableByType {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[typ] = n
	}
	return counts, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObject(r rowScanner, typ models.ObjectType) (*models.Object, error) {
	var obj models.Object
	var updatedAt sql.NullTime

	err := r.Scan(&obj.ID, &obj.Version, &obj.Name, &obj.SKU, &obj.Barcode,
		&obj.PriceAmount, &obj.Currency, &obj.CategoryID, &obj.ItemID,
		&obj.Percentage, &obj.Active, &updatedAt)
	if err != nil {
		return nil, err
	}

	obj.Type = typ
	obj.Deleted = !obj.Active
	if updatedAt.Valid {
		obj.UpdatedAt = updatedAt.Time
	}
	return &obj, nil
}

func collectObjects(rows *sql.Rows, typ models.ObjectType) ([]models.Object, error) {
	var out []models.Object
	for rows.Next() {
		obj, err := scanObject(rows, typ)
		if err != nil {
			return nil, fmt.Errorf("scan object row: %w", err)
		}
		out = append(out, *obj)
	}
	return out, rows.Err()
}

// NormalizeSearch lowercases and strips diacritics so lookups match the way
// merchants actually type.
func NormalizeSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
