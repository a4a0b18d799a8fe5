package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/paramlore/internal/types"
	"github.com/hyperengineering/paramlore/migrations"
)

// SQLitePersister keeps the knowledge base in SQLite tables. Each Save
// replaces every table inside one transaction.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens (or creates) the database at dbPath, applies
// pragmas and runs migrations.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLitePersister{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}

// Load reads every table. An empty database yields ErrNoSnapshot.
func (p *SQLitePersister) Load(ctx context.Context) (*Snapshot, error) {
	s := NewSnapshot()

	var updatedAt string
	err := p.db.QueryRowContext(ctx, `SELECT version, updated_at FROM kb_meta WHERE id = 1`).
		Scan(&s.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read kb_meta: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	loaders := []struct {
		query string
		scan  func(*sql.Rows) error
	}{
		{`SELECT param_name, decimal_places, unit_suffix, suffix_separator FROM format_patterns`, func(r *sql.Rows) error {
			var name string
			var f types.FormatSpec
			if err := r.Scan(&name, &f.DecimalPlaces, &f.UnitSuffix, &f.Separator); err != nil {
				return err
			}
			s.FormatByParamName[name] = f
			return nil
		}},
		{`SELECT pattern, min_value, max_value FROM range_patterns`, func(r *sql.Rows) error {
			var key string
			var rng types.Range
			if err := r.Scan(&key, &rng.Min, &rng.Max); err != nil {
				return err
			}
			s.RangePatterns[key] = rng
			return nil
		}},
		{`SELECT fragment, unit FROM unit_patterns`, func(r *sql.Rows) error {
			var frag, unit string
			if err := r.Scan(&frag, &unit); err != nil {
				return err
			}
			s.UnitPatterns[frag] = types.Unit(unit)
			return nil
		}},
		{`SELECT plugin, effect_type FROM effect_signatures`, func(r *sql.Rows) error {
			var plugin, effect string
			if err := r.Scan(&plugin, &effect); err != nil {
				return err
			}
			s.EffectSignatures[plugin] = effect
			return nil
		}},
		{`SELECT category, priority, keywords, learned FROM category_keyword_rules ORDER BY position`, func(r *sql.Rows) error {
			var rule KeywordRule
			var priority, keywords, learned string
			if err := r.Scan(&rule.Category, &priority, &keywords, &learned); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(keywords), &rule.Keywords); err != nil {
				return fmt.Errorf("decode keywords for %s: %w", rule.Category, err)
			}
			var names []string
			if err := json.Unmarshal([]byte(learned), &names); err != nil {
				return fmt.Errorf("decode learned keywords for %s: %w", rule.Category, err)
			}
			if len(names) > 0 {
				rule.Learned = names
			}
			rule.Priority = types.ParsePriority(priority)
			s.CategoryKeywordRules = append(s.CategoryKeywordRules, rule)
			return nil
		}},
		{`SELECT plugin, plugin_path, last_discovered, parameter_count, discoveries FROM plugin_history`, func(r *sql.Rows) error {
			var plugin, last string
			var h PluginHistory
			if err := r.Scan(&plugin, &h.Path, &last, &h.ParameterCount, &h.Discoveries); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, last)
			if err != nil {
				return fmt.Errorf("parse last_discovered for %s: %w", plugin, err)
			}
			h.LastDiscovered = t
			s.PluginHistory[plugin] = h
			return nil
		}},
	}

	for _, l := range loaders {
		if err := p.query(ctx, l.query, l.scan); err != nil {
			return nil, err
		}
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *SQLitePersister) query(ctx context.Context, q string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("query %q: %w", q, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %q: %w", q, err)
		}
	}
	return rows.Err()
}

// Save replaces all tables with s inside one transaction.
func (p *SQLitePersister) Save(ctx context.Context, s *Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"format_patterns", "range_patterns", "unit_patterns", "effect_signatures", "category_keyword_rules", "plugin_history"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for name, f := range s.FormatByParamName {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO format_patterns (param_name, decimal_places, unit_suffix, suffix_separator) VALUES (?, ?, ?, ?)`,
			name, f.DecimalPlaces, f.UnitSuffix, f.Separator); err != nil {
			return fmt.Errorf("insert format %s: %w", name, err)
		}
	}
	for key, r := range s.RangePatterns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO range_patterns (pattern, min_value, max_value) VALUES (?, ?, ?)`,
			key, r.Min, r.Max); err != nil {
			return fmt.Errorf("insert range %s: %w", key, err)
		}
	}
	for frag, u := range s.UnitPatterns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO unit_patterns (fragment, unit) VALUES (?, ?)`, frag, string(u)); err != nil {
			return fmt.Errorf("insert unit %s: %w", frag, err)
		}
	}
	for plugin, effect := range s.EffectSignatures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO effect_signatures (plugin, effect_type) VALUES (?, ?)`, plugin, effect); err != nil {
			return fmt.Errorf("insert signature %s: %w", plugin, err)
		}
	}
	for i, rule := range s.CategoryKeywordRules {
		keywords, err := json.Marshal(rule.Keywords)
		if err != nil {
			return fmt.Errorf("encode keywords for %s: %w", rule.Category, err)
		}
		learned := []byte("[]")
		if len(rule.Learned) > 0 {
			if learned, err = json.Marshal(rule.Learned); err != nil {
				return fmt.Errorf("encode learned keywords for %s: %w", rule.Category, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_keyword_rules (position, category, priority, keywords, learned) VALUES (?, ?, ?, ?, ?)`,
			i, rule.Category, string(rule.Priority), string(keywords), string(learned)); err != nil {
			return fmt.Errorf("insert keyword rule %s: %w", rule.Category, err)
		}
	}
	for plugin, h := range s.PluginHistory {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plugin_history (plugin, plugin_path, last_discovered, parameter_count, discoveries) VALUES (?, ?, ?, ?, ?)`,
			plugin, h.Path, h.LastDiscovered.UTC().Format(time.RFC3339Nano), h.ParameterCount, h.Discoveries); err != nil {
			return fmt.Errorf("insert history %s: %w", plugin, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kb_meta (id, version, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		s.Version, s.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write kb_meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}
