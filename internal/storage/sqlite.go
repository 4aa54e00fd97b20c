package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for evaluations and user configs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "evaldeck.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Evaluations ---

const evalColumns = "id, owner_id, interaction_id, prompt, response, score, latency_ms, flags, pii_tokens_redacted, created_at"

func (s *Store) SaveEvaluation(e Evaluation) error {
	_, err := s.db.Exec(`
		INSERT INTO evaluations (`+evalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.InteractionID, e.Prompt, e.Response,
		e.Score, e.LatencyMs, e.Flags, e.PiiTokensRedacted,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEvaluation(id string) (Evaluation, error) {
	row := s.db.QueryRow(`SELECT `+evalColumns+` FROM evaluations WHERE id = ?`, id)
	e, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return Evaluation{}, ErrNotFound
	}
	return e, err
}

// ListEvaluations returns a page of an owner's evaluations, newest first.
func (s *Store) ListEvaluations(ownerID string, limit, offset int) ([]Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT `+evalColumns+` FROM evaluations
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvaluations(rows)
}

// CountEvaluations returns the total number of evaluations for an owner.
func (s *Store) CountEvaluations(ownerID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM evaluations WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}

// CountEvaluationsSince returns the number of an owner's evaluations with
// created_at >= since. Used to enforce the per-day ingestion cap.
func (s *Store) CountEvaluationsSince(ownerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM evaluations WHERE owner_id = ? AND created_at >= ?`,
		ownerID, since.UTC().Format(time.RFC3339),
	).Scan(&n)
	return n, err
}

// ListSince returns all of an owner's evaluations with created_at >= since,
// oldest first. This is the aggregation window read.
func (s *Store) ListSince(ownerID string, since time.Time) ([]Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT `+evalColumns+` FROM evaluations
		WHERE owner_id = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC`,
		ownerID, since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvaluations(rows)
}

// Recent returns the owner's most recent evaluations, strictly ordered by
// created_at descending with id descending as the tie-breaker so repeated
// calls over identical data return the same sequence.
func (s *Store) Recent(ownerID string, limit int) ([]Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT `+evalColumns+` FROM evaluations
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvaluations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(r rowScanner) (Evaluation, error) {
	var e Evaluation
	var createdAt string
	if err := r.Scan(
		&e.ID, &e.OwnerID, &e.InteractionID, &e.Prompt, &e.Response,
		&e.Score, &e.LatencyMs, &e.Flags, &e.PiiTokensRedacted, &createdAt,
	); err != nil {
		return Evaluation{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Evaluation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

func scanEvaluations(rows *sql.Rows) ([]Evaluation, error) {
	var results []Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- User config ---

// GetUserConfig returns the stored config for ownerID, or ErrNotFound if the
// owner has never saved one. Callers fall back to DefaultUserConfig.
func (s *Store) GetUserConfig(ownerID string) (UserConfig, error) {
	var c UserConfig
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT owner_id, run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day, updated_at
		FROM user_configs WHERE owner_id = ?`, ownerID,
	).Scan(&c.OwnerID, &c.RunPolicy, &c.SampleRatePct, &c.ObfuscatePii, &c.MaxEvalPerDay, &updatedAt)
	if err == sql.ErrNoRows {
		return UserConfig{}, ErrNotFound
	}
	if err != nil {
		return UserConfig{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return UserConfig{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	c.UpdatedAt = t
	return c, nil
}

// UpsertUserConfig inserts or replaces the owner's config row.
func (s *Store) UpsertUserConfig(c UserConfig) error {
	_, err := s.db.Exec(`
		INSERT INTO user_configs (owner_id, run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			run_policy = excluded.run_policy,
			sample_rate_pct = excluded.sample_rate_pct,
			obfuscate_pii = excluded.obfuscate_pii,
			max_eval_per_day = excluded.max_eval_per_day,
			updated_at = excluded.updated_at`,
		c.OwnerID, c.RunPolicy, c.SampleRatePct, c.ObfuscatePii, c.MaxEvalPerDay,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
