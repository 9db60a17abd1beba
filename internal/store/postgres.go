package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/i474232898/solar-viability/internal/logging"
	"github.com/i474232898/solar-viability/internal/solar"
)

// PostgresStore implements solar.Store on PostgreSQL. The full record is
// kept as JSONB next to the columns queries filter on.
type PostgresStore struct {
	db *sql.DB
}

// BuildPostgresDSNFromEnv assembles a DSN from the PG_* variables.
func BuildPostgresDSNFromEnv() string {
	host := getenv("PG_HOST", "localhost")
	port := getenv("PG_PORT", "5432")
	user := getenv("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := getenv("PG_DB", "solar")
	ssl := getenv("PG_SSLMODE", "disable")

	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// OpenPostgres opens a pool for dsn. maxOpen <= 0 keeps the default of 20.
func OpenPostgres(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpen <= 0 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	return db, nil
}

// NewPostgresStore wraps db. Call EnsureSchema before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the analyses table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS solar_analyses (
            id TEXT PRIMARY KEY,
            site_key TEXT NOT NULL,
            version INT NOT NULL,
            previous_id TEXT,
            verdict TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            record JSONB NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_solar_analyses_site ON solar_analyses(site_key, created_at)`,
	}
	for i, stmt := range stmts {
		logging.Debug().Int("idx", i).Msg("schema exec")
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec solar.AnalysisRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	var prev sql.NullString
	if rec.PreviousID != "" {
		prev = sql.NullString{String: rec.PreviousID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO solar_analyses(id, site_key, version, previous_id, verdict, created_at, record)
         VALUES($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.Coordinate.Key(), rec.Version, prev, string(rec.Verdict), rec.CreatedAt, body)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("save record %s: %w", rec.ID, ErrExists)
		}
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (solar.AnalysisRecord, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM solar_analyses WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return solar.AnalysisRecord{}, ErrNotFound
	}
	if err != nil {
		return solar.AnalysisRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return decodeRecord(body)
}

func (s *PostgresStore) History(ctx context.Context, siteKey string) ([]solar.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM solar_analyses WHERE site_key = $1 ORDER BY created_at, version`, siteKey)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", siteKey, err)
	}
	defer rows.Close()

	out := []solar.AnalysisRecord{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("history %s: %w", siteKey, err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Latest(ctx context.Context, siteKey string) (solar.AnalysisRecord, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM solar_analyses WHERE site_key = $1 ORDER BY created_at DESC, version DESC LIMIT 1`,
		siteKey).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return solar.AnalysisRecord{}, ErrNotFound
	}
	if err != nil {
		return solar.AnalysisRecord{}, fmt.Errorf("latest %s: %w", siteKey, err)
	}
	return decodeRecord(body)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func decodeRecord(body []byte) (solar.AnalysisRecord, error) {
	var rec solar.AnalysisRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return solar.AnalysisRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// MaxOpenFromEnv reads PG_MAX_OPEN_CONNS, returning 0 when unset or invalid.
func MaxOpenFromEnv() int {
	n, err := strconv.Atoi(os.Getenv("PG_MAX_OPEN_CONNS"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
