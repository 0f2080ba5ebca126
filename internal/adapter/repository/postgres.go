package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/core/domain"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

var (
	ErrScanNotFound = ports.ErrScanNotFound
	ErrMissingID    = errors.New("scan has no id")
)

// DBPool abstracts *pgxpool.Pool so the repository can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS scan_results (
		id          TEXT PRIMARY KEY,
		url         TEXT NOT NULL,
		risk_score  INTEGER NOT NULL,
		risk_level  TEXT NOT NULL,
		scan_date   TEXT NOT NULL DEFAULT '',
		payload     JSONB NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scan_results_archived_at ON scan_results (archived_at DESC);
	CREATE INDEX IF NOT EXISTS idx_scan_results_url_archived_at ON scan_results (url, archived_at DESC);
`

const upsertSQL = `
	INSERT INTO scan_results (id, url, risk_score, risk_level, scan_date, payload, archived_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		url = EXCLUDED.url,
		risk_score = EXCLUDED.risk_score,
		risk_level = EXCLUDED.risk_level,
		scan_date = EXCLUDED.scan_date,
		payload = EXCLUDED.payload,
		archived_at = EXCLUDED.archived_at
`

// PostgresRepository archives raw scan results. The full scan is kept as
// JSONB; the scalar columns exist for listing and ad-hoc queries.
type PostgresRepository struct {
	db  DBPool
	log *zap.Logger
	now func() time.Time
}

// NewPostgresRepository verifies the connection before returning.
func NewPostgresRepository(ctx context.Context, db DBPool, logger *zap.Logger) (*PostgresRepository, error) {
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{
		db:  db,
		log: logger.Named("repository"),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates the scan_results table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, scan domain.ScanResult) error {
	args, err := r.rowArgs(scan)
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("failed to save scan %s: %w", scan.ID, err)
	}

	r.log.Debug("Scan archived", zap.String("scan_id", scan.ID))
	return nil
}

func (r *PostgresRepository) SaveBatch(ctx context.Context, scans []domain.ScanResult) error {
	if len(scans) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, scan := range scans {
		args, err := r.rowArgs(scan)
		if err != nil {
			return err
		}
		batch.Queue(upsertSQL, args...)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, scan := range scans {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch insert for scan %s: %w", scan.ID, err)
		}
	}

	r.log.Debug("Scan batch archived", zap.Int("count", len(scans)))
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, scanID string) (domain.ScanResult, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM scan_results WHERE id = $1`, scanID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScanResult{}, fmt.Errorf("scan %s: %w", scanID, ErrScanNotFound)
	}
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}

	return decodePayload(scanID, payload)
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]domain.ScanResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, payload
		FROM scan_results
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	scans := []domain.ScanResult{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scan, err := decodePayload(id, payload)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return scans, nil
}

const previousByURLSQL = `
	SELECT id, payload, payload ? 'risk_score'
	FROM scan_results
	WHERE url = $1 AND archived_at < $2 AND id <> $3
	ORDER BY archived_at DESC
	LIMIT 1
`

// FindPreviousByURL loads the most recent scan of url archived before the
// given time. RiskScore is left nil for payloads stored without a score.
func (r *PostgresRepository) FindPreviousByURL(ctx context.Context, url string, before time.Time, excludeID string) (domain.PreviousScan, error) {
	var (
		id       string
		payload  []byte
		hasScore bool
	)
	err := r.db.QueryRow(ctx, previousByURLSQL, url, before, excludeID).Scan(&id, &payload, &hasScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PreviousScan{}, fmt.Errorf("previous scan of %s: %w", url, ErrScanNotFound)
	}
	if err != nil {
		return domain.PreviousScan{}, fmt.Errorf("failed to load previous scan of %s: %w", url, err)
	}

	scan, err := decodePayload(id, payload)
	if err != nil {
		return domain.PreviousScan{}, err
	}

	previous := domain.PreviousScan{
		ID:        scan.ID,
		ScanDate:  scan.Metadata.ScanDate,
		Anomalies: scan.Anomalies,
	}
	if hasScore {
		previous.RiskScore = &scan.RiskScore
	}
	return previous, nil
}

func (r *PostgresRepository) rowArgs(scan domain.ScanResult) ([]any, error) {
	if scan.ID == "" {
		return nil, ErrMissingID
	}
	scan = scan.Normalize()

	payload, err := json.Marshal(scan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan %s: %w", scan.ID, err)
	}

	return []any{
		scan.ID,
		scan.URL,
		domain.ClampScore(scan.RiskScore),
		string(scan.RiskLevel),
		scan.Metadata.ScanDate,
		json.RawMessage(payload),
		r.now(),
	}, nil
}

func decodePayload(id string, payload []byte) (domain.ScanResult, error) {
	var scan domain.ScanResult
	if err := json.Unmarshal(payload, &scan); err != nil {
		return domain.ScanResult{}, fmt.Errorf("failed to decode scan %s: %w", id, err)
	}
	scan.ID = id
	return scan.Normalize(), nil
}
