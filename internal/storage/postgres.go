package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogPluginLoad inserts a plugin load record into the audit log.
func (db *DB) LogPluginLoad(ctx context.Context, load *PluginLoad) error {
	query := `
		INSERT INTO plugin_loads (id, hash, version, size_bytes, status, detections, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.pool.Exec(ctx, query,
		load.ID, load.Hash, load.Version, load.SizeBytes,
		load.Status, load.Detections,
		truncateForDB(load.Detail, 4096),
		load.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting plugin load: %w", err)
	}
	return nil
}

// LogSecurityEvent inserts a security event record.
func (db *DB) LogSecurityEvent(ctx context.Context, event *SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, plugin_id, type, severity, detail, source_id, seq_no, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.pool.Exec(ctx, query,
		event.ID, event.PluginID, event.Type, event.Severity,
		truncateForDB(event.Detail, 4096),
		event.SourceID, event.SeqNo, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	return nil
}

// GetPluginLoad retrieves a single load record by ID.
func (db *DB) GetPluginLoad(ctx context.Context, id string) (*PluginLoad, error) {
	query := `
		SELECT id, hash, version, size_bytes, status, detections, detail, created_at
		FROM plugin_loads WHERE id = $1`

	var load PluginLoad
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&load.ID, &load.Hash, &load.Version, &load.SizeBytes,
		&load.Status, &load.Detections, &load.Detail, &load.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying plugin load %s: %w", id, err)
	}
	return &load, nil
}

// ListPluginLoads queries load records with optional filters.
func (db *DB) ListPluginLoads(ctx context.Context, filter LoadFilter) ([]PluginLoad, error) {
	query := `
		SELECT id, hash, version, size_bytes, status, detections, created_at
		FROM plugin_loads
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying plugin loads: %w", err)
	}
	defer rows.Close()

	var results []PluginLoad
	for rows.Next() {
		var load PluginLoad
		if err := rows.Scan(
			&load.ID, &load.Hash, &load.Version, &load.SizeBytes,
			&load.Status, &load.Detections, &load.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning plugin load row: %w", err)
		}
		results = append(results, load)
	}

	return results, rows.Err()
}

// RecentSecurityEvents returns the newest security events, newest first.
func (db *DB) RecentSecurityEvents(ctx context.Context, limit int) ([]SecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, plugin_id, type, severity, detail, source_id, seq_no, created_at
		FROM security_events
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	defer rows.Close()

	var results []SecurityEvent
	for rows.Next() {
		var ev SecurityEvent
		if err := rows.Scan(
			&ev.ID, &ev.PluginID, &ev.Type, &ev.Severity,
			&ev.Detail, &ev.SourceID, &ev.SeqNo, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning security event row: %w", err)
		}
		results = append(results, ev)
	}

	return results, rows.Err()
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
