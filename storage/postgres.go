// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package storage provides the persistence backends of the coordinator:
// a PostgreSQL store for durable deployments and an in-memory store for
// development and tests. Both satisfy registry.Store and the graph
// cache's snapshot contract; callers must not depend on which is active.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"axonflow/coordinator/registry"
)

// ErrNoSnapshot is returned when no knowledge-graph snapshot has been
// persisted yet.
var ErrNoSnapshot = errors.New("no graph snapshot persisted")

// PostgresStore implements the registry and graph persistence contracts
// using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements the registry contract
var _ registry.Store = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool for the given URL and
// verifies connectivity.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection (used by tests).
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the coordinator tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS registered_services (
			id UUID PRIMARY KEY,
			service_name TEXT NOT NULL,
			version TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			health_check TEXT NOT NULL DEFAULT '/health',
			migration_file JSONB NOT NULL DEFAULT '{}',
			registered_at TIMESTAMPTZ NOT NULL,
			last_health_check TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'active'
		);
		CREATE INDEX IF NOT EXISTS idx_registered_services_name
			ON registered_services (service_name, registered_at DESC);
		CREATE TABLE IF NOT EXISTS knowledge_graph (
			id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL,
			graph_data JSONB NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_graph_version
			ON knowledge_graph (version DESC)`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertService stores a new service record.
func (s *PostgresStore) InsertService(ctx context.Context, svc *registry.Service) error {
	migration, err := json.Marshal(svc.Migration)
	if err != nil {
		return fmt.Errorf("failed to marshal migration descriptor: %w", err)
	}

	query := `
		INSERT INTO registered_services (
			id, service_name, version, endpoint, health_check,
			migration_file, registered_at, last_health_check, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(ctx, query,
		svc.ID, svc.Name, svc.Version, svc.Endpoint, svc.HealthCheck,
		migration, svc.RegisteredAt, svc.LastHealthCheck, string(svc.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	return nil
}

const serviceColumns = `id, service_name, version, endpoint, health_check,
		migration_file, registered_at, last_health_check, status`

// GetServiceByID returns the service with the given ID.
func (s *PostgresStore) GetServiceByID(ctx context.Context, id string) (*registry.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM registered_services WHERE id = $1`
	return s.scanService(s.db.QueryRowContext(ctx, query, id))
}

// GetServiceByName returns the most recently registered service with the
// given name. Ordering by registered_at with id as tiebreaker keeps the
// result deterministic when timestamps collide.
func (s *PostgresStore) GetServiceByName(ctx context.Context, name string) (*registry.Service, error) {
	query := `SELECT ` + serviceColumns + `
		FROM registered_services
		WHERE service_name = $1
		ORDER BY registered_at DESC, id DESC
		LIMIT 1`
	return s.scanService(s.db.QueryRowContext(ctx, query, name))
}

// ListServices returns all services, newest first.
func (s *PostgresStore) ListServices(ctx context.Context) ([]*registry.Service, error) {
	query := `SELECT ` + serviceColumns + `
		FROM registered_services
		ORDER BY registered_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*registry.Service
	for rows.Next() {
		svc, err := scanServiceRow(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate services: %w", err)
	}
	return services, nil
}

// UpdateServiceStatus sets the status and last-health-check timestamp.
func (s *PostgresStore) UpdateServiceStatus(ctx context.Context, id string, status registry.Status, checkedAt time.Time) error {
	query := `UPDATE registered_services
		SET status = $2, last_health_check = $3
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, string(status), checkedAt)
	if err != nil {
		return fmt.Errorf("failed to update service status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// CountServices returns the total number of registered services.
func (s *PostgresStore) CountServices(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registered_services`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count services: %w", err)
	}
	return count, nil
}

// CountActiveServices returns the number of services with status active.
func (s *PostgresStore) CountActiveServices(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registered_services WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active services: %w", err)
	}
	return count, nil
}

// SaveGraphSnapshot persists a knowledge-graph snapshot. One row per
// version; the latest version is authoritative.
func (s *PostgresStore) SaveGraphSnapshot(ctx context.Context, version int, payload []byte) error {
	query := `INSERT INTO knowledge_graph (version, graph_data, last_updated)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, version, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save graph snapshot: %w", err)
	}
	return nil
}

// LatestGraphSnapshot returns the highest-version snapshot.
func (s *PostgresStore) LatestGraphSnapshot(ctx context.Context) (int, []byte, time.Time, error) {
	query := `SELECT version, graph_data, last_updated
		FROM knowledge_graph
		ORDER BY version DESC
		LIMIT 1`

	var version int
	var payload []byte
	var updated time.Time
	err := s.db.QueryRowContext(ctx, query).Scan(&version, &payload, &updated)
	if err == sql.ErrNoRows {
		return 0, nil, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return 0, nil, time.Time{}, fmt.Errorf("failed to load graph snapshot: %w", err)
	}
	return version, payload, updated, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanService(row *sql.Row) (*registry.Service, error) {
	svc, err := scanServiceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	return svc, err
}

func scanServiceRow(row rowScanner) (*registry.Service, error) {
	svc := &registry.Service{}
	var migration []byte
	var lastCheck sql.NullTime
	var status string

	err := row.Scan(
		&svc.ID, &svc.Name, &svc.Version, &svc.Endpoint, &svc.HealthCheck,
		&migration, &svc.RegisteredAt, &lastCheck, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan service: %w", err)
	}

	svc.Status = registry.Status(status)
	if lastCheck.Valid {
		svc.LastHealthCheck = &lastCheck.Time
	}
	if len(migration) > 0 {
		m := &registry.Migration{}
		if err := json.Unmarshal(migration, m); err == nil {
			svc.Migration = m
		}
	}
	return svc, nil
}
