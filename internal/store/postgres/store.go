// Package postgres provides the Postgres-backed tender store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements tender.Store on top of a pgx connection pool. All keyed
// writes are idempotent upserts so reruns never duplicate rows.
type Store struct {
	pool dbPool
}

// NewStore connects a pool from the given config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertOrganization inserts the organization, keeping the existing row on
// conflict.
func (s *Store) UpsertOrganization(ctx context.Context, org tender.Organization) error {
	if org.SiteID == "" || org.Name == "" {
		return fmt.Errorf("organization site id and name are required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO organizations (site_id, name)
VALUES ($1, $2)
ON CONFLICT (site_id) DO NOTHING`, org.SiteID, org.Name)
	if err != nil {
		return fmt.Errorf("upsert organization: %w", err)
	}
	return nil
}

// UpsertCategory inserts one category reference row.
func (s *Store) UpsertCategory(ctx context.Context, cat tender.Category) error {
	if cat.ID == "" {
		return fmt.Errorf("category id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO tender_categories (id, name, category)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, cat.ID, cat.Name, cat.Group)
	if err != nil {
		return fmt.Errorf("upsert category: %w", err)
	}
	return nil
}

// UpsertTenderFound inserts a freshly discovered record. The url is the
// natural key; when it already exists in any status the insert is a no-op,
// so rediscovery never regresses a finished or failed record.
func (s *Store) UpsertTenderFound(ctx context.Context, rec tender.Record) error {
	if rec.URL == "" {
		return fmt.Errorf("tender url is required")
	}
	if rec.PublicationDate.IsZero() {
		return fmt.Errorf("tender publication date is required")
	}
	var deadline any
	if !rec.Deadline.IsZero() {
		deadline = rec.Deadline
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO tenders (
	organization_id, org_name, tender_no, project_name,
	url, pk_pms_main, publication_date, deadline, scrap_status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (url) DO NOTHING`,
		rec.OrganizationID,
		rec.OrgName,
		rec.TenderNo,
		rec.ProjectName,
		rec.URL,
		rec.PkPmsMain,
		rec.PublicationDate,
		deadline,
		string(tender.StatusFound),
	)
	if err != nil {
		return fmt.Errorf("insert tender: %w", err)
	}
	return nil
}

// UpdateTenderDetail merges the payload into the record's detail columns
// and moves its status, atomically. Payload keys outside the detail column
// whitelist are dropped.
func (s *Store) UpdateTenderDetail(ctx context.Context, url string, fields tender.DetailPayload, status tender.ScrapStatus) error {
	if url == "" {
		return fmt.Errorf("tender url is required")
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		if tender.IsDetailColumn(col) {
			columns = append(columns, col)
		}
	}
	sort.Strings(columns)

	var sb strings.Builder
	sb.WriteString("UPDATE tenders SET ")
	args := make([]any, 0, len(columns)+2)
	for _, col := range columns {
		fmt.Fprintf(&sb, "%s = $%d, ", col, len(args)+1)
		args = append(args, fields[col])
	}
	fmt.Fprintf(&sb, "scrap_status = $%d WHERE url = $%d", len(args)+1, len(args)+2)
	args = append(args, string(status), url)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin detail update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("update tender detail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no tender with url %q", url)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit detail update: %w", err)
	}
	return nil
}

// ListTenders returns every record in the given status, newest publication
// first.
func (s *Store) ListTenders(ctx context.Context, status tender.ScrapStatus) ([]tender.Record, error) {
	rows, err := s.pool.Query(ctx, `
SELECT organization_id, org_name, tender_no, project_name,
       url, pk_pms_main, publication_date, deadline, scrap_status
FROM tenders
WHERE scrap_status = $1
ORDER BY publication_date DESC, url`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tenders: %w", err)
	}
	defer rows.Close()

	var records []tender.Record
	for rows.Next() {
		var (
			rec      tender.Record
			deadline *time.Time
			st       string
		)
		err := rows.Scan(
			&rec.OrganizationID, &rec.OrgName, &rec.TenderNo, &rec.ProjectName,
			&rec.URL, &rec.PkPmsMain, &rec.PublicationDate, &deadline, &st,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tender row: %w", err)
		}
		if deadline != nil {
			rec.Deadline = *deadline
		}
		rec.Status = tender.ScrapStatus(st)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tender rows: %w", err)
	}
	return records, nil
}

// OrganizationID looks up the site id for an organization name; "" means
// the organization is not stored yet.
func (s *Store) OrganizationID(ctx context.Context, name string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT site_id FROM organizations WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup organization: %w", err)
	}
	return id, nil
}
