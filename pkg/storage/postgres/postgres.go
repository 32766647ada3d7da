// Package postgres stores webhook deliveries in PostgreSQL using a pgx
// connection pool. Payloads and headers are kept as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/storage"
)

// Store is a PostgreSQL storage.DeliveryStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.DeliveryStore = (*Store)(nil)

// New connects to PostgreSQL and, if configured, applies migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// Save inserts d. A missing id or receive time is filled in.
func (s *Store) Save(ctx context.Context, d *storage.Delivery) error {
	if d.ID == "" {
		d.ID = storage.NewDeliveryID()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now().UTC()
	}
	// TIMESTAMPTZ keeps microseconds.
	d.ReceivedAt = d.ReceivedAt.Truncate(time.Microsecond)

	payload := d.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	var headers []byte
	if len(d.Headers) > 0 {
		var err error
		if headers, err = json.Marshal(d.Headers); err != nil {
			return fmt.Errorf("marshaling headers: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, source, event, payload, headers, request_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, storage.GetTenant(ctx), d.Source, d.Event, []byte(payload), headers, d.RequestID, d.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting delivery: %w", err)
	}
	debug.Log(debug.Storage, "delivery saved", "id", d.ID, "source", d.Source)
	return nil
}

const selectColumns = `SELECT id, source, event, payload, headers, request_id, received_at FROM webhook_deliveries`

// Get returns the delivery with id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Delivery, error) {
	query, args := scoped(ctx, selectColumns+` WHERE id = $1`, id)
	d, err := scanDelivery(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}

// List returns one page of deliveries ordered by receive time.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.DeliveryList, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if tenant := storage.GetTenant(ctx); tenant != "" {
		where = append(where, "tenant_id = "+arg(tenant))
	}
	if opts.Source != "" {
		where = append(where, "source = "+arg(opts.Source))
	}

	dir, cmp := "DESC", "<"
	if opts.Ascending() {
		dir, cmp = "ASC", ">"
	}
	if opts.After != "" {
		p := arg(opts.After)
		where = append(where, fmt.Sprintf(
			"(received_at, id) %s (SELECT received_at, id FROM webhook_deliveries WHERE id = %s)", cmp, p))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.EffectiveLimit()
	query += fmt.Sprintf(" ORDER BY received_at %s, id %s LIMIT %s", dir, dir, arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		matches = append(matches, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return storage.NewDeliveryList(matches, limit), nil
}

// Delete removes the delivery with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	query, args := scoped(ctx, `DELETE FROM webhook_deliveries WHERE id = $1`, id)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scoped restricts a single-row statement to the tenant of ctx, if any.
func scoped(ctx context.Context, query, id string) (string, []any) {
	if tenant := storage.GetTenant(ctx); tenant != "" {
		return query + " AND tenant_id = $2", []any{id, tenant}
	}
	return query, []any{id}
}

func scanDelivery(row pgx.Row) (*storage.Delivery, error) {
	var (
		d       storage.Delivery
		payload []byte
		headers []byte
	)
	if err := row.Scan(&d.ID, &d.Source, &d.Event, &payload, &headers, &d.RequestID, &d.ReceivedAt); err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &d.Headers); err != nil {
			return nil, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}
	d.ReceivedAt = d.ReceivedAt.UTC()
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
