package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/phonebridge/pkg/memory"
	"github.com/MrWong99/phonebridge/pkg/types"
)

var _ memory.SessionStore = (*Store)(nil)

// Store is the PostgreSQL conversation history store. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// WriteEntry implements [memory.SessionStore].
func (s *Store) WriteEntry(ctx context.Context, entry types.TranscriptEntry) error {
	if entry.CallID == "" {
		return errors.New("postgres store: write entry: call id must not be empty")
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	const q = `
		INSERT INTO call_turns (call_id, role, text, language, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		entry.CallID,
		string(entry.Role),
		entry.Text,
		entry.Language,
		ts,
		entry.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: write entry: %w", err)
	}
	return nil
}

// GetRecent implements [memory.SessionStore].
func (s *Store) GetRecent(ctx context.Context, callID string, limit int) ([]types.TranscriptEntry, error) {
	q := `
		SELECT call_id, role, text, language, timestamp, duration_ns
		FROM   call_turns
		WHERE  call_id = $1
		ORDER  BY timestamp DESC, id DESC`
	args := []any{callID}
	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get recent: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	// Newest first from the query; callers want oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Search implements [memory.SessionStore] with PostgreSQL full-text search.
// An empty query matches every entry.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]types.TranscriptEntry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"TRUE"}
	if strings.TrimSpace(query) != "" {
		conditions = append(conditions,
			"to_tsvector('simple', text) @@ plainto_tsquery('simple', "+next(query)+")")
	}
	if opts.CallID != "" {
		conditions = append(conditions, "call_id = "+next(opts.CallID))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(string(opts.Role)))
	}

	q := "SELECT call_id, role, text, language, timestamp, duration_ns\n" +
		"FROM   call_turns\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY timestamp, id"

	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectEntries(rows)
}

// collectEntries scans pgx rows into TranscriptEntry values.
func collectEntries(rows pgx.Rows) ([]types.TranscriptEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var (
			e          types.TranscriptEntry
			role       string
			durationNS int64
		)
		if err := row.Scan(&e.CallID, &role, &e.Text, &e.Language, &e.Timestamp, &durationNS); err != nil {
			return types.TranscriptEntry{}, err
		}
		e.Role = types.Role(role)
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []types.TranscriptEntry{}
	}
	return entries, nil
}
