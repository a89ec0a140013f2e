// Package postgres implements warehouse.Store on PostgreSQL through
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/couchcryptid/quake-warehouse-etl/internal/warehouse"
)

//go:embed schema.sql
var schema string

// stageLockKey serializes warehouse units of work across processes.
const stageLockKey = 0x71756b65 // "quke"

// Store is a warehouse.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	queries map[string]dimQueries
}

var _ warehouse.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(max(1, maxOpenConns/2))
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, queries: make(map[string]dimQueries)}
}

// Migrate creates any missing warehouse tables. It is safe to call on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in one database transaction holding the warehouse advisory
// lock, so units of work from concurrent processes never interleave.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx warehouse.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", stageLockKey); err != nil {
		return fmt.Errorf("acquire warehouse lock: %w", err)
	}

	if err = fn(ctx, &tx{tx: sqlTx, store: s}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// dimQueries are the generated statements for one dimension.
type dimQueries struct {
	ensure     string
	lookup     string
	duplicates string
}

func (s *Store) queriesFor(dim warehouse.Dimension) dimQueries {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queries[dim.Table]; ok {
		return q
	}
	q := buildDimQueries(dim)
	s.queries[dim.Table] = q
	return q
}

// buildDimQueries generates the insert-if-absent, lookup and duplicate-count
// statements. Key values bind to $1..$k and attribute values follow.
//
// The ensure statement inserts the row unless the unique key exists and
// returns the surrogate ID either way, in a single round trip.
func buildDimQueries(dim warehouse.Dimension) dimQueries {
	table := pq.QuoteIdentifier(dim.Table)

	keyCols := quoteAll(dim.KeyColumns)
	allCols := append(slices.Clone(keyCols), quoteAll(dim.AttrColumns)...)

	placeholders := make([]string, len(allCols))
	for i := range allCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	where := make([]string, len(keyCols))
	for i, c := range keyCols {
		where[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	match := strings.Join(where, " AND ")
	keyList := strings.Join(keyCols, ", ")

	return dimQueries{
		ensure: fmt.Sprintf(`WITH ins AS (
	INSERT INTO %[1]s (%[2]s) VALUES (%[3]s)
	ON CONFLICT (%[4]s) DO NOTHING
	RETURNING id
)
SELECT id, true FROM ins
UNION ALL
SELECT id, false FROM %[1]s WHERE %[5]s
LIMIT 1`, table, strings.Join(allCols, ", "), strings.Join(placeholders, ", "), keyList, match),
		lookup: fmt.Sprintf("SELECT id FROM %s WHERE %s", table, match),
		duplicates: fmt.Sprintf(`SELECT COALESCE(SUM(n - 1), 0) FROM (
	SELECT count(*) AS n FROM %s GROUP BY %s HAVING count(*) > 1
) d`, table, keyList),
	}
}

func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pq.QuoteIdentifier(c)
	}
	return out
}
