package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DroneTales/GreenHouse/shared/types"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var sqlFS embed.FS

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// ReadingRepository is the durable, append-only store of readings.
//
// Range queries use the half-open window from <= ts < to and return rows in
// ascending time order, ties broken by insertion order. A nil kinds slice
// means every kind; an empty non-nil slice matches nothing.
type ReadingRepository interface {
	Insert(ctx context.Context, r types.Reading) error
	QueryRange(ctx context.Context, from, to time.Time, kinds []types.Kind) ([]types.Reading, error)
	QueryRangeLimit(ctx context.Context, from, to time.Time, kinds []types.Kind, limit int) ([]types.Reading, error)
	// Latest returns the newest reading of each listed kind. Kinds with no
	// stored reading are omitted.
	Latest(ctx context.Context, kinds []types.Kind) ([]types.Reading, error)
	Count(ctx context.Context, from, to time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// StoreError wraps every failure reported by the repository.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type queries struct {
	insert         string
	readings       string
	readingsByKind string
	latest         string
	count          string
}

func loadQueries(dialect string) (queries, error) {
	var dir string
	switch dialect {
	case DialectSQLite:
		dir = "sql/sqlite"
	case DialectPostgres:
		dir = "sql/postgres"
	default:
		return queries{}, fmt.Errorf("unsupported dialect %q", dialect)
	}

	read := func(name string) (string, error) {
		b, err := sqlFS.ReadFile(dir + "/" + name)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return string(b), nil
	}

	var q queries
	var err error
	if q.insert, err = read("insert-reading.sql"); err != nil {
		return queries{}, err
	}
	if q.readings, err = read("get-readings.sql"); err != nil {
		return queries{}, err
	}
	if q.readingsByKind, err = read("get-readings-by-kind.sql"); err != nil {
		return queries{}, err
	}
	if q.latest, err = read("get-latest-reading.sql"); err != nil {
		return queries{}, err
	}
	if q.count, err = read("get-readings-count.sql"); err != nil {
		return queries{}, err
	}
	return q, nil
}

type repositoryImpl struct {
	db      *sql.DB
	dialect string
	q       queries

	// writeMu admits one writer at a time; readers never take it.
	writeMu    sync.Mutex
	insertStmt *sql.Stmt
}

// NewRepository prepares the statements for dialect against an already
// migrated database.
func NewRepository(ctx context.Context, db *sql.DB, dialect string) (ReadingRepository, error) {
	if db == nil {
		return nil, &StoreError{Op: "open", Err: errors.New("nil db")}
	}
	q, err := loadQueries(dialect)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	stmt, err := db.PrepareContext(ctx, q.insert)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: fmt.Errorf("prepare insert: %w", err)}
	}
	return &repositoryImpl{db: db, dialect: dialect, q: q, insertStmt: stmt}, nil
}

func (r *repositoryImpl) Insert(ctx context.Context, reading types.Reading) error {
	if err := reading.Validate(); err != nil {
		return &StoreError{Op: "insert", Err: err}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.insertStmt.ExecContext(ctx, reading.Time.UnixMilli(), int(reading.Kind), reading.Value); err != nil {
		return &StoreError{Op: "insert", Err: err}
	}
	return nil
}

func (r *repositoryImpl) QueryRange(ctx context.Context, from, to time.Time, kinds []types.Kind) ([]types.Reading, error) {
	return r.QueryRangeLimit(ctx, from, to, kinds, 0)
}

// QueryRangeLimit is QueryRange capped at limit rows. A limit <= 0 means no cap.
func (r *repositoryImpl) QueryRangeLimit(ctx context.Context, from, to time.Time, kinds []types.Kind, limit int) ([]types.Reading, error) {
	if kinds != nil && len(kinds) == 0 {
		return []types.Reading{}, nil
	}
	fromMs, toMs := ceilMs(from), ceilMs(to)
	if fromMs >= toMs {
		return []types.Reading{}, nil
	}

	var rows *sql.Rows
	var err error
	if kinds == nil {
		rows, err = r.db.QueryContext(ctx, r.q.readings, fromMs, toMs, r.limitArg(limit))
	} else {
		var filter string
		filter, err = kindFilter(kinds)
		if err != nil {
			return nil, &StoreError{Op: "query", Err: err}
		}
		rows, err = r.db.QueryContext(ctx, r.q.readingsByKind, fromMs, toMs, filter, r.limitArg(limit))
	}
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	out, err := scanReadings(rows)
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	return out, nil
}

func (r *repositoryImpl) Latest(ctx context.Context, kinds []types.Kind) ([]types.Reading, error) {
	out := make([]types.Reading, 0, len(kinds))
	for _, k := range kinds {
		var ts int64
		var kind int
		var value float64
		err := r.db.QueryRowContext(ctx, r.q.latest, int(k)).Scan(&ts, &kind, &value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, &StoreError{Op: "latest", Err: err}
		}
		out = append(out, types.Reading{Time: time.UnixMilli(ts).UTC(), Kind: types.Kind(kind), Value: value})
	}
	return out, nil
}

// ceilMs rounds t up to a whole millisecond. Stored timestamps are whole
// milliseconds, so ts >= ceilMs(t) is exactly ts >= t.
func ceilMs(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

func (r *repositoryImpl) Count(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, r.q.count, ceilMs(from), ceilMs(to)).Scan(&n); err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return n, nil
}

func (r *repositoryImpl) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the prepared statements. The *sql.DB stays open.
func (r *repositoryImpl) Close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.insertStmt.Close()
}

// limitArg encodes "no limit" the way each dialect expects it.
func (r *repositoryImpl) limitArg(limit int) any {
	if limit > 0 {
		return limit
	}
	if r.dialect == DialectPostgres {
		return nil
	}
	return -1
}

// kindFilter renders kinds as a JSON array bound as a single parameter.
func kindFilter(kinds []types.Kind) (string, error) {
	codes := make([]int, len(kinds))
	for i, k := range kinds {
		codes[i] = int(k)
	}
	b, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	out := []types.Reading{}
	for rows.Next() {
		var ts int64
		var kind int
		var value float64
		if err := rows.Scan(&ts, &kind, &value); err != nil {
			return nil, err
		}
		out = append(out, types.Reading{
			Time:  time.UnixMilli(ts).UTC(),
			Kind:  types.Kind(kind),
			Value: value,
		})
	}
	return out, rows.Err()
}
