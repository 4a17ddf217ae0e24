package alert

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger holds alert records. At most one active record may exist per
// (group, host, type) at any time; resolved history is unbounded and
// never deleted here.
type Ledger interface {
	// OpenIfAbsent inserts a new active record unless one already exists
	// for the triple. Reports whether a record was inserted; when it was
	// not, the existing record (and its FirstDetectedAt) is untouched.
	OpenIfAbsent(ctx context.Context, group, host string, typ Type, firstDetected, lastSeen time.Time) (bool, error)
	// TouchLastSeen advances last_seen on the active record, if any.
	TouchLastSeen(ctx context.Context, group, host string, typ Type, lastSeen time.Time) error
	// Resolve transitions matching active records to resolved and
	// returns how many were transitioned.
	Resolve(ctx context.Context, group, host string, typ Type, at time.Time) (int64, error)
	ListActive(ctx context.Context, group, host string) ([]Alert, error)
	ListActiveByType(ctx context.Context, typ Type) ([]Alert, error)
}

// SQLLedger is the Postgres ledger. The single-active invariant is a
// partial unique index over (group_name, host, type) WHERE resolved_at
// IS NULL, which makes OpenIfAbsent an atomic compare-and-insert.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id UUID PRIMARY KEY,
	group_name TEXT NOT NULL,
	host TEXT NOT NULL,
	type TEXT NOT NULL,
	first_detected_at TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS alerts_active_key
	ON alerts (group_name, host, type) WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS alerts_host_idx ON alerts (group_name, host);
`

// EnsureSchema creates the alerts table and its indexes.
func (l *SQLLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, ledgerSchema)
	return err
}

const openIfAbsentQuery = `INSERT INTO alerts (id, group_name, host, type, first_detected_at, last_seen, resolved_at) VALUES ($1, $2, $3, $4, $5, $6, NULL) ON CONFLICT (group_name, host, type) WHERE resolved_at IS NULL DO NOTHING`

func (l *SQLLedger) OpenIfAbsent(ctx context.Context, group, host string, typ Type, firstDetected, lastSeen time.Time) (bool, error) {
	if group == "" || host == "" {
		return false, fmt.Errorf("alert: missing group or host")
	}
	if !typ.Valid() {
		return false, fmt.Errorf("alert: unknown type %q", typ)
	}

	res, err := l.db.ExecContext(ctx, openIfAbsentQuery,
		uuid.NewString(), group, host, string(typ), firstDetected, lastSeen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const touchLastSeenQuery = `UPDATE alerts SET last_seen = $1 WHERE group_name = $2 AND host = $3 AND type = $4 AND resolved_at IS NULL`

func (l *SQLLedger) TouchLastSeen(ctx context.Context, group, host string, typ Type, lastSeen time.Time) error {
	_, err := l.db.ExecContext(ctx, touchLastSeenQuery, lastSeen, group, host, string(typ))
	return err
}

const resolveQuery = `UPDATE alerts SET resolved_at = $1 WHERE group_name = $2 AND host = $3 AND type = $4 AND resolved_at IS NULL`

func (l *SQLLedger) Resolve(ctx context.Context, group, host string, typ Type, at time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, resolveQuery, at, group, host, string(typ))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listActiveQuery = `SELECT id, group_name, host, type, first_detected_at, last_seen FROM alerts WHERE group_name = $1 AND host = $2 AND resolved_at IS NULL ORDER BY first_detected_at`

func (l *SQLLedger) ListActive(ctx context.Context, group, host string) ([]Alert, error) {
	rows, err := l.db.QueryContext(ctx, listActiveQuery, group, host)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActive(rows)
}

const listActiveByTypeQuery = `SELECT id, group_name, host, type, first_detected_at, last_seen FROM alerts WHERE type = $1 AND resolved_at IS NULL ORDER BY first_detected_at`

func (l *SQLLedger) ListActiveByType(ctx context.Context, typ Type) ([]Alert, error) {
	rows, err := l.db.QueryContext(ctx, listActiveByTypeQuery, string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActive(rows)
}

func scanActive(rows *sql.Rows) ([]Alert, error) {
	var out []Alert
	for rows.Next() {
		var a Alert
		var typ string
		if err := rows.Scan(&a.ID, &a.Group, &a.Host, &typ, &a.FirstDetectedAt, &a.LastSeen); err != nil {
			return nil, err
		}
		a.Type = Type(typ)
		a.Resolution = Active()
		out = append(out, a)
	}
	return out, rows.Err()
}
