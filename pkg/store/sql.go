package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries run against.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL is the database-backed Store. One implementation serves both
// SQLite and Postgres; queries are written with ? placeholders and
// rebound for Postgres.
type SQL struct {
	db      *sql.DB
	runner  dbtx
	dialect dialect
}

// OpenSQLite opens (and migrates) a SQLite store at path. The DSN
// forces immediate transactions so concurrent writers queue instead
// of failing, and WAL mode so readers do not block them.
func OpenSQLite(path string) (*SQL, error) {
	dsn := "file:" + path + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQLite(db)
}

// NewSQLite wraps an already opened SQLite handle and migrates it.
func NewSQLite(db *sql.DB) (*SQL, error) {
	s := &SQL{db: db, runner: db, dialect: dialectSQLite}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens (and migrates) a Postgres store.
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgres(db)
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an already opened Postgres handle without
// migrating, which keeps it usable with test doubles.
func NewPostgres(db *sql.DB) *SQL {
	return &SQL{db: db, runner: db, dialect: dialectPostgres}
}

// Migrate creates the schema if it does not exist yet.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.runner.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQL) Close() error {
	if s.inTx() {
		return nil
	}
	return s.db.Close()
}

func (s *SQL) inTx() bool {
	_, ok := s.runner.(*sql.Tx)
	return ok
}

// WithinTx runs fn inside a database transaction. Nested calls join
// the enclosing transaction. On SQLite the immediate lock serializes
// writers; on Postgres the first row touched pins the decision.
func (s *SQL) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx() {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &SQL{db: s.db, runner: tx, dialect: s.dialect}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// q rewrites ? placeholders to $n for Postgres.
func (s *SQL) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.runner.QueryRowContext(ctx, s.q(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQL) decisionExists(ctx context.Context, orgID, decisionID string) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM decisions WHERE organization_id = ? AND id = ?`,
		orgID, decisionID)
}

// mapWriteErr folds driver-specific unique violations into ErrConflict.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrConflict
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// SQLITE_CONSTRAINT_PRIMARYKEY and SQLITE_CONSTRAINT_UNIQUE.
		if liteErr.Code() == 1555 || liteErr.Code() == 2067 {
			return ErrConflict
		}
	}
	return err
}

// timeFmt is a fixed-width RFC 3339 encoding in UTC, so stored
// timestamps compare correctly as strings.
const timeFmt = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFmt)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func parseStoredTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseStoredTime(ns.String)
	return &t
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(b), nil
}

func unmarshalInto(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dst); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

// rowScanner lets *sql.Row and *sql.Rows share scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

var _ Store = (*SQL)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decisions (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	parameters TEXT,
	lifecycle TEXT NOT NULL,
	health_signal INTEGER NOT NULL DEFAULT 100,
	invalidated_reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	last_reviewed_at TEXT,
	last_evaluated_at TEXT,
	needs_evaluation BOOLEAN NOT NULL DEFAULT FALSE,
	expiry_date TEXT,
	governance_mode BOOLEAN NOT NULL DEFAULT FALSE,
	governance_tier TEXT NOT NULL DEFAULT 'STANDARD',
	requires_second_reviewer BOOLEAN NOT NULL DEFAULT FALSE,
	edit_justification_required BOOLEAN NOT NULL DEFAULT FALSE,
	locked_at TEXT,
	locked_by TEXT NOT NULL DEFAULT '',
	review_urgency_score INTEGER NOT NULL DEFAULT 0,
	next_review_date TEXT,
	review_frequency_days INTEGER NOT NULL DEFAULT 0,
	consecutive_deferrals INTEGER NOT NULL DEFAULT 0,
	urgency_factors TEXT,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_decisions_candidates
	ON decisions (organization_id, lifecycle, needs_evaluation);

CREATE TABLE IF NOT EXISTS assumptions (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	scope TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_assumptions_scope
	ON assumptions (organization_id, scope);

CREATE TABLE IF NOT EXISTS constraints (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	constraint_type TEXT NOT NULL,
	validation TEXT,
	is_immutable BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS decision_assumption_links (
	organization_id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	assumption_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, decision_id, assumption_id)
);
CREATE INDEX IF NOT EXISTS idx_assumption_links_assumption
	ON decision_assumption_links (organization_id, assumption_id);

CREATE TABLE IF NOT EXISTS decision_constraint_links (
	organization_id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	constraint_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, decision_id, constraint_id)
);
CREATE INDEX IF NOT EXISTS idx_constraint_links_constraint
	ON decision_constraint_links (organization_id, constraint_id);

CREATE TABLE IF NOT EXISTS dependency_edges (
	organization_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, source_id, target_id)
);
CREATE INDEX IF NOT EXISTS idx_dependency_edges_target
	ON dependency_edges (organization_id, target_id);

CREATE TABLE IF NOT EXISTS decision_versions (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	snapshot TEXT,
	snapshot_hash TEXT NOT NULL DEFAULT '',
	change_type TEXT NOT NULL,
	change_summary TEXT NOT NULL DEFAULT '',
	changed_fields TEXT,
	reviewer_comment TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id),
	UNIQUE (organization_id, decision_id, version_number)
);

CREATE TABLE IF NOT EXISTS decision_relation_changes (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	relation_id TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	changed_by TEXT NOT NULL DEFAULT '',
	changed_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_relation_changes_decision
	ON decision_relation_changes (organization_id, decision_id, changed_at);

CREATE TABLE IF NOT EXISTS evaluation_history (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	old_lifecycle TEXT NOT NULL,
	new_lifecycle TEXT NOT NULL,
	old_health INTEGER NOT NULL,
	new_health INTEGER NOT NULL,
	invalidated_reason TEXT NOT NULL DEFAULT '',
	trace TEXT,
	trace_hash TEXT NOT NULL DEFAULT '',
	triggered_by TEXT NOT NULL,
	evaluated_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_evaluation_history_decision
	ON evaluation_history (organization_id, decision_id, evaluated_at);

CREATE TABLE IF NOT EXISTS decision_reviews (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	reviewer TEXT NOT NULL DEFAULT '',
	review_type TEXT NOT NULL,
	outcome TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	pre_lifecycle TEXT NOT NULL,
	post_lifecycle TEXT NOT NULL,
	pre_health INTEGER NOT NULL,
	post_health INTEGER NOT NULL,
	deferral_reason TEXT NOT NULL DEFAULT '',
	next_review_date TEXT,
	reviewed_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_decision_reviews_decision
	ON decision_reviews (organization_id, decision_id, reviewed_at);

CREATE TABLE IF NOT EXISTS governance_audit_entries (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	action TEXT NOT NULL,
	requester TEXT NOT NULL DEFAULT '',
	approver TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL DEFAULT '',
	previous_state TEXT,
	new_state TEXT,
	proposed_changes TEXT,
	reviewer_notes TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	resolved_at TEXT,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_governance_audit_decision
	ON governance_audit_entries (organization_id, decision_id, created_at);

CREATE TABLE IF NOT EXISTS assumption_conflicts (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	assumption_id TEXT NOT NULL,
	decision_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	detected_by TEXT NOT NULL DEFAULT '',
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	detected_at TEXT NOT NULL,
	resolved_at TEXT,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_assumption_conflicts_assumption
	ON assumption_conflicts (organization_id, assumption_id, resolved);

CREATE TABLE IF NOT EXISTS decision_conflicts (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	other_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	detected_by TEXT NOT NULL DEFAULT '',
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	detected_at TEXT NOT NULL,
	resolved_at TEXT,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_decision_conflicts_decision
	ON decision_conflicts (organization_id, decision_id, resolved);

CREATE TABLE IF NOT EXISTS notifications (
	organization_id TEXT NOT NULL,
	id TEXT NOT NULL,
	decision_id TEXT NOT NULL DEFAULT '',
	notification_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	fields TEXT,
	created_at TEXT NOT NULL,
	PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_notifications_org
	ON notifications (organization_id, created_at);
`
