/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements entitlement.TxStore, entitlement.SupportStore, and
  entitlement.PolicyStore using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

MUTATION ENFORCEMENT:
  The entitlement mutation contract is enforced in SQL:
  - MarkExpired:     UPDATE ... WHERE expired_at IS NULL
  - BindEnrollment:  UPDATE ... WHERE enrollment_run IS NULL
  Concurrent callers racing to expire the same record are safe without
  locks: the first writer wins, later writes match zero rows.

KEY TABLES:
  entitlements:     One row per entitlement; enrollment columns are null
                    until redeemed, expired_at is null until expired.
  policies:         Site policies (durations stored in seconds).
  support_details:  Append-only staff intervention log.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/entitlements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - entitlement/store.go: Interface definitions
  - entitlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/entitlement-engine/entitlement"
)

// Store implements the entitlement storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		uuid TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		order_number TEXT,
		expired_at TEXT,
		enrollment_run TEXT,
		enrollment_course TEXT,
		enrollment_mode TEXT,
		enrollment_created TEXT,
		policy_site TEXT,
		created_at TEXT NOT NULL
	);

	-- Hot path: a user's entitlements, newest first
	CREATE INDEX IF NOT EXISTS idx_entitlements_user
		ON entitlements(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entitlements_user_course
		ON entitlements(user_id, course_id);

	CREATE TABLE IF NOT EXISTS policies (
		site TEXT PRIMARY KEY,
		expiration_seconds INTEGER NOT NULL,
		refund_seconds INTEGER NOT NULL,
		regain_seconds INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only staff intervention log
	CREATE TABLE IF NOT EXISTS support_details (
		id TEXT PRIMARY KEY,
		entitlement_uuid TEXT NOT NULL,
		support_user TEXT NOT NULL,
		action TEXT NOT NULL,
		comments TEXT,
		unenrolled_run TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_support_entitlement
		ON support_details(entitlement_uuid);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer lets the write helpers run against both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ENTITLEMENT STORE (entitlement.Store interface)
// =============================================================================

func (s *Store) Insert(ctx context.Context, e *entitlement.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, s.db, e)
}

func (s *Store) insert(ctx context.Context, db execer, e *entitlement.Entitlement) error {
	var enrRun, enrCourse, enrMode, enrCreated sql.NullString
	if e.Enrollment != nil {
		enrRun = nullStr(string(e.Enrollment.RunKey))
		enrCourse = nullStr(e.Enrollment.CourseID.String())
		enrMode = nullStr(e.Enrollment.Mode)
		enrCreated = nullStr(e.Enrollment.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	var expiredAt sql.NullString
	if e.ExpiredAt != nil {
		expiredAt = nullStr(e.ExpiredAt.UTC().Format(time.RFC3339Nano))
	}
	var policySite sql.NullString
	if e.Policy != nil {
		policySite = nullStr(e.Policy.Site)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO entitlements
			(uuid, user_id, course_id, mode, order_number, expired_at,
			 enrollment_run, enrollment_course, enrollment_mode, enrollment_created,
			 policy_site, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UUID.String(), string(e.UserID), e.CourseID.String(), e.Mode,
		nullStr(e.OrderNumber), expiredAt,
		enrRun, enrCourse, enrMode, enrCreated,
		policySite, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entitlement: %w", err)
	}
	return nil
}

const entitlementColumns = `
	e.uuid, e.user_id, e.course_id, e.mode, e.order_number, e.expired_at,
	e.enrollment_run, e.enrollment_course, e.enrollment_mode, e.enrollment_created,
	e.policy_site, e.created_at,
	p.expiration_seconds, p.refund_seconds, p.regain_seconds`

const entitlementFrom = `
	FROM entitlements e
	LEFT JOIN policies p ON p.site = e.policy_site`

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*entitlement.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+entitlementColumns+entitlementFrom+" WHERE e.uuid = ?", id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanEntitlement(rows)
}

func (s *Store) ByUser(ctx context.Context, user entitlement.UserID) ([]*entitlement.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+entitlementColumns+entitlementFrom+
			" WHERE e.user_id = ? ORDER BY e.created_at DESC", string(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entitlement.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markExpired(ctx, s.db, id, at)
}

func (s *Store) markExpired(ctx context.Context, db execer, id uuid.UUID, at time.Time) error {
	// Only write while still null: first writer wins, repeats are no-ops.
	_, err := db.ExecContext(ctx,
		`UPDATE entitlements SET expired_at = ? WHERE uuid = ? AND expired_at IS NULL`,
		at.UTC().Format(time.RFC3339Nano), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark entitlement expired: %w", err)
	}
	return nil
}

func (s *Store) BindEnrollment(ctx context.Context, id uuid.UUID, enr entitlement.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindEnrollment(ctx, s.db, id, enr)
}

func (s *Store) bindEnrollment(ctx context.Context, db execer, id uuid.UUID, enr entitlement.Enrollment) error {
	res, err := db.ExecContext(ctx, `
		UPDATE entitlements
		SET enrollment_run = ?, enrollment_course = ?, enrollment_mode = ?, enrollment_created = ?
		WHERE uuid = ? AND enrollment_run IS NULL`,
		string(enr.RunKey), enr.CourseID.String(), enr.Mode,
		enr.CreatedAt.UTC().Format(time.RFC3339Nano), id.String())
	if err != nil {
		return fmt.Errorf("failed to bind enrollment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the record is missing or a run is already bound.
		var bound sql.NullString
		row := s.db.QueryRowContext(ctx,
			`SELECT enrollment_run FROM entitlements WHERE uuid = ?`, id.String())
		if err := row.Scan(&bound); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if bound.Valid {
			return entitlement.ErrAlreadyRedeemed
		}
	}
	return nil
}

func scanEntitlement(rows *sql.Rows) (*entitlement.Entitlement, error) {
	var (
		id, userID, courseID, mode, createdAt  string
		orderNumber, expiredAt, policySite     sql.NullString
		enrRun, enrCourse, enrMode, enrCreated sql.NullString
		expirationSec, refundSec, regainSec    sql.NullInt64
	)

	err := rows.Scan(&id, &userID, &courseID, &mode, &orderNumber, &expiredAt,
		&enrRun, &enrCourse, &enrMode, &enrCreated,
		&policySite, &createdAt,
		&expirationSec, &refundSec, &regainSec)
	if err != nil {
		return nil, err
	}

	e := &entitlement.Entitlement{
		UserID:      entitlement.UserID(userID),
		Mode:        mode,
		OrderNumber: orderNumber.String,
	}
	if e.UUID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt entitlement uuid %q: %w", id, err)
	}
	if e.CourseID, err = uuid.Parse(courseID); err != nil {
		return nil, fmt.Errorf("corrupt course uuid %q: %w", courseID, err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if expiredAt.Valid {
		at, err := parseTime(expiredAt.String)
		if err != nil {
			return nil, err
		}
		e.ExpiredAt = &at
	}
	if enrRun.Valid {
		enr := entitlement.Enrollment{
			RunKey: entitlement.CourseRunKey(enrRun.String),
			Mode:   enrMode.String,
		}
		if enr.CourseID, err = uuid.Parse(enrCourse.String); err != nil {
			return nil, fmt.Errorf("corrupt enrollment course uuid %q: %w", enrCourse.String, err)
		}
		if enr.CreatedAt, err = parseTime(enrCreated.String); err != nil {
			return nil, err
		}
		e.Enrollment = &enr
	}
	if policySite.Valid && expirationSec.Valid {
		e.Policy = &entitlement.Policy{
			ExpirationPeriod: time.Duration(expirationSec.Int64) * time.Second,
			RefundPeriod:     time.Duration(refundSec.Int64) * time.Second,
			RegainPeriod:     time.Duration(regainSec.Int64) * time.Second,
			Site:             policySite.String,
		}
	}
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (entitlement.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(entitlement.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Insert(ctx context.Context, e *entitlement.Entitlement) error {
	return ts.parent.insert(ctx, ts.tx, e)
}

func (ts *txStore) Get(ctx context.Context, id uuid.UUID) (*entitlement.Entitlement, error) {
	return ts.parent.Get(ctx, id)
}

func (ts *txStore) ByUser(ctx context.Context, user entitlement.UserID) ([]*entitlement.Entitlement, error) {
	return ts.parent.ByUser(ctx, user)
}

func (ts *txStore) MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error {
	return ts.parent.markExpired(ctx, ts.tx, id, at)
}

func (ts *txStore) BindEnrollment(ctx context.Context, id uuid.UUID, enr entitlement.Enrollment) error {
	return ts.parent.bindEnrollment(ctx, ts.tx, id, enr)
}

// =============================================================================
// POLICY STORE (entitlement.PolicyStore interface)
// =============================================================================

func (s *Store) SavePolicy(ctx context.Context, p entitlement.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (site, expiration_seconds, refund_seconds, regain_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(site) DO UPDATE SET
			expiration_seconds = excluded.expiration_seconds,
			refund_seconds = excluded.refund_seconds,
			regain_seconds = excluded.regain_seconds,
			updated_at = excluded.updated_at`,
		p.Site,
		int64(p.ExpirationPeriod/time.Second),
		int64(p.RefundPeriod/time.Second),
		int64(p.RegainPeriod/time.Second),
		now, now)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (s *Store) PolicyForSite(ctx context.Context, site string) (*entitlement.Policy, error) {
	var expirationSec, refundSec, regainSec int64
	row := s.db.QueryRowContext(ctx,
		`SELECT expiration_seconds, refund_seconds, regain_seconds FROM policies WHERE site = ?`, site)
	if err := row.Scan(&expirationSec, &refundSec, &regainSec); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &entitlement.Policy{
		ExpirationPeriod: time.Duration(expirationSec) * time.Second,
		RefundPeriod:     time.Duration(refundSec) * time.Second,
		RegainPeriod:     time.Duration(regainSec) * time.Second,
		Site:             site,
	}, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]entitlement.Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site, expiration_seconds, refund_seconds, regain_seconds FROM policies ORDER BY site`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entitlement.Policy
	for rows.Next() {
		var site string
		var expirationSec, refundSec, regainSec int64
		if err := rows.Scan(&site, &expirationSec, &refundSec, &regainSec); err != nil {
			return nil, err
		}
		out = append(out, entitlement.Policy{
			ExpirationPeriod: time.Duration(expirationSec) * time.Second,
			RefundPeriod:     time.Duration(refundSec) * time.Second,
			RegainPeriod:     time.Duration(regainSec) * time.Second,
			Site:             site,
		})
	}
	return out, rows.Err()
}

// =============================================================================
// SUPPORT STORE (entitlement.SupportStore interface)
// =============================================================================

func (s *Store) AppendSupport(ctx context.Context, a entitlement.SupportAnnotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO support_details (id, entitlement_uuid, support_user, action, comments, unenrolled_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.EntitlementID.String(), string(a.SupportUser), string(a.Action),
		nullStr(a.Comments), nullStr(string(a.UnenrolledRun)),
		a.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append support annotation: %w", err)
	}
	return nil
}

func (s *Store) SupportFor(ctx context.Context, entitlementID uuid.UUID) ([]entitlement.SupportAnnotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entitlement_uuid, support_user, action, comments, unenrolled_run, created_at
		FROM support_details WHERE entitlement_uuid = ? ORDER BY created_at`,
		entitlementID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entitlement.SupportAnnotation
	for rows.Next() {
		var a entitlement.SupportAnnotation
		var id, entID, supportUser, action, createdAt string
		var comments, unenrolledRun sql.NullString
		if err := rows.Scan(&id, &entID, &supportUser, &action, &comments, &unenrolledRun, &createdAt); err != nil {
			return nil, err
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if a.EntitlementID, err = uuid.Parse(entID); err != nil {
			return nil, err
		}
		a.SupportUser = entitlement.UserID(supportUser)
		a.Action = entitlement.SupportAction(action)
		a.Comments = comments.String
		a.UnenrolledRun = entitlement.CourseRunKey(unenrolledRun.String)
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

// Compile-time interface checks.
var (
	_ entitlement.TxStore      = (*Store)(nil)
	_ entitlement.SupportStore = (*Store)(nil)
	_ entitlement.PolicyStore  = (*Store)(nil)
)
