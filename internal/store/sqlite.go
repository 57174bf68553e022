package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Pragmas are passed through the DSN so every pooled connection gets them.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	identity_key  TEXT NOT NULL UNIQUE,
	stage         TEXT NOT NULL,
	submit_failed INTEGER NOT NULL DEFAULT 0,
	needs_draft   INTEGER NOT NULL DEFAULT 0,
	crm_pending   INTEGER NOT NULL DEFAULT 0,
	data          TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS record_claims (
	record_id  TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_windows (
	day     TEXT PRIMARY KEY,
	count   INTEGER NOT NULL DEFAULT 0,
	ceiling INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_stage ON records(stage, created_at, id);
CREATE INDEX IF NOT EXISTS idx_records_submit_failed ON records(submit_failed, created_at);
CREATE INDEX IF NOT EXISTS idx_records_needs_draft ON records(needs_draft, created_at);
CREATE INDEX IF NOT EXISTS idx_records_crm_pending ON records(crm_pending, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) GetByIdentity(ctx context.Context, identityKey string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE identity_key = ?`, identityKey)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record by identity %s", identityKey)
	}
	return rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec *model.Record) error {
	cols, err := prepareForPut(rec, s.now())
	if err != nil {
		return eris.Wrap(err, "sqlite: put record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, identity_key, stage, submit_failed, needs_draft, crm_pending, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			identity_key = excluded.identity_key,
			stage = excluded.stage,
			submit_failed = excluded.submit_failed,
			needs_draft = excluded.needs_draft,
			crm_pending = excluded.crm_pending,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.ID, rec.IdentityKey, string(rec.Stage),
		boolToInt(cols.submitFailed), boolToInt(cols.needsDraft), boolToInt(cols.crmPending),
		string(data), rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateIdentity, "sqlite: put record %s (%s)", rec.ID, rec.IdentityKey)
	}
	return eris.Wrapf(err, "sqlite: put record %s", rec.ID)
}

// PutClaimed writes rec in a single statement guarded by owner's claim.
func (s *SQLiteStore) PutClaimed(ctx context.Context, rec *model.Record, owner string) error {
	now := s.now()
	cols, err := prepareForPut(rec, now)
	if err != nil {
		return eris.Wrap(err, "sqlite: put claimed record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET
			identity_key = ?, stage = ?, submit_failed = ?, needs_draft = ?, crm_pending = ?,
			data = ?, updated_at = ?
		 WHERE id = ? AND EXISTS (
			SELECT 1 FROM record_claims
			WHERE record_id = ? AND owner = ? AND expires_at > ?)`,
		rec.IdentityKey, string(rec.Stage),
		boolToInt(cols.submitFailed), boolToInt(cols.needsDraft), boolToInt(cols.crmPending),
		string(data), rec.UpdatedAt.UnixNano(),
		rec.ID, rec.ID, owner, now.UnixNano(),
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateIdentity, "sqlite: put record %s (%s)", rec.ID, rec.IdentityKey)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: put claimed record %s", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrClaimLost, "sqlite: put record %s as %s", rec.ID, owner)
	}
	return nil
}

func (s *SQLiteStore) QueryByStage(ctx context.Context, stage model.Stage, limit int) ([]model.Record, error) {
	return s.ListAll(ctx, ListFilter{Stage: stage, Limit: limit})
}

func (s *SQLiteStore) ListAll(ctx context.Context, filter ListFilter) ([]model.Record, error) {
	query := `SELECT data FROM records WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.NeedsCRMSync {
		query += ` AND crm_pending = 1`
	}
	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	return s.queryRecords(ctx, "list records", query, args...)
}

func (s *SQLiteStore) ListFailedSubmissions(ctx context.Context, limit int) ([]model.Record, error) {
	query := `SELECT data FROM records WHERE submit_failed = 1 ORDER BY created_at, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, "list failed submissions", query, args...)
}

func (s *SQLiteStore) NextNeedingDraft(ctx context.Context) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE needs_draft = 1 ORDER BY created_at, id LIMIT 1`)
	rec, err := scanRecord(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next needing draft")
	}
	return rec, nil
}

func (s *SQLiteStore) CountByStage(ctx context.Context) (map[model.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM records GROUP BY stage`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by stage")
	}
	defer rows.Close()

	counts := make(map[model.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage count")
		}
		counts[model.Stage(stage)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by stage iterate")
}

// Claim takes or renews a lease on a record. It succeeds when no claim
// exists, the existing claim expired, or owner already holds it.
func (s *SQLiteStore) Claim(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO record_claims (record_id, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(record_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE record_claims.expires_at <= ? OR record_claims.owner = excluded.owner`,
		id, owner, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RenewClaim(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE record_claims SET expires_at = ? WHERE record_id = ? AND owner = ?`,
		s.now().Add(ttl).UnixNano(), id, owner,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: renew claim %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Release(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM record_claims WHERE record_id = ? AND owner = ?`, id, owner)
	return eris.Wrapf(err, "sqlite: release record %s", id)
}

func (s *SQLiteStore) LoadQuota(ctx context.Context, day string) (model.QuotaWindow, error) {
	w := model.QuotaWindow{Day: day}
	err := s.db.QueryRowContext(ctx,
		`SELECT count, ceiling FROM quota_windows WHERE day = ?`, day,
	).Scan(&w.Count, &w.Ceiling)
	if err != nil && err != sql.ErrNoRows {
		return w, eris.Wrapf(err, "sqlite: load quota %s", day)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM quota_windows`,
	).Scan(&w.AllTime); err != nil {
		return w, eris.Wrap(err, "sqlite: load all-time quota")
	}
	return w, nil
}

func (s *SQLiteStore) SaveQuota(ctx context.Context, w model.QuotaWindow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_windows (day, count, ceiling) VALUES (?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET count = excluded.count, ceiling = excluded.ceiling`,
		w.Day, w.Count, w.Ceiling,
	)
	return eris.Wrapf(err, "sqlite: save quota %s", w.Day)
}

// IncrementQuota bumps the day's count in one statement, refusing when the
// count has already reached ceiling.
func (s *SQLiteStore) IncrementQuota(ctx context.Context, day string, ceiling int) (model.QuotaWindow, error) {
	if ceiling <= 0 {
		w, err := s.LoadQuota(ctx, day)
		if err != nil {
			return w, err
		}
		return w, eris.Wrapf(model.ErrQuotaExhausted, "sqlite: increment quota %s", day)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_windows (day, count, ceiling) VALUES (?, 1, ?)
		 ON CONFLICT(day) DO UPDATE SET count = quota_windows.count + 1, ceiling = excluded.ceiling
		 WHERE quota_windows.count < excluded.ceiling`,
		day, ceiling,
	)
	if err != nil {
		return model.QuotaWindow{Day: day}, eris.Wrapf(err, "sqlite: increment quota %s", day)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.QuotaWindow{Day: day}, eris.Wrap(err, "sqlite: rows affected")
	}

	w, err := s.LoadQuota(ctx, day)
	if err != nil {
		return w, err
	}
	w.Ceiling = ceiling
	if n == 0 {
		return w, eris.Wrapf(model.ErrQuotaExhausted, "sqlite: increment quota %s", day)
	}
	return w, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s", op)
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var data []byte
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan record")
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (*model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "unmarshal record")
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
