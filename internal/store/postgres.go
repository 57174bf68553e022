package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/db"
	"github.com/sells-group/leadflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var recordUpsert = db.UpsertConfig{
	Table:        "records",
	Columns:      []string{"id", "identity_key", "stage", "submit_failed", "needs_draft", "crm_pending", "data", "created_at", "updated_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"identity_key", "stage", "submit_failed", "needs_draft", "crm_pending", "data", "updated_at"},
}

var quotaUpsert = db.UpsertConfig{
	Table:        "quota_windows",
	Columns:      []string{"day", "count", "ceiling"},
	ConflictKeys: []string{"day"},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	var cfg db.PoolConfig
	if poolCfg != nil {
		cfg = db.PoolConfig{MaxConns: poolCfg.MaxConns, MinConns: poolCfg.MinConns}
	}
	pool, err := db.NewPool(ctx, connString, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return newPostgresWithPool(pool), nil
}

func newPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	identity_key  TEXT NOT NULL UNIQUE,
	stage         TEXT NOT NULL,
	submit_failed BOOLEAN NOT NULL DEFAULT false,
	needs_draft   BOOLEAN NOT NULL DEFAULT false,
	crm_pending   BOOLEAN NOT NULL DEFAULT false,
	data          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS record_claims (
	record_id  TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_windows (
	day     TEXT PRIMARY KEY,
	count   INTEGER NOT NULL DEFAULT 0,
	ceiling INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_stage ON records(stage, created_at, id);
CREATE INDEX IF NOT EXISTS idx_records_submit_failed ON records(created_at) WHERE submit_failed;
CREATE INDEX IF NOT EXISTS idx_records_needs_draft ON records(created_at) WHERE needs_draft;
CREATE INDEX IF NOT EXISTS idx_records_crm_pending ON records(created_at) WHERE crm_pending;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.queryOne(ctx, `SELECT data FROM records WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) GetByIdentity(ctx context.Context, identityKey string) (*model.Record, error) {
	rec, err := s.queryOne(ctx, `SELECT data FROM records WHERE identity_key = $1`, identityKey)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record by identity %s", identityKey)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *model.Record) error {
	cols, err := prepareForPut(rec, s.now())
	if err != nil {
		return eris.Wrap(err, "postgres: put record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = db.Upsert(ctx, s.pool, recordUpsert, []any{
		rec.ID, rec.IdentityKey, string(rec.Stage),
		cols.submitFailed, cols.needsDraft, cols.crmPending,
		data, rec.CreatedAt, rec.UpdatedAt,
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrapf(ErrDuplicateIdentity, "postgres: put record %s (%s)", rec.ID, rec.IdentityKey)
	}
	return eris.Wrapf(err, "postgres: put record %s", rec.ID)
}

// PutClaimed writes rec in a single statement guarded by owner's claim.
func (s *PostgresStore) PutClaimed(ctx context.Context, rec *model.Record, owner string) error {
	now := s.now()
	cols, err := prepareForPut(rec, now)
	if err != nil {
		return eris.Wrap(err, "postgres: put claimed record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET
			identity_key = $2, stage = $3, submit_failed = $4, needs_draft = $5, crm_pending = $6,
			data = $7, updated_at = $8
		 WHERE id = $1 AND EXISTS (
			SELECT 1 FROM record_claims
			WHERE record_id = $1 AND owner = $9 AND expires_at > $10)`,
		rec.ID, rec.IdentityKey, string(rec.Stage),
		cols.submitFailed, cols.needsDraft, cols.crmPending,
		data, rec.UpdatedAt, owner, now,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrapf(ErrDuplicateIdentity, "postgres: put record %s (%s)", rec.ID, rec.IdentityKey)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: put claimed record %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "postgres: put record %s as %s", rec.ID, owner)
	}
	return nil
}

func (s *PostgresStore) QueryByStage(ctx context.Context, stage model.Stage, limit int) ([]model.Record, error) {
	return s.ListAll(ctx, ListFilter{Stage: stage, Limit: limit})
}

func (s *PostgresStore) ListAll(ctx context.Context, filter ListFilter) ([]model.Record, error) {
	query := `SELECT data FROM records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.NeedsCRMSync {
		query += ` AND crm_pending`
	}
	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryRecords(ctx, "list records", query, args...)
}

func (s *PostgresStore) ListFailedSubmissions(ctx context.Context, limit int) ([]model.Record, error) {
	query := `SELECT data FROM records WHERE submit_failed ORDER BY created_at, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, "list failed submissions", query, args...)
}

func (s *PostgresStore) NextNeedingDraft(ctx context.Context) (*model.Record, error) {
	rec, err := s.queryOne(ctx, `SELECT data FROM records WHERE needs_draft ORDER BY created_at, id LIMIT 1`)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: next needing draft")
	}
	return rec, nil
}

func (s *PostgresStore) CountByStage(ctx context.Context) (map[model.Stage]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT stage, COUNT(*) FROM records GROUP BY stage`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by stage")
	}
	defer rows.Close()

	counts := make(map[model.Stage]int)
	for rows.Next() {
		var stage string
		var n int64
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage count")
		}
		counts[model.Stage(stage)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by stage iterate")
}

func (s *PostgresStore) Claim(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO record_claims (record_id, owner, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (record_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		 WHERE record_claims.expires_at <= $4 OR record_claims.owner = EXCLUDED.owner`,
		id, owner, now.Add(ttl), now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim record %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RenewClaim(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE record_claims SET expires_at = $1 WHERE record_id = $2 AND owner = $3`,
		s.now().Add(ttl), id, owner,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: renew claim %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Release(ctx context.Context, id, owner string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM record_claims WHERE record_id = $1 AND owner = $2`, id, owner)
	return eris.Wrapf(err, "postgres: release record %s", id)
}

func (s *PostgresStore) LoadQuota(ctx context.Context, day string) (model.QuotaWindow, error) {
	w := model.QuotaWindow{Day: day}
	var count, ceiling, allTime int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(count) FILTER (WHERE day = $1), 0),
		        COALESCE(MAX(ceiling) FILTER (WHERE day = $1), 0),
		        COALESCE(SUM(count), 0)
		 FROM quota_windows`, day,
	).Scan(&count, &ceiling, &allTime)
	if err != nil {
		return w, eris.Wrapf(err, "postgres: load quota %s", day)
	}
	w.Count, w.Ceiling, w.AllTime = int(count), int(ceiling), int(allTime)
	return w, nil
}

func (s *PostgresStore) SaveQuota(ctx context.Context, w model.QuotaWindow) error {
	_, err := db.Upsert(ctx, s.pool, quotaUpsert, []any{w.Day, w.Count, w.Ceiling})
	return eris.Wrapf(err, "postgres: save quota %s", w.Day)
}

// IncrementQuota bumps the day's count atomically; the conditional upsert
// returns no row once the ceiling is reached.
func (s *PostgresStore) IncrementQuota(ctx context.Context, day string, ceiling int) (model.QuotaWindow, error) {
	if ceiling <= 0 {
		w, err := s.LoadQuota(ctx, day)
		if err != nil {
			return w, err
		}
		return w, eris.Wrapf(model.ErrQuotaExhausted, "postgres: increment quota %s", day)
	}

	var count int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quota_windows (day, count, ceiling) VALUES ($1, 1, $2)
		 ON CONFLICT (day) DO UPDATE SET count = quota_windows.count + 1, ceiling = EXCLUDED.ceiling
		 WHERE quota_windows.count < EXCLUDED.ceiling
		 RETURNING count`,
		day, ceiling,
	).Scan(&count)
	exhausted := errors.Is(err, pgx.ErrNoRows)
	if err != nil && !exhausted {
		return model.QuotaWindow{Day: day}, eris.Wrapf(err, "postgres: increment quota %s", day)
	}

	w, err := s.LoadQuota(ctx, day)
	if err != nil {
		return w, err
	}
	w.Ceiling = ceiling
	if exhausted {
		return w, eris.Wrapf(model.ErrQuotaExhausted, "postgres: increment quota %s", day)
	}
	return w, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*model.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan record")
	}
	return decodeRecord(data)
}

func (s *PostgresStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", op)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s", op)
		}
		out = append(out, *rec)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}
