package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := newPostgresWithPool(mock)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM records WHERE id = \$1`).
		WithArgs("p-42").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"p-42","identity_key":"https://x.com/in/a","name":"Ada Lovelace","stage":"new"}`)))

	rec, err := s.Get(context.Background(), "p-42")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", rec.Name)
	assert.Equal(t, model.StageNew, rec.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM records WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Put_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := newRecord("p-42", model.StageNew)
	mock.ExpectExec(`(?s)INSERT INTO "records" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WithArgs("p-42", rec.IdentityKey, "new", false, false, false,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(context.Background(), rec))
	assert.Equal(t, s.now(), rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Put_DuplicateIdentity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "records"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := s.Put(context.Background(), newRecord("dup", model.StageNew))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateIdentity))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Put_InvalidRecordSkipsWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := newRecord("bad", model.StageSubmitted)
	rec.CampaignRef = &model.CampaignRef{Submitted: true}

	err := s.Put(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a qualifying classification")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAll_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM records WHERE true AND stage = \$1 ORDER BY created_at, id LIMIT \$2 OFFSET \$3`).
		WithArgs("connected", 10, 20).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a","identity_key":"k1","stage":"connected"}`)).
			AddRow([]byte(`{"id":"b","identity_key":"k2","stage":"connected"}`)))

	recs, err := s.ListAll(context.Background(), ListFilter{Stage: model.StageConnected, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailedSubmissions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM records WHERE submit_failed ORDER BY created_at, id LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"f","identity_key":"k","stage":"qualified","campaign_ref":{"submitted":false,"error":"HTTP 500"}}`)))

	recs, err := s.ListFailedSubmissions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].SubmissionFailed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextNeedingDraft_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM records WHERE needs_draft`).
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.NextNeedingDraft(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountByStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT stage, COUNT\(\*\) FROM records GROUP BY stage`).
		WillReturnRows(pgxmock.NewRows([]string{"stage", "count"}).
			AddRow("new", int64(4)).
			AddRow("connected", int64(2)))

	counts, err := s.CountByStage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[model.StageNew])
	assert.Equal(t, 2, counts[model.StageConnected])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO record_claims`).
		WithArgs("r1", "worker-a", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO record_claims`).
		WithArgs("r1", "worker-b", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := s.Claim(context.Background(), "r1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(context.Background(), "r1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RenewClaim(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE record_claims SET expires_at`).
		WithArgs(s.now().Add(time.Minute), "r1", "worker-a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE record_claims SET expires_at`).
		WithArgs(s.now().Add(time.Minute), "r1", "worker-b").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.RenewClaim(context.Background(), "r1", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RenewClaim(context.Background(), "r1", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutClaimed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := newRecord("p-42", model.StageNew)
	mock.ExpectExec(`(?s)UPDATE records SET .* EXISTS \(\s*SELECT 1 FROM record_claims`).
		WithArgs("p-42", rec.IdentityKey, "new", false, false, false,
			pgxmock.AnyArg(), pgxmock.AnyArg(), "worker-a", s.now()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.PutClaimed(context.Background(), rec, "worker-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutClaimed_Lost(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE records SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.PutClaimed(context.Background(), newRecord("p-42", model.StageNew), "worker-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClaimLost))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuota(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO quota_windows .* RETURNING count`).
		WithArgs("2026-03-01", 80).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(5)))
	mock.ExpectQuery(`FROM quota_windows`).
		WithArgs("2026-03-01").
		WillReturnRows(pgxmock.NewRows([]string{"count", "ceiling", "all_time"}).
			AddRow(int64(5), int64(80), int64(120)))

	w, err := s.IncrementQuota(context.Background(), "2026-03-01", 80)
	require.NoError(t, err)
	assert.Equal(t, 5, w.Count)
	assert.Equal(t, 120, w.AllTime)
	assert.Equal(t, 75, w.Remaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementQuota_Exhausted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)INSERT INTO quota_windows .* RETURNING count`).
		WithArgs("2026-03-01", 3).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM quota_windows`).
		WithArgs("2026-03-01").
		WillReturnRows(pgxmock.NewRows([]string{"count", "ceiling", "all_time"}).
			AddRow(int64(3), int64(3), int64(3)))

	w, err := s.IncrementQuota(context.Background(), "2026-03-01", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrQuotaExhausted))
	assert.Equal(t, 3, w.Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveQuota(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO "quota_windows" .* ON CONFLICT \("day"\)`).
		WithArgs("2026-03-01", 2, 80).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveQuota(context.Background(), model.QuotaWindow{Day: "2026-03-01", Count: 2, Ceiling: 80}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
