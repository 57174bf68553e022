package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertStatement(t *testing.T) {
	stmt, err := UpsertStatement(UpsertConfig{
		Table:        "records",
		Columns:      []string{"id", "stage", "data"},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "records" ("id", "stage", "data") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "stage" = EXCLUDED."stage", "data" = EXCLUDED."data"`,
		stmt)
}

func TestUpsertStatement_DoNothingAndReturning(t *testing.T) {
	stmt, err := UpsertStatement(UpsertConfig{
		Table:        "leadflow.claims",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
		Returning:    []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "leadflow"."claims" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING RETURNING "id"`,
		stmt)
}

func TestUpsertStatement_NoColumns(t *testing.T) {
	_, err := UpsertStatement(UpsertConfig{Table: "records", ConflictKeys: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertStatement_NoConflictKeys(t *testing.T) {
	_, err := UpsertStatement(UpsertConfig{Table: "records", Columns: []string{"id", "name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsert_ValueCountMismatch(t *testing.T) {
	_, err := Upsert(context.Background(), nil, UpsertConfig{
		Table:        "records",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, []any{"only-one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 values for 2 columns")
}

func TestUpsert_Exec(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{Table: "records", Columns: []string{"id", "name"}, ConflictKeys: []string{"id"}}
	stmt, err := UpsertStatement(cfg)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(stmt)).
		WithArgs("r1", "Ada").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := Upsert(context.Background(), mock, cfg, []any{"r1", "Ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{Table: "records", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	mock.ExpectExec(`INSERT INTO "records"`).WillReturnError(fmt.Errorf("boom"))

	_, err = Upsert(context.Background(), mock, cfg, []any{"r1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: upsert into records")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"leadflow.records", `"leadflow"."records"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
