package store

import (
	"context"
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

	s := &PostgresStore{pool: mock}
	return s, mock
}

// anyArgs returns n AnyArg matchers; pgxmock requires the expected argument
// count to match even when the values don't matter.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_InsertLead_DuplicatePlaceID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(anyArgs(11)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "leads_place_id_key"})

	err := s.InsertLead(context.Background(), &model.Lead{
		PlaceID:       "ChIJdup",
		CampaignID:    "c1",
		CampaignRunID: "r1",
		Name:          "Dup Corp",
	})
	assert.ErrorIs(t, err, ErrDuplicatePlace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertLead_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	lead := &model.Lead{PlaceID: "ChIJnew", CampaignID: "c1", CampaignRunID: "r1", Name: "New Corp"}
	err := s.InsertLead(context.Background(), lead)
	require.NoError(t, err)
	assert.NotEmpty(t, lead.ID)
	assert.False(t, lead.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun_AlreadyRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO campaign_runs`).
		WithArgs(anyArgs(5)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_campaign_runs_one_running"})

	_, err := s.CreateRun(context.Background(), "c1", 5)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO campaign_runs`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "c1", 7)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunRunning, run.Status)
	assert.Equal(t, 7, run.QueriesTotal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyProgress_ReturnsSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE campaign_runs SET`).
		WithArgs(anyArgs(7)...).
		WillReturnRows(pgxmock.NewRows([]string{"status", "queries_total", "queries_executed"}).
			AddRow("running", 5, 3))

	snap, err := s.ApplyProgress(context.Background(), "r1", model.Progress{
		QueriesExecuted: 1,
		LeadsFound:      12,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, snap.Status)
	assert.Equal(t, 5, snap.QueriesTotal)
	assert.Equal(t, 3, snap.QueriesExecuted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyProgress_RunGone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE campaign_runs SET`).
		WithArgs(anyArgs(7)...).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ApplyProgress(context.Background(), "missing", model.Progress{QueriesExecuted: 1})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_FirstWriterWins(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE campaign_runs SET status`).
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE campaign_runs SET status`).
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := s.CompleteRun(context.Background(), "r1", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.CompleteRun(context.Background(), "r1", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun_AlreadyTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE campaign_runs SET`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := s.FailRun(context.Background(), "r1", "places: unexpected status 403", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_ParsesErrorMessages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Now().UTC()
	mock.ExpectQuery(`FROM campaign_runs WHERE id`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "campaign_id", "status", "queries_total", "queries_executed",
			"leads_found", "duplicates_skipped", "error_count", "error_messages",
			"started_at", "completed_at",
		}).AddRow(
			"r1", "c1", "running", 5, 2, 10, 3, 2,
			[]byte(`["timeout","rate limited"]`), started, nil,
		))

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.ErrorCount)
	assert.Equal(t, []string{"timeout", "rate limited"}, run.ErrorMessages)
	assert.Nil(t, run.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM campaign_runs WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM leads WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateScrapedContent_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET scraped_content`).
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateScrapedContent(context.Background(), "missing", "text", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateQualification(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET qualification_score`).
		WithArgs("l1", 85, "strong fit").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateQualification(context.Background(), "l1", 85, "strong fit")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
