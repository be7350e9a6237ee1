package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadflow/internal/model"
)

// SQLiteStore implements Store on a local sqlite file. Used for local
// development and single-node deployments; the schema mirrors postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a sqlite database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	// Single writer; WAL keeps readers unblocked during ingestion bursts.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", pragma)
		}
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	queries_blob           TEXT NOT NULL DEFAULT '',
	queries_count          INTEGER NOT NULL DEFAULT 0,
	queries_confirmed      INTEGER NOT NULL DEFAULT 0,
	max_results_per_search INTEGER NOT NULL DEFAULT 60,
	max_total_requests     INTEGER NOT NULL DEFAULT 0,
	scraping_enabled       INTEGER NOT NULL DEFAULT 1,
	scoring_enabled        INTEGER NOT NULL DEFAULT 1,
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_runs (
	id                 TEXT PRIMARY KEY,
	campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
	status             TEXT NOT NULL DEFAULT 'running'
	                   CHECK (status IN ('running', 'completed', 'failed')),
	queries_total      INTEGER NOT NULL DEFAULT 0,
	queries_executed   INTEGER NOT NULL DEFAULT 0,
	leads_found        INTEGER NOT NULL DEFAULT 0,
	duplicates_skipped INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	error_messages     TEXT NOT NULL DEFAULT '[]',
	started_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_runs_one_running
	ON campaign_runs(campaign_id) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_campaign_runs_campaign ON campaign_runs(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaign_runs_status ON campaign_runs(status);

CREATE TABLE IF NOT EXISTS leads (
	id                  TEXT PRIMARY KEY,
	place_id            TEXT NOT NULL UNIQUE,
	campaign_id         TEXT NOT NULL REFERENCES campaigns(id),
	campaign_run_id     TEXT NOT NULL REFERENCES campaign_runs(id),
	name                TEXT NOT NULL,
	phone               TEXT NOT NULL DEFAULT '',
	website             TEXT NOT NULL DEFAULT '',
	rating              REAL NOT NULL DEFAULT 0,
	city                TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMP NOT NULL,
	scraped_content     TEXT,
	scraped_at          TIMESTAMP,
	qualification_score INTEGER,
	qualification_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_leads_campaign_run ON leads(campaign_run_id);
CREATE INDEX IF NOT EXISTS idx_leads_campaign ON leads(campaign_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, queries_blob, queries_count, queries_confirmed,
			 max_results_per_search, max_total_requests, scraping_enabled, scoring_enabled,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.QueriesBlob, c.QueriesCount, c.QueriesConfirmed,
		c.MaxResultsPerSearch, c.MaxTotalRequests, c.ScrapingEnabled, c.ScoringEnabled,
		c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: create campaign")
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, queries_blob, queries_count, queries_confirmed,
		       max_results_per_search, max_total_requests, scraping_enabled, scoring_enabled,
		       created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(
		&c.ID, &c.Name, &c.QueriesBlob, &c.QueriesCount, &c.QueriesConfirmed,
		&c.MaxResultsPerSearch, &c.MaxTotalRequests, &c.ScrapingEnabled, &c.ScoringEnabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, campaignID string, queriesTotal int) (*model.CampaignRun, error) {
	run := &model.CampaignRun{
		ID:           uuid.NewString(),
		CampaignID:   campaignID,
		Status:       model.RunRunning,
		QueriesTotal: queriesTotal,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, campaign_id, status, queries_total, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CampaignID, run.Status, run.QueriesTotal, run.StartedAt,
	)
	if err != nil {
		if sqliteUniqueViolation(err) {
			return nil, ErrRunInProgress
		}
		return nil, eris.Wrapf(err, "sqlite: create run for campaign %s", campaignID)
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.CampaignRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, status, queries_total, queries_executed, leads_found,
		       duplicates_skipped, error_count, error_messages, started_at, completed_at
		FROM campaign_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CampaignRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, status, queries_total, queries_executed, leads_found,
		       duplicates_skipped, error_count, error_messages, started_at, completed_at
		FROM campaign_runs
		WHERE (? = '' OR campaign_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`,
		filter.CampaignID, filter.CampaignID,
		string(filter.Status), string(filter.Status),
		limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.CampaignRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) ApplyProgress(ctx context.Context, runID string, p model.Progress) (*ProgressSnapshot, error) {
	var snap ProgressSnapshot
	err := s.db.QueryRowContext(ctx, `
		UPDATE campaign_runs SET
			queries_executed   = queries_executed + ?,
			leads_found        = leads_found + ?,
			duplicates_skipped = duplicates_skipped + ?,
			error_count        = error_count + ?,
			error_messages     = CASE
				WHEN ? <> '' AND json_array_length(error_messages) < ?
				THEN json_insert(error_messages, '$[#]', ?)
				ELSE error_messages
			END
		WHERE id = ?
		RETURNING status, queries_total, queries_executed`,
		p.QueriesExecuted, p.LeadsFound, p.DuplicatesSkipped, p.ErrorCount,
		p.ErrorMessage, model.MaxRunErrorMessages, p.ErrorMessage,
		runID,
	).Scan(&snap.Status, &snap.QueriesTotal, &snap.QueriesExecuted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: apply progress to run %s", runID)
	}
	return &snap, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_runs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		model.RunCompleted, at, runID, model.RunRunning)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_runs SET
			status = ?,
			completed_at = ?,
			error_count = error_count + 1,
			error_messages = CASE
				WHEN ? <> '' AND json_array_length(error_messages) < ?
				THEN json_insert(error_messages, '$[#]', ?)
				ELSE error_messages
			END
		WHERE id = ? AND status = ?`,
		model.RunFailed, at, errMsg, model.MaxRunErrorMessages, errMsg,
		runID, model.RunRunning)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads
			(id, place_id, campaign_id, campaign_run_id, name, phone, website, rating, city, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.PlaceID, lead.CampaignID, lead.CampaignRunID,
		lead.Name, lead.Phone, lead.Website, lead.Rating, lead.City, lead.State, lead.CreatedAt,
	)
	if err != nil {
		if sqliteUniqueViolation(err) {
			return ErrDuplicatePlace
		}
		return eris.Wrapf(err, "sqlite: insert lead %s", lead.PlaceID)
	}
	return nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var l model.Lead
	err := s.db.QueryRowContext(ctx, `
		SELECT id, place_id, campaign_id, campaign_run_id, name, phone, website, rating,
		       city, state, created_at, scraped_content, scraped_at,
		       qualification_score, qualification_notes
		FROM leads WHERE id = ?`, id,
	).Scan(
		&l.ID, &l.PlaceID, &l.CampaignID, &l.CampaignRunID, &l.Name, &l.Phone, &l.Website,
		&l.Rating, &l.City, &l.State, &l.CreatedAt, &l.ScrapedContent, &l.ScrapedAt,
		&l.QualificationScore, &l.QualificationNotes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return &l, nil
}

func (s *SQLiteStore) UpdateScrapedContent(ctx context.Context, leadID, content string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET scraped_content = ?, scraped_at = ? WHERE id = ?`,
		content, at, leadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scraped content for lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateQualification(ctx context.Context, leadID string, score int, notes string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET qualification_score = ?, qualification_notes = ? WHERE id = ?`,
		score, notes, leadID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update qualification for lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func sqliteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
