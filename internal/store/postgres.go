package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/db"
	"github.com/sells-group/leadflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const uniqueViolation = "23505"

// preparedStatements lists queries to prepare on each new connection for
// the hottest pipeline operations.
var preparedStatements = map[string]string{
	"insert_lead": `INSERT INTO leads
		(id, place_id, campaign_id, campaign_run_id, name, phone, website, rating, city, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"get_lead": `SELECT id, place_id, campaign_id, campaign_run_id, name, phone, website, rating,
		city, state, created_at, scraped_content, scraped_at, qualification_score, qualification_notes
		FROM leads WHERE id = $1`,
	"get_run": `SELECT id, campaign_id, status, queries_total, queries_executed, leads_found,
		duplicates_skipped, error_count, error_messages, started_at, completed_at
		FROM campaign_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                   TEXT NOT NULL,
	queries_blob           TEXT NOT NULL DEFAULT '',
	queries_count          INTEGER NOT NULL DEFAULT 0,
	queries_confirmed      BOOLEAN NOT NULL DEFAULT false,
	max_results_per_search INTEGER NOT NULL DEFAULT 60,
	max_total_requests     INTEGER NOT NULL DEFAULT 0,
	scraping_enabled       BOOLEAN NOT NULL DEFAULT true,
	scoring_enabled        BOOLEAN NOT NULL DEFAULT true,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_runs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
	status             TEXT NOT NULL DEFAULT 'running'
	                   CHECK (status IN ('running', 'completed', 'failed')),
	queries_total      INTEGER NOT NULL DEFAULT 0,
	queries_executed   INTEGER NOT NULL DEFAULT 0,
	leads_found        INTEGER NOT NULL DEFAULT 0,
	duplicates_skipped INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	error_messages     JSONB NOT NULL DEFAULT '[]'::jsonb,
	started_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);

-- One active run per campaign.
CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_runs_one_running
	ON campaign_runs(campaign_id) WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_campaign_runs_campaign ON campaign_runs(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaign_runs_status ON campaign_runs(status);

CREATE TABLE IF NOT EXISTS leads (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place_id            TEXT NOT NULL UNIQUE,
	campaign_id         TEXT NOT NULL REFERENCES campaigns(id),
	campaign_run_id     TEXT NOT NULL REFERENCES campaign_runs(id),
	name                TEXT NOT NULL,
	phone               TEXT NOT NULL DEFAULT '',
	website             TEXT NOT NULL DEFAULT '',
	rating              DOUBLE PRECISION NOT NULL DEFAULT 0,
	city                TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	scraped_content     TEXT,
	scraped_at          TIMESTAMPTZ,
	qualification_score INTEGER,
	qualification_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_leads_campaign_run ON leads(campaign_run_id);
CREATE INDEX IF NOT EXISTS idx_leads_campaign ON leads(campaign_id);
`

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateCampaign inserts a campaign, assigning an ID when absent.
func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaigns
			(id, name, queries_blob, queries_count, queries_confirmed,
			 max_results_per_search, max_total_requests, scraping_enabled, scoring_enabled,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Name, c.QueriesBlob, c.QueriesCount, c.QueriesConfirmed,
		c.MaxResultsPerSearch, c.MaxTotalRequests, c.ScrapingEnabled, c.ScoringEnabled,
		c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: create campaign")
}

// GetCampaign loads a campaign by ID.
func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, queries_blob, queries_count, queries_confirmed,
		       max_results_per_search, max_total_requests, scraping_enabled, scoring_enabled,
		       created_at, updated_at
		FROM campaigns WHERE id = $1`, id,
	).Scan(
		&c.ID, &c.Name, &c.QueriesBlob, &c.QueriesCount, &c.QueriesConfirmed,
		&c.MaxResultsPerSearch, &c.MaxTotalRequests, &c.ScrapingEnabled, &c.ScoringEnabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return &c, nil
}

// CreateRun inserts a run with status=running. The partial unique index on
// (campaign_id) WHERE status='running' rejects a second concurrent run.
func (s *PostgresStore) CreateRun(ctx context.Context, campaignID string, queriesTotal int) (*model.CampaignRun, error) {
	run := &model.CampaignRun{
		ID:           uuid.NewString(),
		CampaignID:   campaignID,
		Status:       model.RunRunning,
		QueriesTotal: queriesTotal,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaign_runs (id, campaign_id, status, queries_total, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.CampaignID, run.Status, run.QueriesTotal, run.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRunInProgress
		}
		return nil, eris.Wrapf(err, "postgres: create run for campaign %s", campaignID)
	}
	return run, nil
}

// GetRun loads a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.CampaignRun, error) {
	row := s.pool.QueryRow(ctx, preparedStatements["get_run"], runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

// ListRuns lists runs matching the filter, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CampaignRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, status, queries_total, queries_executed, leads_found,
		       duplicates_skipped, error_count, error_messages, started_at, completed_at
		FROM campaign_runs
		WHERE ($1 = '' OR campaign_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`,
		filter.CampaignID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.CampaignRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ApplyProgress applies counter deltas in one UPDATE and returns the
// resulting snapshot from the same statement. error_messages stays bounded:
// appends stop once the list is full while error_count keeps counting.
func (s *PostgresStore) ApplyProgress(ctx context.Context, runID string, p model.Progress) (*ProgressSnapshot, error) {
	var snap ProgressSnapshot
	err := s.pool.QueryRow(ctx, `
		UPDATE campaign_runs SET
			queries_executed   = queries_executed + $2,
			leads_found        = leads_found + $3,
			duplicates_skipped = duplicates_skipped + $4,
			error_count        = error_count + $5,
			error_messages     = CASE
				WHEN $6 <> '' AND jsonb_array_length(error_messages) < $7
				THEN error_messages || to_jsonb($6::text)
				ELSE error_messages
			END
		WHERE id = $1
		RETURNING status, queries_total, queries_executed`,
		runID, p.QueriesExecuted, p.LeadsFound, p.DuplicatesSkipped, p.ErrorCount,
		p.ErrorMessage, model.MaxRunErrorMessages,
	).Scan(&snap.Status, &snap.QueriesTotal, &snap.QueriesExecuted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: apply progress to run %s", runID)
	}
	return &snap, nil
}

// CompleteRun transitions a running run to completed. The status guard
// keeps the terminal write single-writer under concurrency.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_runs SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4`,
		runID, model.RunCompleted, at, model.RunRunning)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

// FailRun transitions a running run to failed, recording the fatal error.
func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_runs SET
			status = $2,
			completed_at = $3,
			error_count = error_count + 1,
			error_messages = CASE
				WHEN $4 <> '' AND jsonb_array_length(error_messages) < $5
				THEN error_messages || to_jsonb($4::text)
				ELSE error_messages
			END
		WHERE id = $1 AND status = $6`,
		runID, model.RunFailed, at, errMsg, model.MaxRunErrorMessages, model.RunRunning)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertLead inserts a lead, assigning an ID when absent. A place_id
// collision returns ErrDuplicatePlace.
func (s *PostgresStore) InsertLead(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, preparedStatements["insert_lead"],
		lead.ID, lead.PlaceID, lead.CampaignID, lead.CampaignRunID,
		lead.Name, lead.Phone, lead.Website, lead.Rating, lead.City, lead.State, lead.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePlace
		}
		return eris.Wrapf(err, "postgres: insert lead %s", lead.PlaceID)
	}
	return nil
}

// GetLead loads a lead by ID.
func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var l model.Lead
	err := s.pool.QueryRow(ctx, preparedStatements["get_lead"], id).Scan(
		&l.ID, &l.PlaceID, &l.CampaignID, &l.CampaignRunID, &l.Name, &l.Phone, &l.Website,
		&l.Rating, &l.City, &l.State, &l.CreatedAt, &l.ScrapedContent, &l.ScrapedAt,
		&l.QualificationScore, &l.QualificationNotes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return &l, nil
}

// UpdateScrapedContent overwrites the lead's scraped content and timestamp.
// Overwrite is the idempotency model: re-scrapes replace, never append.
func (s *PostgresStore) UpdateScrapedContent(ctx context.Context, leadID, content string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leads SET scraped_content = $2, scraped_at = $3 WHERE id = $1`,
		leadID, content, at)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scraped content for lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateQualification writes score and notes in one statement; partial
// writes are not possible.
func (s *PostgresStore) UpdateQualification(ctx context.Context, leadID string, score int, notes string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leads SET qualification_score = $2, qualification_notes = $3 WHERE id = $1`,
		leadID, score, notes)
	if err != nil {
		return eris.Wrapf(err, "postgres: update qualification for lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// runScanner abstracts pgx.Row and pgx.Rows for scanRun.
type runScanner interface {
	Scan(dest ...any) error
}

func scanRun(row runScanner) (*model.CampaignRun, error) {
	var (
		run      model.CampaignRun
		errsJSON []byte
	)
	err := row.Scan(
		&run.ID, &run.CampaignID, &run.Status, &run.QueriesTotal, &run.QueriesExecuted,
		&run.LeadsFound, &run.DuplicatesSkipped, &run.ErrorCount, &errsJSON,
		&run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &run.ErrorMessages); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal error messages")
		}
	}
	return &run, nil
}
