package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_deal":             `SELECT ` + dealColumnsPG + ` FROM deals WHERE id = $1`,
	"get_deal_by_identity": `SELECT ` + dealColumnsPG + ` FROM deals WHERE identity = $1`,
	"load_triage_log":      `SELECT event_id, actor, action, reason, resulting_state, at FROM triage_log WHERE deal_id = $1 ORDER BY seq`,
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	identity           TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	url                TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL,
	bucket             TEXT NOT NULL DEFAULT '',
	funding_amount     DOUBLE PRECISION,
	funding_stage      TEXT NOT NULL DEFAULT '',
	sources            JSONB NOT NULL DEFAULT '[]',
	attributes         JSONB NOT NULL DEFAULT '{}',
	score              JSONB,
	score_total        INTEGER,
	needs_manual_score BOOLEAN NOT NULL DEFAULT FALSE,
	enrich_failures    JSONB NOT NULL DEFAULT '[]',
	published_at       TIMESTAMPTZ,
	version            BIGINT NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS triage_log (
	deal_id         TEXT NOT NULL REFERENCES deals(id),
	seq             INTEGER NOT NULL,
	event_id        TEXT NOT NULL,
	actor           TEXT NOT NULL,
	action          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	resulting_state TEXT NOT NULL,
	at              TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (deal_id, seq),
	UNIQUE (deal_id, event_id)
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outreach_queue (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	deal_id    TEXT NOT NULL UNIQUE REFERENCES deals(id),
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_state ON deals(state);
CREATE INDEX IF NOT EXISTS idx_deals_score_total ON deals(score_total);
CREATE INDEX IF NOT EXISTS idx_deals_updated_at ON deals(updated_at);
`

const dealColumnsPG = `id, identity, name, url, description, state, bucket,
	funding_amount, funding_stage, sources, attributes, score,
	needs_manual_score, enrich_failures, published_at, version, created_at, updated_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateDealIfAbsent(ctx context.Context, d *model.Deal) (*model.Deal, bool, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Version == 0 {
		d.Version = 1
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	cols, err := marshalDealColumns(d)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deals (
			id, identity, name, url, description, state, bucket,
			funding_amount, funding_stage, sources, attributes, score,
			score_total, needs_manual_score, enrich_failures, published_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (identity) DO NOTHING`,
		d.ID, d.Identity, d.Name, d.URL, d.Description, string(d.State), string(d.Bucket),
		d.FundingAmount, d.FundingStage, cols.sources, cols.attributes, cols.score,
		cols.scoreTotal, d.NeedsManualScore, cols.enrichFailures, d.PublishedAt,
		d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert deal %s", d.Identity)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetDealByIdentity(ctx, d.Identity)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return d, true, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dealColumnsPG+` FROM deals WHERE id = $1`, id)
	return s.hydrateDeal(ctx, row)
}

func (s *PostgresStore) GetDealByIdentity(ctx context.Context, identity string) (*model.Deal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dealColumnsPG+` FROM deals WHERE identity = $1`, identity)
	return s.hydrateDeal(ctx, row)
}

func (s *PostgresStore) hydrateDeal(ctx context.Context, row pgx.Row) (*model.Deal, error) {
	d, err := scanDealPG(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadTriageLog(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) loadTriageLog(ctx context.Context, d *model.Deal) error {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, actor, action, reason, resulting_state, at
		FROM triage_log WHERE deal_id = $1 ORDER BY seq`,
		d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: load triage log %s", d.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.TriageEntry
		var action, state string
		if err := rows.Scan(&e.EventID, &e.Actor, &action, &e.Reason, &state, &e.At); err != nil {
			return eris.Wrap(err, "postgres: scan triage entry")
		}
		e.Action = model.TriageAction(action)
		e.ResultingState = model.LifecycleState(state)
		d.TriageLog = append(d.TriageLog, e)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate triage log")
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, d *model.Deal, expectedVersion int64) error {
	cols, err := marshalDealColumns(d)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE deals SET
			name = $1, url = $2, description = $3, state = $4, bucket = $5,
			funding_amount = $6, funding_stage = $7, sources = $8, attributes = $9,
			score = $10, score_total = $11, needs_manual_score = $12, enrich_failures = $13,
			published_at = $14, version = $15, updated_at = $16
		WHERE id = $17 AND version = $18`,
		d.Name, d.URL, d.Description, string(d.State), string(d.Bucket),
		d.FundingAmount, d.FundingStage, cols.sources, cols.attributes,
		cols.score, cols.scoreTotal, d.NeedsManualScore, cols.enrichFailures,
		d.PublishedAt, expectedVersion+1, now,
		d.ID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update deal %s", d.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, d.ID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "postgres: check deal exists")
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	for i, e := range d.TriageLog {
		if _, err := tx.Exec(ctx, `
			INSERT INTO triage_log (deal_id, seq, event_id, actor, action, reason, resulting_state, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (deal_id, seq) DO NOTHING`,
			d.ID, i, e.EventID, e.Actor, string(e.Action), e.Reason, string(e.ResultingState), e.At,
		); err != nil {
			return eris.Wrapf(err, "postgres: append triage entry %s", e.EventID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	d.Version = expectedVersion + 1
	d.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, f DealFilter) ([]model.Deal, error) {
	query := `SELECT ` + dealColumnsPG + ` FROM deals WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, st := range f.States {
			placeholders[i] = arg(string(st))
		}
		query += ` AND state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if f.MinScore > 0 {
		query += ` AND score_total >= ` + arg(f.MinScore)
	}
	if !f.Since.IsZero() {
		query += ` AND updated_at >= ` + arg(f.Since.UTC())
	}
	query += ` ORDER BY score_total DESC NULLS LAST, created_at ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDealPG(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate deals")
	}
	for i := range deals {
		if err := s.loadTriageLog(ctx, &deals[i]); err != nil {
			return nil, err
		}
	}
	return deals, nil
}

func (s *PostgresStore) AcquireRunLease(ctx context.Context, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leases (name, holder, expires_at) VALUES ('run', $1, $2)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at <= $3 OR leases.holder = EXCLUDED.holder`,
		holder, now.Add(ttl), now,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: acquire run lease")
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseHeld
	}
	return nil
}

func (s *PostgresStore) ReleaseRunLease(ctx context.Context, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM leases WHERE name = 'run' AND holder = $1`, holder)
	return eris.Wrap(err, "postgres: release run lease")
}

func (s *PostgresStore) EnqueueOutreach(ctx context.Context, draft OutreachDraft) (bool, error) {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO outreach_queue (id, deal_id, subject, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deal_id) DO NOTHING`,
		draft.ID, draft.DealID, draft.Subject, draft.Body, draft.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue outreach %s", draft.DealID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListOutreach(ctx context.Context, limit int) ([]OutreachDraft, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, deal_id, subject, body, created_at
		FROM outreach_queue ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outreach")
	}
	defer rows.Close()

	var drafts []OutreachDraft
	for rows.Next() {
		var d OutreachDraft
		if err := rows.Scan(&d.ID, &d.DealID, &d.Subject, &d.Body, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outreach draft")
		}
		drafts = append(drafts, d)
	}
	return drafts, eris.Wrap(rows.Err(), "postgres: iterate outreach")
}

// scanDealPG scans a deal row, tolerating pgx returning JSONB columns as
// either []byte or pre-decoded values depending on the driver path.
func scanDealPG(row pgx.Row) (*model.Deal, error) {
	var d model.Deal
	var state, bucket string
	var sources, attributes, enrichFailures []byte
	var score []byte
	var fundingAmount *float64
	var publishedAt *time.Time

	err := row.Scan(
		&d.ID, &d.Identity, &d.Name, &d.URL, &d.Description, &state, &bucket,
		&fundingAmount, &d.FundingStage, &sources, &attributes, &score,
		&d.NeedsManualScore, &enrichFailures, &publishedAt,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan deal")
	}

	d.State = model.LifecycleState(state)
	d.Bucket = model.Bucket(bucket)
	d.FundingAmount = fundingAmount
	if publishedAt != nil {
		t := publishedAt.UTC()
		d.PublishedAt = &t
	}
	if err := json.Unmarshal(sources, &d.Sources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sources")
	}
	if err := json.Unmarshal(attributes, &d.Attributes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attributes")
	}
	if err := json.Unmarshal(enrichFailures, &d.EnrichFailures); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal enrich failures")
	}
	if len(score) > 0 {
		d.Score = &model.Score{}
		if err := json.Unmarshal(score, d.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal score")
		}
	}
	return &d, nil
}
