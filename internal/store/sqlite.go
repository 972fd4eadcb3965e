package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deals (
	id                 TEXT PRIMARY KEY,
	identity           TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	url                TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL,
	bucket             TEXT NOT NULL DEFAULT '',
	funding_amount     REAL,
	funding_stage      TEXT NOT NULL DEFAULT '',
	sources            TEXT NOT NULL DEFAULT '[]',
	attributes         TEXT NOT NULL DEFAULT '{}',
	score              TEXT,
	score_total        INTEGER,
	needs_manual_score INTEGER NOT NULL DEFAULT 0,
	enrich_failures    TEXT NOT NULL DEFAULT '[]',
	published_at       DATETIME,
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS triage_log (
	deal_id         TEXT NOT NULL REFERENCES deals(id),
	seq             INTEGER NOT NULL,
	event_id        TEXT NOT NULL,
	actor           TEXT NOT NULL,
	action          TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	resulting_state TEXT NOT NULL,
	at              DATETIME NOT NULL,
	PRIMARY KEY (deal_id, seq),
	UNIQUE (deal_id, event_id)
);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outreach_queue (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL UNIQUE REFERENCES deals(id),
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deals_state ON deals(state);
CREATE INDEX IF NOT EXISTS idx_deals_score_total ON deals(score_total);
CREATE INDEX IF NOT EXISTS idx_deals_updated_at ON deals(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDealIfAbsent(ctx context.Context, d *model.Deal) (*model.Deal, bool, error) {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (
			id, identity, name, url, description, state, bucket,
			funding_amount, funding_stage, sources, attributes, score,
			score_total, needs_manual_score, enrich_failures, published_at,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO NOTHING`,
		d.ID, d.Identity, d.Name, d.URL, d.Description, string(d.State), string(d.Bucket),
		d.FundingAmount, d.FundingStage, cols.sources, cols.attributes, cols.score,
		cols.scoreTotal, d.NeedsManualScore, cols.enrichFailures, d.PublishedAt,
		d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert deal %s", d.Identity)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.GetDealByIdentity(ctx, d.Identity)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return d, true, nil
}

func (s *SQLiteStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	return s.getDeal(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteStore) GetDealByIdentity(ctx context.Context, identity string) (*model.Deal, error) {
	return s.getDeal(ctx, `WHERE identity = ?`, identity)
}

const dealColumns = `id, identity, name, url, description, state, bucket,
	funding_amount, funding_stage, sources, attributes, score,
	needs_manual_score, enrich_failures, published_at, version, created_at, updated_at`

func (s *SQLiteStore) getDeal(ctx context.Context, where string, arg any) (*model.Deal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals `+where, arg)
	d, err := scanDeal(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadTriageLog(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLiteStore) loadTriageLog(ctx context.Context, d *model.Deal) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, actor, action, reason, resulting_state, at
		FROM triage_log WHERE deal_id = ? ORDER BY seq`,
		d.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load triage log %s", d.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.TriageEntry
		var action, state string
		if err := rows.Scan(&e.EventID, &e.Actor, &action, &e.Reason, &state, &e.At); err != nil {
			return eris.Wrap(err, "sqlite: scan triage entry")
		}
		e.Action = model.TriageAction(action)
		e.ResultingState = model.LifecycleState(state)
		d.TriageLog = append(d.TriageLog, e)
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate triage log")
}

// UpdateDeal commits the deal if the stored version still matches, appending
// new triage entries in the same transaction. The triage log is append-only:
// rows already committed are never rewritten.
func (s *SQLiteStore) UpdateDeal(ctx context.Context, d *model.Deal, expectedVersion int64) error {
	cols, err := marshalDealColumns(d)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE deals SET
			name = ?, url = ?, description = ?, state = ?, bucket = ?,
			funding_amount = ?, funding_stage = ?, sources = ?, attributes = ?,
			score = ?, score_total = ?, needs_manual_score = ?, enrich_failures = ?,
			published_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		d.Name, d.URL, d.Description, string(d.State), string(d.Bucket),
		d.FundingAmount, d.FundingStage, cols.sources, cols.attributes,
		cols.score, cols.scoreTotal, d.NeedsManualScore, cols.enrichFailures,
		d.PublishedAt, expectedVersion+1, now,
		d.ID, expectedVersion,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update deal %s", d.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM deals WHERE id = ?)`, d.ID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "sqlite: check deal exists")
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	for i, e := range d.TriageLog {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO triage_log (deal_id, seq, event_id, actor, action, reason, resulting_state, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(deal_id, seq) DO NOTHING`,
			d.ID, i, e.EventID, e.Actor, string(e.Action), e.Reason, string(e.ResultingState), e.At,
		); err != nil {
			return eris.Wrapf(err, "sqlite: append triage entry %s", e.EventID)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	d.Version = expectedVersion + 1
	d.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListDeals(ctx context.Context, f DealFilter) ([]model.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE 1=1`
	var args []any

	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, st := range f.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if f.MinScore > 0 {
		query += ` AND score_total >= ?`
		args = append(args, f.MinScore)
	}
	if !f.Since.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY score_total IS NULL, score_total DESC, created_at ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		if err := s.loadTriageLog(ctx, d); err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: iterate deals")
}

// AcquireRunLease takes the single run lease, stealing it only when expired
// or already held by the same holder.
func (s *SQLiteStore) AcquireRunLease(ctx context.Context, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder, expires_at) VALUES ('run', ?, ?)
		ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ? OR leases.holder = excluded.holder`,
		holder, now.Add(ttl), now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: acquire run lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

func (s *SQLiteStore) ReleaseRunLease(ctx context.Context, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = 'run' AND holder = ?`, holder)
	return eris.Wrap(err, "sqlite: release run lease")
}

func (s *SQLiteStore) EnqueueOutreach(ctx context.Context, draft OutreachDraft) (bool, error) {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outreach_queue (id, deal_id, subject, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(deal_id) DO NOTHING`,
		draft.ID, draft.DealID, draft.Subject, draft.Body, draft.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue outreach %s", draft.DealID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListOutreach(ctx context.Context, limit int) ([]OutreachDraft, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, deal_id, subject, body, created_at
		FROM outreach_queue ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outreach")
	}
	defer rows.Close()

	var drafts []OutreachDraft
	for rows.Next() {
		var d OutreachDraft
		if err := rows.Scan(&d.ID, &d.DealID, &d.Subject, &d.Body, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outreach draft")
		}
		drafts = append(drafts, d)
	}
	return drafts, eris.Wrap(rows.Err(), "sqlite: iterate outreach")
}

// dealColumnValues holds the JSON-encoded column values shared by insert and
// update statements.
type dealColumnValues struct {
	sources        string
	attributes     string
	score          sql.NullString
	scoreTotal     sql.NullInt64
	enrichFailures string
}

func marshalDealColumns(d *model.Deal) (dealColumnValues, error) {
	var cols dealColumnValues

	sources, err := json.Marshal(d.Sources)
	if err != nil {
		return cols, eris.Wrap(err, "store: marshal sources")
	}
	cols.sources = string(sources)

	attrs := d.Attributes
	if attrs == nil {
		attrs = map[string]model.Attribute{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return cols, eris.Wrap(err, "store: marshal attributes")
	}
	cols.attributes = string(attrJSON)

	if d.Score != nil {
		scoreJSON, err := json.Marshal(d.Score)
		if err != nil {
			return cols, eris.Wrap(err, "store: marshal score")
		}
		cols.score = sql.NullString{String: string(scoreJSON), Valid: true}
		cols.scoreTotal = sql.NullInt64{Int64: int64(d.Score.Total), Valid: true}
	}

	failures := d.EnrichFailures
	if failures == nil {
		failures = []string{}
	}
	failJSON, err := json.Marshal(failures)
	if err != nil {
		return cols, eris.Wrap(err, "store: marshal enrich failures")
	}
	cols.enrichFailures = string(failJSON)

	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*model.Deal, error) {
	var d model.Deal
	var state, bucket string
	var sources, attributes, enrichFailures string
	var score sql.NullString
	var fundingAmount sql.NullFloat64
	var publishedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.Identity, &d.Name, &d.URL, &d.Description, &state, &bucket,
		&fundingAmount, &d.FundingStage, &sources, &attributes, &score,
		&d.NeedsManualScore, &enrichFailures, &publishedAt,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan deal")
	}

	d.State = model.LifecycleState(state)
	d.Bucket = model.Bucket(bucket)
	if fundingAmount.Valid {
		d.FundingAmount = &fundingAmount.Float64
	}
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		d.PublishedAt = &t
	}
	if err := json.Unmarshal([]byte(sources), &d.Sources); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal sources")
	}
	if err := json.Unmarshal([]byte(attributes), &d.Attributes); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal attributes")
	}
	if err := json.Unmarshal([]byte(enrichFailures), &d.EnrichFailures); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal enrich failures")
	}
	if score.Valid {
		d.Score = &model.Score{}
		if err := json.Unmarshal([]byte(score.String), d.Score); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal score")
		}
	}
	return &d, nil
}
