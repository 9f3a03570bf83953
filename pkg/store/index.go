package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)

	"github.com/codeready-toolchain/tarka/pkg/config"
	"github.com/codeready-toolchain/tarka/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrNotFound is returned for lookups of unknown cases, runs, or threads.
var ErrNotFound = errors.New("not found")

// CaseRecord is one row of the cases table.
type CaseRecord struct {
	CaseID             string                `json:"case_id"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	Status             string                `json:"status"`
	LatestOneLiner     string                `json:"latest_one_liner"`
	LatestRunID        string                `json:"latest_run_id"`
	Team               string                `json:"team"`
	Family             string                `json:"family"`
	Severity           string                `json:"severity"`
	Classification     models.Classification `json:"classification"`
	Impact             int                   `json:"impact"`
	Confidence         int                   `json:"confidence"`
	Noise              int                   `json:"noise"`
	ResolutionCategory *string               `json:"resolution_category,omitempty"`
	ResolutionSummary  *string               `json:"resolution_summary,omitempty"`
	PostmortemLink     *string               `json:"postmortem_link,omitempty"`
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID     string          `json:"run_id"`
	CaseID    string          `json:"case_id"`
	CreatedAt time.Time       `json:"created_at"`
	ReportKey string          `json:"report_key"`
	Analysis  json.RawMessage `json:"analysis"`
}

// ChatThread is one row of the chat_threads table.
type ChatThread struct {
	ThreadID  string    `json:"thread_id"`
	CaseID    string    `json:"case_id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
}

// ChatMessage is one row of the chat_messages table.
type ChatMessage struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// CaseAction is one row of the case_actions table.
type CaseAction struct {
	ActionID  string    `json:"action_id"`
	CaseID    string    `json:"case_id"`
	CreatedAt time.Time `json:"created_at"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note"`
}

// CaseFilter narrows ListCases. Zero values match everything.
type CaseFilter struct {
	Status         string
	Family         string
	Team           string
	Classification string
	Limit          int
	Offset         int
}

// Index is the relational metadata index over pgx.
type Index struct {
	pool *pgxpool.Pool
}

// NewIndex connects to Postgres, applies pending migrations, and returns a
// ready index.
func NewIndex(ctx context.Context, cfg *config.StoreConfig) (*Index, error) {
	if err := runMigrations(cfg.DSN(), cfg.DBName); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Index{pool: pool}, nil
}

// NewIndexFromPool wraps an existing pool (useful for testing).
func NewIndexFromPool(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Close releases the connection pool.
func (ix *Index) Close() {
	ix.pool.Close()
}

// Ping reports index reachability for health checks.
func (ix *Index) Ping(ctx context.Context) error {
	return ix.pool.Ping(ctx)
}

// runMigrations applies embedded SQL migrations using golang-migrate. A
// short-lived database/sql connection is used; pool queries go through pgx
// directly.
func runMigrations(dsn, dbName string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migrate driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("closing migration source: %w", err)
	}
	return nil
}

// UpsertRun records one completed run: the case row is created or refreshed
// and the run row inserted, in a single transaction.
func (ix *Index) UpsertRun(ctx context.Context, inv *models.Investigation, reportKey string) error {
	if inv.Analysis == nil {
		return fmt.Errorf("investigation %s has no analysis", inv.RunID)
	}
	analysisJSON, err := json.Marshal(inv.Analysis)
	if err != nil {
		return fmt.Errorf("encoding analysis for run %s: %w", inv.RunID, err)
	}

	scores := inv.Analysis.Scores
	team := ""
	severity := ""
	if inv.Alert != nil {
		team = inv.Alert.Label(models.LabelTeam)
		severity = inv.Alert.Severity()
	}

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO cases (case_id, created_at, updated_at, status, latest_one_liner, latest_run_id,
		                   team, family, severity, classification, impact, confidence, noise)
		VALUES ($1, $2, $2, 'open', $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (case_id) DO UPDATE SET
			updated_at       = EXCLUDED.updated_at,
			latest_one_liner = EXCLUDED.latest_one_liner,
			latest_run_id    = EXCLUDED.latest_run_id,
			severity         = EXCLUDED.severity,
			classification   = EXCLUDED.classification,
			impact           = EXCLUDED.impact,
			confidence       = EXCLUDED.confidence,
			noise            = EXCLUDED.noise`,
		inv.CaseID, inv.CreatedAt, inv.OneLiner(), inv.RunID,
		team, string(inv.Family), severity, string(scores.Classification),
		scores.Impact, scores.Confidence, scores.Noise)
	if err != nil {
		return fmt.Errorf("upserting case %s: %w", inv.CaseID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (run_id, case_id, created_at, report_key, analysis_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO NOTHING`,
		inv.RunID, inv.CaseID, inv.CreatedAt, reportKey, analysisJSON)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", inv.RunID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing index transaction: %w", err)
	}
	return nil
}

// RecurrenceCount returns how many runs the case has had since the cutoff.
func (ix *Index) RecurrenceCount(ctx context.Context, caseID string, since time.Time) (int, error) {
	var n int
	err := ix.pool.QueryRow(ctx,
		`SELECT count(*) FROM runs WHERE case_id = $1 AND created_at >= $2`,
		caseID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting runs for case %s: %w", caseID, err)
	}
	return n, nil
}

// LastRunTime returns the newest run time for the case; ok is false when the
// case has never run.
func (ix *Index) LastRunTime(ctx context.Context, caseID string) (time.Time, bool, error) {
	var t time.Time
	err := ix.pool.QueryRow(ctx,
		`SELECT max(created_at) FROM runs WHERE case_id = $1 HAVING max(created_at) IS NOT NULL`,
		caseID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last run for case %s: %w", caseID, err)
	}
	return t, true, nil
}

// ListCases returns cases newest-activity-first, honoring the filter.
func (ix *Index) ListCases(ctx context.Context, f CaseFilter) ([]CaseRecord, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := ix.pool.Query(ctx, `
		SELECT case_id, created_at, updated_at, status, latest_one_liner, latest_run_id,
		       team, family, severity, classification, impact, confidence, noise,
		       resolution_category, resolution_summary, postmortem_link
		FROM cases
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR family = $2)
		  AND ($3 = '' OR team = $3)
		  AND ($4 = '' OR classification = $4)
		ORDER BY updated_at DESC
		LIMIT $5 OFFSET $6`,
		f.Status, f.Family, f.Team, f.Classification, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		var c CaseRecord
		if err := rows.Scan(
			&c.CaseID, &c.CreatedAt, &c.UpdatedAt, &c.Status, &c.LatestOneLiner, &c.LatestRunID,
			&c.Team, &c.Family, &c.Severity, &c.Classification, &c.Impact, &c.Confidence, &c.Noise,
			&c.ResolutionCategory, &c.ResolutionSummary, &c.PostmortemLink,
		); err != nil {
			return nil, fmt.Errorf("scanning case row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCase fetches one case by id.
func (ix *Index) GetCase(ctx context.Context, caseID string) (*CaseRecord, error) {
	var c CaseRecord
	err := ix.pool.QueryRow(ctx, `
		SELECT case_id, created_at, updated_at, status, latest_one_liner, latest_run_id,
		       team, family, severity, classification, impact, confidence, noise,
		       resolution_category, resolution_summary, postmortem_link
		FROM cases WHERE case_id = $1`, caseID).Scan(
		&c.CaseID, &c.CreatedAt, &c.UpdatedAt, &c.Status, &c.LatestOneLiner, &c.LatestRunID,
		&c.Team, &c.Family, &c.Severity, &c.Classification, &c.Impact, &c.Confidence, &c.Noise,
		&c.ResolutionCategory, &c.ResolutionSummary, &c.PostmortemLink)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching case %s: %w", caseID, err)
	}
	return &c, nil
}

// ListRuns returns a case's runs, newest first.
func (ix *Index) ListRuns(ctx context.Context, caseID string, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := ix.pool.Query(ctx, `
		SELECT run_id, case_id, created_at, report_key, analysis_json
		FROM runs WHERE case_id = $1
		ORDER BY created_at DESC LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs for case %s: %w", caseID, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.CaseID, &r.CreatedAt, &r.ReportKey, &r.Analysis); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches one run by id.
func (ix *Index) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var r RunRecord
	err := ix.pool.QueryRow(ctx, `
		SELECT run_id, case_id, created_at, report_key, analysis_json
		FROM runs WHERE run_id = $1`, runID).Scan(
		&r.RunID, &r.CaseID, &r.CreatedAt, &r.ReportKey, &r.Analysis)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}
	return &r, nil
}

// CreateThread opens a chat thread on a case.
func (ix *Index) CreateThread(ctx context.Context, caseID, title string) (*ChatThread, error) {
	t := &ChatThread{
		ThreadID:  uuid.NewString(),
		CaseID:    caseID,
		CreatedAt: time.Now().UTC(),
		Title:     title,
	}
	_, err := ix.pool.Exec(ctx, `
		INSERT INTO chat_threads (thread_id, case_id, created_at, title)
		VALUES ($1, $2, $3, $4)`,
		t.ThreadID, t.CaseID, t.CreatedAt, t.Title)
	if err != nil {
		return nil, fmt.Errorf("creating thread for case %s: %w", caseID, err)
	}
	return t, nil
}

// ListThreads returns a case's chat threads, newest first.
func (ix *Index) ListThreads(ctx context.Context, caseID string) ([]ChatThread, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT thread_id, case_id, created_at, title
		FROM chat_threads WHERE case_id = $1
		ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing threads for case %s: %w", caseID, err)
	}
	defer rows.Close()

	var out []ChatThread
	for rows.Next() {
		var t ChatThread
		if err := rows.Scan(&t.ThreadID, &t.CaseID, &t.CreatedAt, &t.Title); err != nil {
			return nil, fmt.Errorf("scanning thread row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetThread fetches one thread by id.
func (ix *Index) GetThread(ctx context.Context, threadID string) (*ChatThread, error) {
	var t ChatThread
	err := ix.pool.QueryRow(ctx, `
		SELECT thread_id, case_id, created_at, title
		FROM chat_threads WHERE thread_id = $1`, threadID).Scan(
		&t.ThreadID, &t.CaseID, &t.CreatedAt, &t.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", threadID, err)
	}
	return &t, nil
}

// AddMessage appends a message to a thread.
func (ix *Index) AddMessage(ctx context.Context, threadID, role, content string) (*ChatMessage, error) {
	m := &ChatMessage{
		MessageID: uuid.NewString(),
		ThreadID:  threadID,
		CreatedAt: time.Now().UTC(),
		Role:      role,
		Content:   content,
	}
	_, err := ix.pool.Exec(ctx, `
		INSERT INTO chat_messages (message_id, thread_id, created_at, role, content)
		VALUES ($1, $2, $3, $4, $5)`,
		m.MessageID, m.ThreadID, m.CreatedAt, m.Role, m.Content)
	if err != nil {
		return nil, fmt.Errorf("adding message to thread %s: %w", threadID, err)
	}
	return m, nil
}

// ListMessages returns a thread's messages in chronological order.
func (ix *Index) ListMessages(ctx context.Context, threadID string) ([]ChatMessage, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT message_id, thread_id, created_at, role, content
		FROM chat_messages WHERE thread_id = $1
		ORDER BY created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.MessageID, &m.ThreadID, &m.CreatedAt, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddAction records an operator action. "ack" and "resolve" also move the
// case status.
func (ix *Index) AddAction(ctx context.Context, caseID, action, actor, note string) (*CaseAction, error) {
	a := &CaseAction{
		ActionID:  uuid.NewString(),
		CaseID:    caseID,
		CreatedAt: time.Now().UTC(),
		Action:    action,
		Actor:     actor,
		Note:      note,
	}

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting action transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO case_actions (action_id, case_id, created_at, action, actor, note)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ActionID, a.CaseID, a.CreatedAt, a.Action, a.Actor, a.Note)
	if err != nil {
		return nil, fmt.Errorf("recording action on case %s: %w", caseID, err)
	}

	if status, ok := statusForAction(action); ok {
		if _, err := tx.Exec(ctx,
			`UPDATE cases SET status = $1, updated_at = $2 WHERE case_id = $3`,
			status, a.CreatedAt, caseID); err != nil {
			return nil, fmt.Errorf("updating case %s status: %w", caseID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing action transaction: %w", err)
	}
	return a, nil
}

// ListActions returns a case's actions, newest first.
func (ix *Index) ListActions(ctx context.Context, caseID string) ([]CaseAction, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT action_id, case_id, created_at, action, actor, note
		FROM case_actions WHERE case_id = $1
		ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("listing actions for case %s: %w", caseID, err)
	}
	defer rows.Close()

	var out []CaseAction
	for rows.Next() {
		var a CaseAction
		if err := rows.Scan(&a.ActionID, &a.CaseID, &a.CreatedAt, &a.Action, &a.Actor, &a.Note); err != nil {
			return nil, fmt.Errorf("scanning action row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Resolve closes a case with a resolution record.
func (ix *Index) Resolve(ctx context.Context, caseID, category, summary, postmortemLink string) error {
	tag, err := ix.pool.Exec(ctx, `
		UPDATE cases SET status = 'resolved', updated_at = $1,
		       resolution_category = $2, resolution_summary = $3, postmortem_link = NULLIF($4, '')
		WHERE case_id = $5`,
		time.Now().UTC(), category, summary, postmortemLink, caseID)
	if err != nil {
		return fmt.Errorf("resolving case %s: %w", caseID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	return nil
}

func statusForAction(action string) (string, bool) {
	switch action {
	case "ack":
		return "acknowledged", true
	case "resolve":
		return "resolved", true
	default:
		return "", false
	}
}
